package transform

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
)

func tr(typ domain.TransformationType, col, variant string, deps ...string) domain.Transformation {
	var cols []string
	if col != "" {
		cols = []string{col}
	}
	t := domain.Transformation{
		ID:            domain.TransformationID(typ, cols, variant),
		Type:          typ,
		TargetColumns: cols,
		DependsOn:     deps,
	}
	t.Reversible = reversibleByDescriptor(t)
	return t
}

func TestBuildGraph_PrecedenceOrder(t *testing.T) {
	ts := []domain.Transformation{
		tr(domain.Normalize, "a", "zscore"),
		tr(domain.DropDuplicates, "", ""),
		tr(domain.FillMissing, "a", "mean"),
		tr(domain.EncodeCategorical, "b", "label"),
		tr(domain.CastType, "a", "float64"),
	}
	g, err := BuildGraph(ts, config.GraphConfig{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cast_type:a:float64",
		"fill_missing:a:mean",
		"encode_categorical:b:label",
		"normalize:a:zscore",
		"drop_duplicates:*",
	}, g.Order())
	assert.Equal(t, []string{"cast_type:a:float64", "fill_missing:a:mean"}, g.Dependencies("normalize:a:zscore"))
	assert.Empty(t, g.Dependencies("drop_duplicates:*"))
	assert.Equal(t, 5, g.Len())
}

func TestBuildGraph_DropDuplicatesFirst(t *testing.T) {
	ts := []domain.Transformation{
		tr(domain.FillMissing, "a", "mean"),
		tr(domain.DropDuplicates, "", ""),
	}
	g, err := BuildGraph(ts, config.GraphConfig{DropDuplicatesFirst: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"drop_duplicates:*", "fill_missing:a:mean"}, g.Order())
	assert.Equal(t, []string{"fill_missing:a:mean"}, g.Dependents("drop_duplicates:*"))
}

func TestBuildGraph_Cycle(t *testing.T) {
	tests := []struct {
		name string
		ts   []domain.Transformation
		want []string
	}{
		{
			name: "explicit",
			ts: []domain.Transformation{
				tr(domain.FillMissing, "x", "mean", "fill_missing:y:mean"),
				tr(domain.FillMissing, "y", "mean", "fill_missing:x:mean"),
			},
			want: []string{"fill_missing:x:mean", "fill_missing:y:mean", "fill_missing:x:mean"},
		},
		{
			name: "explicit against precedence",
			ts: []domain.Transformation{
				tr(domain.FillMissing, "a", "mean", "normalize:a:zscore"),
				tr(domain.Normalize, "a", "zscore"),
			},
			want: []string{"fill_missing:a:mean", "normalize:a:zscore", "fill_missing:a:mean"},
		},
		{
			name: "self",
			ts:   []domain.Transformation{tr(domain.Normalize, "a", "zscore", "normalize:a:zscore")},
			want: []string{"normalize:a:zscore", "normalize:a:zscore"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildGraph(tc.ts, config.GraphConfig{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrDependencyCycle))
			var ce *domain.DependencyCycleError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tc.want, ce.IDs)
			assert.True(t, domain.IsFatal(err))
		})
	}
}

func TestBuildGraph_InvalidPlan(t *testing.T) {
	_, err := BuildGraph([]domain.Transformation{tr(domain.Normalize, "a", "zscore", "missing")}, config.GraphConfig{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDependencyCycle))

	dup := tr(domain.Normalize, "a", "zscore")
	_, err = BuildGraph([]domain.Transformation{dup, dup}, config.GraphConfig{})
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.IssueInvalidPlan, de.Code)
}

func TestGraph_Levels(t *testing.T) {
	ts := []domain.Transformation{
		tr(domain.Normalize, "a", "zscore"),
		tr(domain.FillMissing, "a", "mean"),
		tr(domain.FillMissing, "b", "mean"),
	}
	g, err := BuildGraph(ts, config.GraphConfig{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"fill_missing:a:mean", "fill_missing:b:mean"},
		{"normalize:a:zscore"},
	}, g.Levels())
}

func TestBuildGraph_GeneratedPlansAreAcyclic(t *testing.T) {
	ts, err := NewGenerator(config.Defaults().Generation, discardLogger()).Generate(richProfile())
	require.NoError(t, err)

	for _, first := range []bool{false, true} {
		g, err := BuildGraph(ts, config.GraphConfig{DropDuplicatesFirst: first})
		require.NoError(t, err)
		order := g.Order()
		require.Len(t, order, len(ts))
		for i, id := range order {
			for _, dep := range g.Dependencies(id) {
				assert.Less(t, slices.Index(order, dep), i, "%s must follow %s", id, dep)
			}
		}
	}
}
