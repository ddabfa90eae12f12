package quality

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/config"
	"datawrangler/internal/domain"
	"datawrangler/internal/service/profile"
)

func newScorer(t *testing.T, mutate func(*config.ScoringConfig)) *Scorer {
	t.Helper()
	cfg := config.Defaults().Scoring
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := New(cfg, 42, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return s
}

func score(t *testing.T, s *Scorer, ds *domain.Dataset) domain.QualityMetrics {
	t.Helper()
	prof, err := profile.New(slog.New(slog.DiscardHandler)).Profile(context.Background(), ds)
	require.NoError(t, err)
	m, err := s.Score(ds, prof)
	require.NoError(t, err)
	return m
}

func dataset(t *testing.T, cols ...domain.Column) *domain.Dataset {
	t.Helper()
	ds, err := domain.NewDataset(cols)
	require.NoError(t, err)
	return ds
}

func assertBounded(t *testing.T, m domain.QualityMetrics) {
	t.Helper()
	for _, name := range domain.MetricNames {
		assert.GreaterOrEqual(t, m.Get(name), 0.0, name)
		assert.LessOrEqual(t, m.Get(name), 1.0, name)
	}
	assert.GreaterOrEqual(t, m.Overall, 0.0)
	assert.LessOrEqual(t, m.Overall, 1.0)
}

func TestScore_ScenarioACompleteness(t *testing.T) {
	ds := dataset(t,
		domain.Column{Name: "age", DType: domain.DTypeFloat64, Values: []any{31.0, nil, nil}},
		domain.Column{Name: "city", DType: domain.DTypeString, Values: []any{"oslo", "rome", "lima"}},
		domain.Column{Name: "name", DType: domain.DTypeString, Values: []any{"ann", "bob", "cy"}},
	)
	m := score(t, newScorer(t, nil), ds)
	assert.InDelta(t, 1-2.0/9, m.Completeness, 1e-9)
	assert.InDelta(t, 0.778, m.Completeness, 1e-3)
	assert.Equal(t, 1.0, m.Consistency)
	assert.Equal(t, 1.0, m.Uniqueness)
	assert.Equal(t, 1.0, m.SampleFraction)
	assertBounded(t, m)
}

func TestScore_Bounds(t *testing.T) {
	tests := []struct {
		name string
		ds   func(t *testing.T) *domain.Dataset
		want domain.QualityMetrics
	}{
		{
			name: "empty",
			ds:   func(t *testing.T) *domain.Dataset { return dataset(t) },
			want: domain.QualityMetrics{Completeness: 1, Consistency: 1, Validity: 1, Uniqueness: 1, Overall: 1, SampleFraction: 1},
		},
		{
			name: "all null",
			ds: func(t *testing.T) *domain.Dataset {
				return dataset(t, domain.Column{Name: "x", DType: domain.DTypeFloat64, Values: []any{nil, nil, nil, nil}})
			},
			want: domain.QualityMetrics{Completeness: 0, Consistency: 1, Validity: 1, Uniqueness: 0.25, Overall: 0.7, SampleFraction: 1},
		},
		{
			name: "all unique",
			ds: func(t *testing.T) *domain.Dataset {
				return dataset(t, domain.Column{Name: "x", DType: domain.DTypeInt64, Values: []any{int64(1), int64(2), int64(3), int64(4)}})
			},
			want: domain.QualityMetrics{Completeness: 1, Consistency: 1, Validity: 1, Uniqueness: 1, Overall: 1, SampleFraction: 1},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := score(t, newScorer(t, nil), tc.ds(t))
			assertBounded(t, m)
			assert.InDelta(t, tc.want.Completeness, m.Completeness, 1e-9)
			assert.InDelta(t, tc.want.Consistency, m.Consistency, 1e-9)
			assert.InDelta(t, tc.want.Validity, m.Validity, 1e-9)
			assert.InDelta(t, tc.want.Uniqueness, m.Uniqueness, 1e-9)
			assert.InDelta(t, tc.want.Overall, m.Overall, 1e-9)
		})
	}
}

func TestScore_ConsistencyAndValidity(t *testing.T) {
	ds := dataset(t,
		// 5 of 6 parse as numbers, so the column is numeric and "n/a" is inconsistent
		domain.Column{Name: "amount", DType: domain.DTypeString, Values: []any{"1", "2", "3", "4", "5", "n/a"}},
		domain.Column{Name: "note", DType: domain.DTypeString, Values: []any{"x", " ", "y", "z", "w", "v"}},
	)
	s := newScorer(t, nil)
	m := score(t, s, ds)
	assert.InDelta(t, 11.0/12, m.Consistency, 1e-9)
	// "n/a" is not a number and " " is blank
	assert.InDelta(t, 10.0/12, m.Validity, 1e-9)

	ranged := newScorer(t, func(c *config.ScoringConfig) {
		c.ValidRanges = map[string]config.Range{"amount": {Min: 2, Max: 3}}
	})
	m = score(t, ranged, ds)
	assert.InDelta(t, 7.0/12, m.Validity, 1e-9)
}

func TestScore_OutlierFences(t *testing.T) {
	ds := dataset(t, domain.Column{Name: "v", DType: domain.DTypeFloat64, Values: []any{1.0, 2.0, 2.0, 3.0, 100.0}})
	m := score(t, newScorer(t, nil), ds)
	assert.InDelta(t, 0.8, m.Validity, 1e-9)
}

func TestScore_Datetime(t *testing.T) {
	ds := dataset(t, domain.Column{Name: "at", DType: domain.DTypeDatetime, Values: []any{time.Time{}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}})
	m := score(t, newScorer(t, nil), ds)
	assert.InDelta(t, 0.5, m.Validity, 1e-9)
}

func TestScore_Sampling(t *testing.T) {
	vals := make([]any, 100)
	for i := range vals {
		vals[i] = int64(i % 10)
	}
	ds := dataset(t, domain.Column{Name: "x", DType: domain.DTypeInt64, Values: vals})
	small := func(c *config.ScoringConfig) {
		c.SampleThreshold = 20
		c.SampleSize = 10
	}

	a := score(t, newScorer(t, small), ds)
	b := score(t, newScorer(t, small), ds)
	assert.Equal(t, a, b)
	assert.InDelta(t, 0.1, a.SampleFraction, 1e-12)
	assertBounded(t, a)

	full := score(t, newScorer(t, nil), ds)
	assert.Equal(t, 1.0, full.SampleFraction)
	assert.InDelta(t, 0.1, full.Uniqueness, 1e-12)
}

func TestNew_RejectsWeights(t *testing.T) {
	cfg := config.Defaults().Scoring
	cfg.Weights.Uniqueness = 0.5
	_, err := New(cfg, 1, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))
}

func TestScore_NilDataset(t *testing.T) {
	_, err := newScorer(t, nil).Score(nil, nil)
	var de *domain.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.StageScoring, de.Stage)
}

func TestCompare(t *testing.T) {
	before := domain.QualityMetrics{Completeness: 0.7, Consistency: 1, Validity: 0.9, Uniqueness: 1, Overall: 0.87}
	after := domain.QualityMetrics{Completeness: 1, Consistency: 1, Validity: 0.85, Uniqueness: 1, Overall: 0.94}
	d := Compare(before, after)
	assert.InDelta(t, 0.3, d.Improvement.Completeness, 1e-9)
	assert.InDelta(t, -0.05, d.Improvement.Validity, 1e-9)
	assert.InDelta(t, 0.07, d.CompositeDelta, 1e-9)
	assert.Equal(t, before, d.Before)
	assert.Equal(t, after, d.After)
}
