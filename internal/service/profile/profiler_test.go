package profile

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/domain"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name  string
		dtype domain.DType
		vals  []any
		want  domain.InferredType
	}{
		{"native int", domain.DTypeInt64, []any{int64(1)}, domain.TypeNumeric},
		{"native bool", domain.DTypeBool, []any{true}, domain.TypeBoolean},
		{"numeric strings", domain.DTypeString, []any{"1", "2.5", "3", "4", "5", "x"}, domain.TypeNumeric},
		{"too few numeric", domain.DTypeString, []any{"1", "2", "x", "y", "z"}, domain.TypeText},
		{"yes no", domain.DTypeString, []any{"yes", "no", "Yes", "n", "t"}, domain.TypeBoolean},
		{"dates", domain.DTypeString, []any{"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01", "2024-05-01"}, domain.TypeDatetime},
		{"repeating labels", domain.DTypeString, []any{"a", "b", "a", "b", "a"}, domain.TypeCategorical},
		{"free text", domain.DTypeString, []any{"alpha", "beta", "gamma", "delta", "eps"}, domain.TypeText},
		{"all null string", domain.DTypeString, nil, domain.TypeText},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferType(tc.dtype, tc.vals))
		})
	}
}

func TestProfile(t *testing.T) {
	ds, err := domain.NewDataset([]domain.Column{
		{Name: "age", DType: domain.DTypeInt64, Values: []any{int64(10), nil, int64(20), int64(30), int64(20), int64(20)}},
		{Name: "city", DType: domain.DTypeString, Values: []any{"a", "b", "a", "a", "a", "a"}},
	})
	require.NoError(t, err)

	p, err := New(slog.New(slog.DiscardHandler)).Profile(context.Background(), ds)
	require.NoError(t, err)

	assert.Equal(t, 6, p.RowCount)
	assert.Equal(t, 2, p.ColumnCount)
	assert.Equal(t, 2, p.DuplicateRows)
	assert.InDelta(t, 100.0/12, p.OverallMissingPercentage, 1e-9)

	age := p.Columns[0]
	assert.Equal(t, "age", age.Name)
	assert.Equal(t, domain.TypeNumeric, age.InferredType)
	assert.Equal(t, 1, age.NullCount)
	assert.InDelta(t, 100.0/6, age.NullPercentage, 1e-9)
	require.NotNil(t, age.UniqueCount)
	assert.Equal(t, 3, *age.UniqueCount)
	require.NotNil(t, age.Mean)
	assert.InDelta(t, 20.0, *age.Mean, 1e-12)
	assert.InDelta(t, 10.0, *age.Min, 1e-12)
	assert.InDelta(t, 30.0, *age.Max, 1e-12)
	assert.InDelta(t, 20.0, *age.Q1, 1e-12)
	assert.InDelta(t, 20.0, *age.Q3, 1e-12)
	require.NotNil(t, age.Std)
	assert.InDelta(t, 7.0710678, *age.Std, 1e-6)

	city := p.Columns[1]
	assert.Equal(t, domain.TypeCategorical, city.InferredType)
	assert.Nil(t, city.Mean)
	assert.Equal(t, 2, *city.UniqueCount)
}

func TestProfile_EmptyDataset(t *testing.T) {
	ds, err := domain.NewDataset([]domain.Column{{Name: "x", DType: domain.DTypeFloat64}})
	require.NoError(t, err)

	p, err := New(slog.New(slog.DiscardHandler)).Profile(context.Background(), ds)
	require.NoError(t, err)
	assert.Equal(t, 0, p.RowCount)
	assert.Equal(t, 0.0, p.OverallMissingPercentage)
	assert.Equal(t, 0.0, p.Columns[0].NullPercentage)
	assert.Nil(t, p.Columns[0].Mean)
}

func TestProfile_Cancelled(t *testing.T) {
	ds, err := domain.NewDataset([]domain.Column{{Name: "x", DType: domain.DTypeFloat64, Values: []any{1.0}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(slog.New(slog.DiscardHandler)).Profile(ctx, ds)
	require.Error(t, err)
}
