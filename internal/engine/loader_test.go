package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/domain"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSourceQuery(t *testing.T) {
	tests := []struct {
		source  string
		want    string
		wantErr bool
	}{
		{"data/orders.csv", "SELECT * FROM read_csv_auto('data/orders.csv')", false},
		{"o'brien.parquet", "SELECT * FROM read_parquet('o''brien.parquet')", false},
		{"events.JSONL", "SELECT * FROM read_json_auto('events.JSONL')", false},
		{"query: SELECT 1", "SELECT 1", false},
		{"query:", "", true},
		{"data.xlsx", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.source, func(t *testing.T) {
			got, err := sourceQuery(tc.source)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDtypeOf(t *testing.T) {
	assert.Equal(t, domain.DTypeInt64, dtypeOf("INTEGER"))
	assert.Equal(t, domain.DTypeFloat64, dtypeOf("DECIMAL(18,3)"))
	assert.Equal(t, domain.DTypeDatetime, dtypeOf("TIMESTAMP WITH TIME ZONE"))
	assert.Equal(t, domain.DTypeDatetime, dtypeOf("DATE"))
	assert.Equal(t, domain.DTypeBool, dtypeOf("BOOLEAN"))
	assert.Equal(t, domain.DTypeString, dtypeOf("VARCHAR"))
	assert.Equal(t, domain.DTypeString, dtypeOf("UUID"))
}

func TestLoad_Query(t *testing.T) {
	e := openTestEngine(t)

	ds, err := e.Load(context.Background(),
		"query:SELECT * FROM (VALUES (1, 'a', 1.5, true), (NULL, 'b', NULL, false)) t(id, name, score, ok)")
	require.NoError(t, err)

	require.Equal(t, 2, ds.NumRows())
	assert.Equal(t, []string{"id", "name", "score", "ok"}, ds.ColumnNames())
	assert.Equal(t, domain.DTypeInt64, ds.Columns[0].DType)
	assert.Equal(t, []any{int64(1), nil}, ds.Columns[0].Values)
	assert.Equal(t, []any{"a", "b"}, ds.Columns[1].Values)
	assert.Equal(t, domain.DTypeFloat64, ds.Columns[2].DType)
	assert.Equal(t, []any{true, false}, ds.Columns[3].Values)
	assert.Equal(t, []int64{0, 1}, ds.RowIDs)
}

func TestLoad_CSVAndWriteRoundTrip(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "people.csv")
	require.NoError(t, os.WriteFile(src, []byte("age,city\n31,Oslo\n,Bergen\n45,Oslo\n"), 0o600))

	ds, err := e.Load(ctx, src)
	require.NoError(t, err)
	require.Equal(t, 3, ds.NumRows())
	assert.Nil(t, ds.Columns[0].Values[1])
	assert.Equal(t, domain.DTypeInt64, ds.Columns[0].DType)

	for _, ext := range []string{".csv", ".parquet"} {
		out := filepath.Join(dir, "out"+ext)
		require.NoError(t, e.Write(ctx, ds, out))

		back, err := e.Load(ctx, out)
		require.NoError(t, err)
		ok, diff := ds.EqualWithin(back, 0)
		assert.True(t, ok, "%s: %s", ext, diff)
	}
}

func TestWrite_Datetime(t *testing.T) {
	e := openTestEngine(t)
	ctx := context.Background()

	ts := time.Date(2024, 2, 29, 13, 45, 0, 0, time.UTC)
	ds, err := domain.NewDataset([]domain.Column{
		{Name: "at", DType: domain.DTypeDatetime, Values: []any{ts, nil}},
	})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "at.parquet")
	require.NoError(t, e.Write(ctx, ds, out))

	back, err := e.Load(ctx, out)
	require.NoError(t, err)
	got, ok := back.Columns[0].Values[0].(time.Time)
	require.True(t, ok)
	assert.True(t, ts.Equal(got))
	assert.Nil(t, back.Columns[0].Values[1])
}

func TestWrite_UnsupportedFormat(t *testing.T) {
	e := openTestEngine(t)
	ds, err := domain.NewDataset(nil)
	require.NoError(t, err)
	require.Error(t, e.Write(context.Background(), ds, filepath.Join(t.TempDir(), "x.xlsx")))
}
