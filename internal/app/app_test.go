package app

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/config"
	"datawrangler/internal/db"
	"datawrangler/internal/domain"
	"datawrangler/internal/service/pipeline"
)

func TestNew_WiresPipeline(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.State.DBPath = filepath.Join(t.TempDir(), "state.sqlite")
	cfg.Schedules = []config.ScheduleConfig{{Name: "nightly", Cron: "0 2 * * *", Dataset: "orders.csv"}}

	reg := prometheus.NewRegistry()
	a, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler), Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, a.Close()) })

	version, err := db.SchemaVersion(context.Background(), a.Store.Read)
	require.NoError(t, err)
	assert.Positive(t, version)

	res, err := a.Pipeline.Run(context.Background(), pipeline.RunRequest{
		Source: "query: SELECT * FROM (VALUES (1.0, 'a'), (NULL, 'b'), (3.0, 'a')) t(x, c)",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StepDone, res.State.CurrentStep)

	runs, err := a.Pipeline.ListRuns(context.Background(), domain.RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "wrangler_runs_total")
}

func TestNew_BadStatePath(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.State.DBPath = filepath.Join(t.TempDir(), "missing", "dir", "state.sqlite")

	_, err := New(context.Background(), Deps{Cfg: cfg, Logger: slog.New(slog.DiscardHandler)})
	require.Error(t, err)
}
