package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datawrangler/internal/config"
)

type mockRunner struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (m *mockRunner) Run(_ context.Context, req RunRequest) (*PipelineResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources = append(m.sources, req.Source)
	if m.err != nil {
		return nil, m.err
	}
	return &PipelineResult{RunID: "run-" + req.Source}, nil
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		schedules []config.ScheduleConfig
		want      []string
	}{
		{
			name: "registers valid schedules",
			schedules: []config.ScheduleConfig{
				{Name: "nightly", Cron: "0 2 * * *", Dataset: "orders.csv"},
				{Name: "hourly", Cron: "@hourly", Dataset: "events.csv"},
			},
			want: []string{"hourly", "nightly"},
		},
		{
			name: "skips invalid cron",
			schedules: []config.ScheduleConfig{
				{Name: "broken", Cron: "not a cron", Dataset: "x.csv"},
				{Name: "ok", Cron: "*/5 * * * *", Dataset: "y.csv"},
			},
			want: []string{"ok"},
		},
		{
			name: "no schedules",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := NewScheduler(&mockRunner{}, tt.schedules, config.SchedulerConfig{}, discardLogger())
			t.Cleanup(s.Stop)

			require.NoError(t, s.Start(context.Background()))
			assert.Equal(t, tt.want, s.Entries())
		})
	}
}

func TestScheduler_Reload(t *testing.T) {
	t.Parallel()

	s := NewScheduler(&mockRunner{}, []config.ScheduleConfig{
		{Name: "a", Cron: "@daily", Dataset: "a.csv"},
	}, config.SchedulerConfig{}, discardLogger())
	t.Cleanup(s.Stop)
	require.NoError(t, s.Start(context.Background()))

	s.Reload([]config.ScheduleConfig{
		{Name: "b", Cron: "@daily", Dataset: "b.csv"},
		{Name: "c", Cron: "@weekly", Dataset: "c.csv"},
	})
	assert.Equal(t, []string{"b", "c"}, s.Entries())
}

func TestScheduler_Trigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		limits    config.SchedulerConfig
		runErr    error
		triggers  int
		wantRuns  int
		wantFirst bool
	}{
		{"unlimited", config.SchedulerConfig{}, nil, 3, 3, true},
		{"throttled after burst", config.SchedulerConfig{MaxRunsPerMinute: 1, Burst: 2}, nil, 4, 2, true},
		{"run failure still counts", config.SchedulerConfig{}, errors.New("boom"), 2, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := &mockRunner{err: tt.runErr}
			sc := config.ScheduleConfig{Name: "s", Cron: "@daily", Dataset: "data.csv"}
			s := NewScheduler(runner, []config.ScheduleConfig{sc}, tt.limits, discardLogger())

			started := 0
			first := false
			for i := 0; i < tt.triggers; i++ {
				ok := s.trigger(sc)
				if i == 0 {
					first = ok
				}
				if ok {
					started++
				}
			}
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantRuns, started)
			assert.Len(t, runner.sources, tt.wantRuns)
			for _, src := range runner.sources {
				assert.Equal(t, "data.csv", src)
			}
		})
	}
}
