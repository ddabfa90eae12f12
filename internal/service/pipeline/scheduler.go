package pipeline

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"datawrangler/internal/config"
)

// Runner starts a run. *Service implements it.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*PipelineResult, error)
}

// Scheduler triggers runs on cron schedules. Triggers beyond the configured
// rate are dropped, so a slow run cannot pile up behind itself.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	limiter *rate.Limiter
	logger  *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	schedules []config.ScheduleConfig
	entries   map[string]cron.EntryID // schedule name → cron entry
}

// NewScheduler creates a scheduler for the given schedules.
func NewScheduler(runner Runner, schedules []config.ScheduleConfig, limits config.SchedulerConfig, logger *slog.Logger) *Scheduler {
	limit := rate.Inf
	if limits.MaxRunsPerMinute > 0 {
		limit = rate.Limit(limits.MaxRunsPerMinute / 60)
	}
	return &Scheduler{
		cron:      cron.New(),
		runner:    runner,
		limiter:   rate.NewLimiter(limit, max(limits.Burst, 1)),
		logger:    logger,
		ctx:       context.Background(),
		schedules: schedules,
		entries:   make(map[string]cron.EntryID),
	}
}

// Start registers the schedules and starts the cron scheduler. Runs use ctx
// as their parent context.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.load()
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.entries))
	return nil
}

// Stop stops the cron scheduler and waits for running triggers.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Reload replaces all schedules.
func (s *Scheduler) Reload(schedules []config.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[string]cron.EntryID)
	s.schedules = schedules
	s.load()
}

// Entries returns the names of the registered schedules.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// load adds every valid schedule to cron. Callers hold s.mu.
func (s *Scheduler) load() {
	for _, sc := range s.schedules {
		id, err := s.cron.AddFunc(sc.Cron, func() { s.trigger(sc) })
		if err != nil {
			s.logger.Warn("invalid cron schedule",
				"schedule", sc.Name,
				"cron", sc.Cron,
				"error", err,
			)
			continue
		}
		s.entries[sc.Name] = id
		s.logger.Info("scheduled run", "schedule", sc.Name, "cron", sc.Cron, "dataset", sc.Dataset)
	}
}

// trigger starts one scheduled run unless the rate limit is exhausted. It
// reports whether a run was started.
func (s *Scheduler) trigger(sc config.ScheduleConfig) bool {
	if !s.limiter.Allow() {
		s.logger.Warn("scheduled run throttled", "schedule", sc.Name)
		return false
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	res, err := s.runner.Run(ctx, RunRequest{Source: sc.Dataset})
	if err != nil {
		s.logger.Warn("scheduled run failed", "schedule", sc.Name, "error", err)
		return true
	}
	s.logger.Info("scheduled run finished", "schedule", sc.Name, "run_id", res.RunID, "ranked", len(res.Ranked))
	return true
}

var _ Runner = (*Service)(nil)
