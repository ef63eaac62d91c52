package detect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweepRunner triggers one detection sweep. *Engine implements it, as
// does any wrapper that adds cross-replica locking or alert dispatch.
type SweepRunner interface {
	Run(ctx context.Context) (*RunResult, error)
}

// Scheduler fires periodic detection sweeps on a cron expression.
// Expressions use seconds precision and evaluate in UTC. Overlapping
// runs are skipped through the runner's own in-progress guard.
type Scheduler struct {
	runner   SweepRunner
	cron     *cron.Cron
	schedule string
	entryID  cron.EntryID
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	running bool
}

// NewScheduler validates the cron expression and registers the sweep
// job. The schedule does not tick until Start.
func NewScheduler(runner SweepRunner, schedule string, logger *zap.SugaredLogger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("sweep runner is required")
	}
	if schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}

	s := &Scheduler{
		runner:   runner,
		schedule: schedule,
		logger:   logger,
	}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(),
	)

	entryID, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, fmt.Errorf("invalid detection schedule %q: %w", schedule, err)
	}
	s.entryID = entryID

	return s, nil
}

// Start begins firing on the schedule. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	s.logger.Infof("Detection scheduler started with schedule: %s", s.schedule)
}

// Stop halts the schedule and waits for an in-flight sweep to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.running = false
	s.logger.Info("Detection scheduler stopped")
}

// IsRunning reports whether the schedule is active
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled sweep time, zero when stopped
func (s *Scheduler) NextRun() time.Time {
	entry := s.cron.Entry(s.entryID)
	if !entry.Valid() {
		return time.Time{}
	}
	return entry.Next
}

func (s *Scheduler) sweep() {
	result, err := s.runner.Run(context.Background())
	if err != nil {
		if errors.Is(err, ErrRunInProgress) {
			s.logger.Warn("Skipping scheduled sweep, previous run still active")
			return
		}
		s.logger.Errorw("Scheduled detection sweep failed", "error", err)
		return
	}

	s.logger.Infow("Scheduled detection sweep finished",
		"alerts_generated", result.AlertsGenerated,
		"rules_executed", len(result.RulesExecuted),
		"execution_time_ms", result.ExecutionTimeMS)
}
