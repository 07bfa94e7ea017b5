// Package supervisor wraps a pipeline run with process-level mutual
// exclusion and the publish/sync phase, mapping outcomes to distinct
// exit codes for the external scheduler.
package supervisor

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/sudoghut/trendstory/internal/config"
	"github.com/sudoghut/trendstory/internal/logging"
	"github.com/sudoghut/trendstory/internal/pipeline"
	"github.com/sudoghut/trendstory/internal/store"
	"github.com/sudoghut/trendstory/pkg/alert"
)

// Exit codes, distinguishable by the scheduler.
const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitPipelineFailure = 2
	ExitSyncFailure     = 3
)

// PipelineRunner executes the content pipeline.
type PipelineRunner interface {
	Run(ctx context.Context) (pipeline.Stats, error)
}

// Syncer executes the publish phase.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Reporter delivers the end-of-run report. May be nil.
type Reporter interface {
	HasNotifiers() bool
	Broadcast(ctx context.Context, r *alert.Report) error
}

// Supervisor is the run state machine: acquire lock, run pipeline, and
// only on full success sync and stamp the last-run file. The lock is
// released on every path out.
type Supervisor struct {
	cfg    *config.Config
	log    *logging.Logger
	pipe   PipelineRunner
	sync   Syncer
	report Reporter

	now func() time.Time
}

// New wires a supervisor. report may be nil to disable notifications.
func New(cfg *config.Config, log *logging.Logger, pipe PipelineRunner, sync Syncer, report Reporter) *Supervisor {
	return &Supervisor{cfg: cfg, log: log, pipe: pipe, sync: sync, report: report, now: time.Now}
}

// Run executes one supervised run and returns the process exit code.
func (s *Supervisor) Run(ctx context.Context) int {
	lock := NewLock(s.cfg.Run.LockPath, s.cfg.Run.LockStale())
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.log.Warnf("supervisor: %v", err)
		} else {
			s.log.Errorf("supervisor: lock: %v", err)
		}
		return ExitConfigError
	}
	defer lock.Release()

	stats, err := s.pipe.Run(ctx)
	if err != nil {
		s.log.Errorf("supervisor: pipeline failed: %v", err)
		s.notify(ctx, stats, err)
		return ExitPipelineFailure
	}
	s.log.Infof("supervisor: pipeline succeeded (%d generated, %d skipped, %d failed)",
		stats.Generated, stats.Skipped, stats.Failed)

	if err := s.sync.Sync(ctx); err != nil {
		s.log.Errorf("supervisor: sync failed: %v", err)
		s.notify(ctx, stats, err)
		return ExitSyncFailure
	}

	s.writeLastRun()
	s.notify(ctx, stats, nil)
	s.log.Infof("supervisor: run complete")
	return ExitSuccess
}

// notify broadcasts the run report. Best effort: delivery failures are
// logged and never change the exit code.
func (s *Supervisor) notify(ctx context.Context, stats pipeline.Stats, runErr error) {
	if s.report == nil || !s.report.HasNotifiers() {
		return
	}
	r := &alert.Report{
		Date:      s.now().Format(store.DateFormat),
		Status:    alert.StatusSuccess,
		Generated: stats.Generated,
		Skipped:   stats.Skipped,
		Failed:    stats.Failed,
	}
	if runErr != nil {
		r.Status = alert.StatusFailed
		r.Error = runErr.Error()
	}
	if err := s.report.Broadcast(ctx, r); err != nil {
		s.log.Errorf("supervisor: notify: %v", err)
	}
}

// writeLastRun stamps the last fully-successful run. Best effort: a
// write failure is logged, not escalated.
func (s *Supervisor) writeLastRun() {
	ts := s.now().UTC().Format(time.RFC3339)
	if err := os.WriteFile(s.cfg.Run.LastRunPath, []byte(ts+"\n"), 0o644); err != nil {
		s.log.Errorf("supervisor: write last-run timestamp: %v", err)
		return
	}
	s.log.Infof("supervisor: last run %s", ts)
}
