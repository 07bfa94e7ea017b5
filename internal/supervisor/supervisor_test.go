package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sudoghut/trendstory/internal/config"
	"github.com/sudoghut/trendstory/internal/logging"
	"github.com/sudoghut/trendstory/internal/pipeline"
	"github.com/sudoghut/trendstory/pkg/alert"
)

type fakePipeline struct {
	err  error
	runs int
}

func (f *fakePipeline) Run(ctx context.Context) (pipeline.Stats, error) {
	f.runs++
	return pipeline.Stats{Generated: 1}, f.err
}

type fakeSyncer struct {
	err   error
	syncs int
}

func (f *fakeSyncer) Sync(ctx context.Context) error {
	f.syncs++
	return f.err
}

func testSupervisor(t *testing.T) (*Supervisor, *fakePipeline, *fakeSyncer, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Run.LockPath = filepath.Join(dir, ".run.lock")
	cfg.Run.LastRunPath = filepath.Join(dir, ".last_run")

	pipe := &fakePipeline{}
	sync := &fakeSyncer{}
	return New(cfg, logging.Discard(), pipe, sync, nil), pipe, sync, cfg
}

func TestRunSuccess(t *testing.T) {
	s, pipe, sync, cfg := testSupervisor(t)

	if code := s.Run(context.Background()); code != ExitSuccess {
		t.Fatalf("exit code = %d, want %d", code, ExitSuccess)
	}
	if pipe.runs != 1 || sync.syncs != 1 {
		t.Errorf("runs=%d syncs=%d", pipe.runs, sync.syncs)
	}
	if _, err := os.Stat(cfg.Run.LastRunPath); err != nil {
		t.Errorf("last-run file: %v", err)
	}
	if _, err := os.Stat(cfg.Run.LockPath); !os.IsNotExist(err) {
		t.Errorf("lock not released: %v", err)
	}
}

func TestRunPipelineFailureSkipsSync(t *testing.T) {
	s, _, sync, cfg := testSupervisor(t)
	s.pipe.(*fakePipeline).err = errors.New("boom")

	if code := s.Run(context.Background()); code != ExitPipelineFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitPipelineFailure)
	}
	if sync.syncs != 0 {
		t.Errorf("sync ran after pipeline failure")
	}
	if _, err := os.Stat(cfg.Run.LastRunPath); !os.IsNotExist(err) {
		t.Errorf("last-run written after failure: %v", err)
	}
	// Lock released on the failure path too.
	if _, err := os.Stat(cfg.Run.LockPath); !os.IsNotExist(err) {
		t.Errorf("lock not released: %v", err)
	}
}

func TestRunSyncFailure(t *testing.T) {
	s, _, sync, cfg := testSupervisor(t)
	sync.err = errors.New("rebase conflict")

	if code := s.Run(context.Background()); code != ExitSyncFailure {
		t.Fatalf("exit code = %d, want %d", code, ExitSyncFailure)
	}
	if _, err := os.Stat(cfg.Run.LastRunPath); !os.IsNotExist(err) {
		t.Errorf("last-run written after sync failure: %v", err)
	}
}

type fakeReporter struct {
	reports []*alert.Report
}

func (f *fakeReporter) HasNotifiers() bool { return true }
func (f *fakeReporter) Broadcast(ctx context.Context, r *alert.Report) error {
	f.reports = append(f.reports, r)
	return nil
}

func TestRunReportsSuccess(t *testing.T) {
	s, _, _, _ := testSupervisor(t)
	rep := &fakeReporter{}
	s.report = rep

	if code := s.Run(context.Background()); code != ExitSuccess {
		t.Fatalf("exit code = %d", code)
	}
	if len(rep.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(rep.reports))
	}
	r := rep.reports[0]
	if r.Status != alert.StatusSuccess || r.Generated != 1 || r.Error != "" {
		t.Fatalf("report = %+v", r)
	}
}

func TestRunReportsFailure(t *testing.T) {
	s, _, sync, _ := testSupervisor(t)
	rep := &fakeReporter{}
	s.report = rep
	sync.err = errors.New("rebase conflict")

	if code := s.Run(context.Background()); code != ExitSyncFailure {
		t.Fatalf("exit code = %d", code)
	}
	if len(rep.reports) != 1 {
		t.Fatalf("got %d reports, want 1", len(rep.reports))
	}
	r := rep.reports[0]
	if r.Status != alert.StatusFailed || r.Error != "rebase conflict" {
		t.Fatalf("report = %+v", r)
	}
}

func TestRunRefusedWhileLocked(t *testing.T) {
	s, pipe, _, cfg := testSupervisor(t)
	if err := os.WriteFile(cfg.Run.LockPath, []byte("999"), 0o644); err != nil {
		t.Fatal(err)
	}
	recent := time.Now().Add(-5 * time.Minute)
	if err := os.Chtimes(cfg.Run.LockPath, recent, recent); err != nil {
		t.Fatal(err)
	}

	if code := s.Run(context.Background()); code != ExitConfigError {
		t.Fatalf("exit code = %d, want %d", code, ExitConfigError)
	}
	if pipe.runs != 0 {
		t.Errorf("pipeline ran despite held lock")
	}
	// The other run's marker must survive.
	if _, err := os.Stat(cfg.Run.LockPath); err != nil {
		t.Errorf("foreign lock removed: %v", err)
	}
}
