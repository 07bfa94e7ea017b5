package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os/exec"
	"strings"
	"time"

	"github.com/sudoghut/trendstory/internal/config"
	"github.com/sudoghut/trendstory/internal/logging"
)

const (
	gitTimeout    = 5 * time.Minute
	gitRetries    = 3
	gitRetryDelay = 2 * time.Second
)

// gitFunc runs one git command and reports its exit code. err is
// non-nil only when the command could not be run at all.
type gitFunc func(ctx context.Context, args ...string) (out string, code int, err error)

// GitSync publishes the run's output: commit local changes, reconcile
// with the remote via fetch/rebase, push. Runtime-only paths (lock
// marker, logs, last-run timestamp) are kept out of the history.
type GitSync struct {
	cfg          config.GitConfig
	log          *logging.Logger
	runtimePaths []string
	runtimeDirs  []string

	git   gitFunc
	sleep func(ctx context.Context, d time.Duration) error
}

// NewGitSync creates the sync phase for the repo at cfg.Git.Dir.
func NewGitSync(cfg *config.Config, log *logging.Logger) *GitSync {
	return &GitSync{
		cfg:          cfg.Git,
		log:          log,
		runtimePaths: []string{cfg.Run.LockPath, cfg.Run.LastRunPath},
		runtimeDirs:  []string{cfg.Run.LogDir},
		git:          execGit(cfg.Git.Dir),
		sleep:        sleepCtx,
	}
}

func execGit(dir string) gitFunc {
	return func(ctx context.Context, args ...string) (string, int, error) {
		ctx, cancel := context.WithTimeout(ctx, gitTimeout)
		defer cancel()
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		trimmed := strings.TrimSpace(string(out))
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return trimmed, exitErr.ExitCode(), nil
			}
			return trimmed, -1, err
		}
		return trimmed, 0, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// run executes one git command and fails on any nonzero exit.
func (g *GitSync) run(ctx context.Context, args ...string) (string, error) {
	out, code, err := g.git(ctx, args...)
	if err != nil {
		return out, fmt.Errorf("git %s: %w", args[0], err)
	}
	if code != 0 {
		return out, fmt.Errorf("git %s exited %d: %s", args[0], code, out)
	}
	return out, nil
}

// Sync runs the publish sequence. A rebase conflict is aborted and
// surfaced, never force-resolved; the local commit stays for the next
// run's retry.
func (g *GitSync) Sync(ctx context.Context) error {
	if err := g.configureIdentity(ctx); err != nil {
		return err
	}
	if err := g.configureRemote(ctx); err != nil {
		return err
	}
	g.untrackRuntimePaths(ctx)

	if _, err := g.run(ctx, "add", "."); err != nil {
		return err
	}

	staged, err := g.hasStagedChanges(ctx)
	if err != nil {
		return err
	}
	if !staged {
		g.log.Infof("sync: no changes to commit")
		return nil
	}

	msg := fmt.Sprintf("Update stories %s", time.Now().Format("20060102"))
	if _, err := g.run(ctx, "commit", "-m", msg); err != nil {
		return err
	}
	g.log.Infof("sync: committed %q", msg)

	if err := g.withRetry(ctx, "fetch", "origin", g.cfg.Branch); err != nil {
		return err
	}

	g.discardRuntimeChanges(ctx)

	if out, err := g.run(ctx, "rebase", "origin/"+g.cfg.Branch); err != nil {
		g.log.Errorf("sync: rebase failed: %v (%s)", err, out)
		if _, abortErr := g.run(ctx, "rebase", "--abort"); abortErr != nil {
			g.log.Errorf("sync: rebase abort failed: %v", abortErr)
		}
		return fmt.Errorf("rebase conflict: %w", err)
	}

	if err := g.withRetry(ctx, "push", "origin", g.cfg.Branch); err != nil {
		return err
	}
	g.log.Infof("sync: pushed to origin/%s", g.cfg.Branch)
	return nil
}

func (g *GitSync) configureIdentity(ctx context.Context) error {
	if _, err := g.run(ctx, "config", "user.name", g.cfg.UserName); err != nil {
		return err
	}
	_, err := g.run(ctx, "config", "user.email", g.cfg.UserEmail)
	return err
}

func (g *GitSync) configureRemote(ctx context.Context) error {
	remote, err := tokenedURL(g.cfg.RemoteURL, g.cfg.Token)
	if err != nil {
		return err
	}
	_, err = g.run(ctx, "remote", "set-url", "origin", remote)
	return err
}

// untrackRuntimePaths drops runtime files from the index if an earlier
// version of the repo tracked them. Failures are expected and ignored.
func (g *GitSync) untrackRuntimePaths(ctx context.Context) {
	for _, p := range g.runtimePaths {
		g.git(ctx, "rm", "--cached", "--ignore-unmatch", p)
	}
	for _, d := range g.runtimeDirs {
		g.git(ctx, "rm", "--cached", "-r", "--ignore-unmatch", d)
	}
}

// discardRuntimeChanges clears residual modifications to runtime paths
// so they cannot conflict during the rebase. Failures are ignored.
func (g *GitSync) discardRuntimeChanges(ctx context.Context) {
	for _, p := range g.runtimePaths {
		g.git(ctx, "checkout", "--", p)
	}
	for _, d := range g.runtimeDirs {
		g.git(ctx, "checkout", "--", d)
		g.git(ctx, "clean", "-fd", d)
	}
}

// hasStagedChanges distinguishes "nothing to commit" from real errors:
// diff --cached --quiet exits 1 when the staged diff is non-empty.
func (g *GitSync) hasStagedChanges(ctx context.Context) (bool, error) {
	out, code, err := g.git(ctx, "diff", "--cached", "--quiet")
	if err != nil {
		return false, fmt.Errorf("git diff: %w", err)
	}
	switch code {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("git diff exited %d: %s", code, out)
	}
}

func (g *GitSync) withRetry(ctx context.Context, args ...string) error {
	var lastErr error
	for attempt := 0; attempt < gitRetries; attempt++ {
		if attempt > 0 {
			delay := gitRetryDelay * (1 << (attempt - 1))
			g.log.Infof("sync: retry %d/%d for git %s after %s", attempt+1, gitRetries, args[0], delay)
			if err := g.sleep(ctx, delay); err != nil {
				return err
			}
		}
		_, err := g.run(ctx, args...)
		if err == nil {
			return nil
		}
		lastErr = err
		g.log.Warnf("sync: %v", lastErr)
	}
	return lastErr
}

// tokenedURL embeds the credential in the https remote URL.
func tokenedURL(remote, token string) (string, error) {
	u, err := url.Parse(remote)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	if token != "" {
		u.User = url.User(token)
	}
	return u.String(), nil
}
