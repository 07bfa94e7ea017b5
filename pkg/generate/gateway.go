package generate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted means every attempt failed with a retryable error.
var ErrExhausted = errors.New("generation retries exhausted")

// Logf receives attempt-level telemetry.
type Logf func(format string, args ...any)

// Gateway wraps a Caller with bounded retries. Attempts before the last
// are followed by a short wait; the last attempt is preceded by a long
// cool-down, and no wait follows it. A no-content response escalates
// immediately instead of burning the remaining attempts.
type Gateway struct {
	caller      Caller
	maxAttempts int
	shortWait   time.Duration
	longWait    time.Duration
	logf        Logf

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a gateway. Zero values fall back to the defaults:
// 4 attempts, 5s short wait, 300s cool-down.
func NewGateway(caller Caller, maxAttempts int, shortWait, longWait time.Duration, logf Logf) *Gateway {
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if shortWait <= 0 {
		shortWait = 5 * time.Second
	}
	if longWait <= 0 {
		longWait = 300 * time.Second
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Gateway{
		caller:      caller,
		maxAttempts: maxAttempts,
		shortWait:   shortWait,
		longWait:    longWait,
		logf:        logf,
		sleep:       sleepCtx,
	}
}

// CallWithRetry performs up to maxAttempts calls and returns the first
// successful content.
func (g *Gateway) CallWithRetry(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if attempt == g.maxAttempts && g.maxAttempts > 1 {
			g.logf("gateway: cooling down %s before final attempt", g.longWait)
			if err := g.sleep(ctx, g.longWait); err != nil {
				return "", err
			}
		}

		content, err := g.caller.Call(ctx, req)
		if err == nil {
			g.logf("gateway: attempt %d/%d succeeded", attempt, g.maxAttempts)
			return content, nil
		}
		if errors.Is(err, ErrNoContent) {
			g.logf("gateway: attempt %d/%d got no content, giving up", attempt, g.maxAttempts)
			return "", err
		}

		lastErr = err
		g.logf("gateway: attempt %d/%d failed: %v", attempt, g.maxAttempts, err)

		if attempt < g.maxAttempts {
			if err := g.sleep(ctx, g.shortWait); err != nil {
				return "", err
			}
		}
	}
	return "", fmt.Errorf("%w after %d attempts: %v", ErrExhausted, g.maxAttempts, lastErr)
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
