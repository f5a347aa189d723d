package tunnel

import (
	"context"
	"time"
)

// ReconnectConfig tunes the exponential backoff a client-side tunnel uses
// after an unexpected disconnect.
type ReconnectConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	MaxAttempts int // 0 = unlimited
}

// DefaultReconnectConfig backs off at 0.5s × 2^attempt, capped.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{BaseDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second}
}

// delayForAttempt returns 0.5s × 2^attempt, capped at MaxDelay.
func (c ReconnectConfig) delayForAttempt(attempt int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if c.MaxDelay > 0 && d >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return d
}

// Reconnect opens a new tunnel using connect, retrying with exponential backoff
// on failure until it succeeds, ctx is cancelled, or MaxAttempts is
// exhausted.
func Reconnect(ctx context.Context, cfg ReconnectConfig, connect func(ctx context.Context) (*Tunnel, error)) (*Tunnel, error) {
	var lastErr error
	for attempt := 0; cfg.MaxAttempts == 0 || attempt < cfg.MaxAttempts; attempt++ {
		t, err := connect(ctx)
		if err == nil {
			return t, nil
		}
		lastErr = err

		delay := cfg.delayForAttempt(attempt)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Supervise keeps a tunnel alive: it runs connect to establish the initial
// tunnel, then whenever the tunnel closes unexpectedly (reason != "closed",
// the value Tunnel.Close itself reports) it reconnects with backoff and
// calls onReconnect with the fresh tunnel. Supervise returns when ctx is
// cancelled or connect permanently fails under cfg.MaxAttempts.
func Supervise(ctx context.Context, cfg ReconnectConfig, connect func(ctx context.Context) (*Tunnel, error), onReconnect func(*Tunnel)) error {
	t, err := Reconnect(ctx, cfg, connect)
	if err != nil {
		return err
	}
	onReconnect(t)

	for {
		closedReason := make(chan string, 1)
		t.OnClosed = func(reason string) { closedReason <- reason }

		select {
		case reason := <-closedReason:
			if reason == "closed" {
				return nil // intentional shutdown, do not reconnect
			}
		case <-ctx.Done():
			t.Close()
			return ctx.Err()
		}

		next, err := Reconnect(ctx, cfg, connect)
		if err != nil {
			return err
		}
		t = next
		onReconnect(t)
	}
}
