// Package chain submits contest outcomes to the permanent ledger. The
// engine treats the chain as an eventually consistent audit surface:
// in-memory settlement is authoritative and submissions retry in the
// background.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solclash/contest-engine/internal/model"
)

// Client writes terminal contest state to the permanent ledger.
type Client interface {
	// SubmitSignedTrades records a wallet's verified signed-trade log for a
	// contest. Returns a transaction reference usable for later audit.
	SubmitSignedTrades(ctx context.Context, contestRef, wallet string, trades []model.SignedTrade) (string, error)

	// SettleOnChain records the contest outcome. A push settles with an
	// empty winner.
	SettleOnChain(ctx context.Context, contestRef, winner string) (string, error)
}

// Noop discards submissions. Used when no ledger endpoint is configured.
type Noop struct{}

func (Noop) SubmitSignedTrades(_ context.Context, contestRef, wallet string, _ []model.SignedTrade) (string, error) {
	return "noop:" + contestRef + ":" + wallet, nil
}

func (Noop) SettleOnChain(_ context.Context, contestRef, _ string) (string, error) {
	return "noop:" + contestRef, nil
}

// CalculateBackoff returns the delay before retry attempt n (0-based):
// base<<n capped at max.
func CalculateBackoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// Retrier wraps a Client with bounded exponential-backoff retries.
type Retrier struct {
	Client      Client
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetrier applies the standard retry policy: 5 attempts, 1s base, 60s
// cap.
func NewRetrier(client Client) *Retrier {
	return &Retrier{
		Client:      client,
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// SubmitSignedTrades retries the wrapped client until success, attempt
// exhaustion or context cancellation.
func (r *Retrier) SubmitSignedTrades(ctx context.Context, contestRef, wallet string, trades []model.SignedTrade) (string, error) {
	return r.retry(ctx, contestRef, func(ctx context.Context) (string, error) {
		return r.Client.SubmitSignedTrades(ctx, contestRef, wallet, trades)
	})
}

// SettleOnChain retries the wrapped client until success, attempt
// exhaustion or context cancellation.
func (r *Retrier) SettleOnChain(ctx context.Context, contestRef, winner string) (string, error) {
	return r.retry(ctx, contestRef, func(ctx context.Context) (string, error) {
		return r.Client.SettleOnChain(ctx, contestRef, winner)
	})
}

func (r *Retrier) retry(ctx context.Context, contestRef string, call func(context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		ref, err := call(ctx)
		if err == nil {
			return ref, nil
		}
		lastErr = err
		delay := CalculateBackoff(attempt, r.BaseDelay, r.MaxDelay)
		slog.Warn("ledger submission failed, retrying",
			"contest", contestRef, "attempt", attempt+1, "delay", delay, "err", err)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("ledger submission exhausted %d attempts: %w", r.MaxAttempts, lastErr)
}
