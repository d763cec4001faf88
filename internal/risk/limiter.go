// Package risk enforces per-wallet exposure limits inside a contest
// account.
//
// Leverage concentrates loss: a 20x position liquidates on a 5% move, so a
// single account stacking notional across assets can wipe out before a
// revaluation tick lands. This package caps both the notional in any single
// asset and the aggregate margin committed across all open positions.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/model"
)

var (
	// ErrAssetLimitExceeded is returned when a position would push the
	// notional held in a single asset beyond the per-asset maximum.
	ErrAssetLimitExceeded = errors.New("risk: per-asset notional limit exceeded")

	// ErrMarginLimitExceeded is returned when a position would push the
	// total margin committed across all open positions beyond the maximum
	// fraction of the starting balance.
	ErrMarginLimitExceeded = errors.New("risk: total margin limit exceeded")
)

// PositionLimiter enforces notional and margin caps at position open.
type PositionLimiter struct {
	// MaxAssetNotional is the maximum notional size in any single asset.
	MaxAssetNotional decimal.Decimal

	// MaxMarginFraction is the maximum share of the starting balance that
	// may be committed as margin at once (e.g. 0.9 leaves a 10% buffer).
	MaxMarginFraction decimal.Decimal
}

// NewPositionLimiter creates a limiter with the given caps.
func NewPositionLimiter(maxAssetNotional, maxMarginFraction decimal.Decimal) *PositionLimiter {
	return &PositionLimiter{
		MaxAssetNotional:  maxAssetNotional,
		MaxMarginFraction: maxMarginFraction,
	}
}

// CheckLimit validates whether opening a position respects the caps.
//
// Parameters:
//   - account: the contest account the position would be added to
//   - asset: asset being traded
//   - size: notional size of the new position
//   - margin: size / leverage for the new position
//
// Returns nil if within limits, or an error describing the violation.
func (l *PositionLimiter) CheckLimit(account *model.Account, asset string, size, margin decimal.Decimal) error {
	// 1. Per-asset notional.
	inAsset := size
	for _, p := range account.Positions {
		if p.Asset == asset {
			inAsset = inAsset.Add(p.Size)
		}
	}
	if inAsset.GreaterThan(l.MaxAssetNotional) {
		return ErrAssetLimitExceeded
	}

	// 2. Aggregate margin across all open positions.
	totalMargin := margin
	for _, p := range account.Positions {
		totalMargin = totalMargin.Add(p.Margin())
	}
	if totalMargin.GreaterThan(account.StartingBalance.Mul(l.MaxMarginFraction)) {
		return ErrMarginLimitExceeded
	}

	return nil
}
