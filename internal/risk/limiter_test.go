package risk_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/risk"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func account(positions ...*model.Position) *model.Account {
	return &model.Account{
		Balance:         d(10000),
		StartingBalance: d(10000),
		Positions:       positions,
	}
}

func pos(asset string, size decimal.Decimal, leverage int64) *model.Position {
	return &model.Position{
		ID:       "p-" + asset,
		Asset:    asset,
		Side:     model.SideLong,
		Leverage: leverage,
		Size:     size,
		OpenedAt: time.Now().UTC(),
	}
}

func TestCheckLimit_WithinLimits(t *testing.T) {
	l := risk.NewPositionLimiter(d(5000), d(0.9))
	acct := account(pos("BTC", d(1000), 10))

	if err := l.CheckLimit(acct, "SOL", d(2000), d(200)); err != nil {
		t.Errorf("expected trade within limits, got %v", err)
	}
}

func TestCheckLimit_PerAssetExceeded(t *testing.T) {
	l := risk.NewPositionLimiter(d(5000), d(0.9))
	acct := account(pos("BTC", d(4000), 10))

	err := l.CheckLimit(acct, "BTC", d(1500), d(150))
	if !errors.Is(err, risk.ErrAssetLimitExceeded) {
		t.Errorf("expected ErrAssetLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_ExactlyAtAssetLimit(t *testing.T) {
	l := risk.NewPositionLimiter(d(5000), d(0.9))
	acct := account(pos("BTC", d(4000), 10))

	// 4000 + 1000 = 5000, exactly at the limit — allowed.
	if err := l.CheckLimit(acct, "BTC", d(1000), d(100)); err != nil {
		t.Errorf("trade at limit should succeed, got %v", err)
	}
}

func TestCheckLimit_MarginExceeded(t *testing.T) {
	l := risk.NewPositionLimiter(d(100000), d(0.5))
	// 5000/2 + 4000/2 = 4500 margin already committed against a 5000 cap.
	acct := account(pos("BTC", d(5000), 2), pos("ETH", d(4000), 2))

	err := l.CheckLimit(acct, "SOL", d(4000), d(2000))
	if !errors.Is(err, risk.ErrMarginLimitExceeded) {
		t.Errorf("expected ErrMarginLimitExceeded, got %v", err)
	}
}

func TestCheckLimit_OtherAssetsDoNotCountTowardAssetCap(t *testing.T) {
	l := risk.NewPositionLimiter(d(5000), d(0.9))
	acct := account(pos("BTC", d(5000), 10), pos("ETH", d(5000), 10))

	if err := l.CheckLimit(acct, "SOL", d(5000), d(500)); err != nil {
		t.Errorf("unrelated assets should not count toward the per-asset cap: %v", err)
	}
}
