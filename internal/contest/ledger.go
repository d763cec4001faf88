// Package contest implements the competitive trading contest core: the
// per-player simulated account ledger, the match queue, and the engine
// driving the waiting → active → completed lifecycle.
package contest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/risk"
)

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// Ledger owns all mutations of contest accounts: opening and closing
// leveraged positions, revaluation on price ticks, and forced liquidation.
// Transport code never touches an Account directly.
type Ledger struct {
	// MinPositionSize is the smallest accepted notional size.
	MinPositionSize decimal.Decimal

	// MaintenanceMargin shifts the liquidation price slightly inside the
	// full-loss point (e.g. 0.005 = 0.5%).
	MaintenanceMargin decimal.Decimal

	limiter *risk.PositionLimiter
}

// NewLedger creates a ledger with the given sizing floor, maintenance
// margin and exposure limiter. limiter may be nil to disable exposure caps.
func NewLedger(minSize, maintenanceMargin decimal.Decimal, limiter *risk.PositionLimiter) *Ledger {
	return &Ledger{
		MinPositionSize:   minSize,
		MaintenanceMargin: maintenanceMargin,
		limiter:           limiter,
	}
}

// liquidationPrice is the level at which the position's margin is fully
// consumed:
//
//	long:  entry * (1 - 1/leverage + maintenanceMargin)
//	short: entry * (1 + 1/leverage - maintenanceMargin)
func (l *Ledger) liquidationPrice(side model.Side, entry decimal.Decimal, leverage int64) decimal.Decimal {
	inv := one.Div(decimal.NewFromInt(leverage))
	if side == model.SideLong {
		return entry.Mul(one.Sub(inv).Add(l.MaintenanceMargin))
	}
	return entry.Mul(one.Add(inv).Sub(l.MaintenanceMargin))
}

// signedChangeRatio is (current-entry)/entry for longs and its negation for
// shorts.
func signedChangeRatio(side model.Side, entry, current decimal.Decimal) decimal.Decimal {
	ratio := current.Sub(entry).Div(entry)
	if side == model.SideShort {
		ratio = ratio.Neg()
	}
	return ratio
}

// pnl is size * leverage * signedChangeRatio.
func pnl(p *model.Position, current decimal.Decimal) decimal.Decimal {
	ratio := signedChangeRatio(p.Side, p.EntryPrice, current)
	return p.Size.Mul(decimal.NewFromInt(p.Leverage)).Mul(ratio)
}

// OpenPosition deducts margin from the account balance and adds a position
// plus its opening trade record. Valid only while the contest is active;
// the engine enforces that.
func (l *Ledger) OpenPosition(acct *model.Account, asset string, side model.Side, leverage int64, size, price decimal.Decimal) (*model.Position, *model.TradeRecord, error) {
	if !side.Valid() {
		return nil, nil, fmt.Errorf("%w: side must be long or short", model.ErrValidation)
	}
	if !model.ValidLeverage(leverage) {
		return nil, nil, fmt.Errorf("%w: leverage must be one of 2, 5, 10, 20", model.ErrValidation)
	}
	if size.LessThan(l.MinPositionSize) {
		return nil, nil, fmt.Errorf("%w: size %s below minimum %s", model.ErrValidation, size, l.MinPositionSize)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, nil, fmt.Errorf("%w: no price for asset %s", model.ErrValidation, asset)
	}
	if acct.PositionInAsset(asset) != nil {
		return nil, nil, fmt.Errorf("%w: position already open in %s", model.ErrState, asset)
	}

	margin := size.Div(decimal.NewFromInt(leverage))
	if margin.GreaterThan(acct.Balance) {
		return nil, nil, fmt.Errorf("%w: margin %s exceeds balance %s", model.ErrInsufficientFunds, margin, acct.Balance)
	}
	if l.limiter != nil {
		if err := l.limiter.CheckLimit(acct, asset, size, margin); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
		}
	}

	now := time.Now().UTC()
	position := &model.Position{
		ID:               uuid.New().String(),
		Asset:            asset,
		Side:             side,
		Leverage:         leverage,
		Size:             size,
		EntryPrice:       price,
		CurrentPrice:     price,
		LiquidationPrice: l.liquidationPrice(side, price, leverage),
		OpenedAt:         now,
	}

	acct.Balance = acct.Balance.Sub(margin)
	acct.Positions = append(acct.Positions, position)

	record := &model.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: position.ID,
		Action:     model.TradeOpen,
		Asset:      asset,
		Side:       side,
		Leverage:   leverage,
		Size:       size,
		Price:      price,
		Timestamp:  now,
	}
	return position, record, nil
}

// ClosePosition realizes PnL at the given price, credits margin + pnl back
// to the balance, removes the position and returns the closing record.
func (l *Ledger) ClosePosition(acct *model.Account, positionID string, price decimal.Decimal) (*model.TradeRecord, error) {
	position := acct.Position(positionID)
	if position == nil {
		return nil, fmt.Errorf("%w: position %s", model.ErrNotFound, positionID)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: no price for asset %s", model.ErrValidation, position.Asset)
	}

	realized := pnl(position, price)
	proceeds := position.Margin().Add(realized)

	acct.Balance = acct.Balance.Add(proceeds)
	if acct.Balance.IsNegative() {
		acct.Balance = decimal.Zero
	}
	acct.ClosedPnl = acct.ClosedPnl.Add(realized)
	l.removePosition(acct, positionID)

	return &model.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: positionID,
		Action:     model.TradeClose,
		Asset:      position.Asset,
		Side:       position.Side,
		Leverage:   position.Leverage,
		Size:       position.Size,
		Price:      price,
		Pnl:        realized,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// Revalue recomputes current price and unrealized PnL for every position
// with a fresh price, force-liquidating any position whose price crossed
// its liquidation level. Returns the synthetic liquidation records.
func (l *Ledger) Revalue(acct *model.Account, prices map[string]decimal.Decimal) []*model.TradeRecord {
	var liquidated []*model.TradeRecord

	// Snapshot ids: liquidation mutates the slice.
	ids := make([]string, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		ids = append(ids, p.ID)
	}

	for _, id := range ids {
		position := acct.Position(id)
		price, ok := prices[position.Asset]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			continue
		}

		position.CurrentPrice = price
		position.UnrealizedPnl = pnl(position, price)
		position.UnrealizedPnlPercent = position.UnrealizedPnl.Div(position.Size).Mul(hundred)

		if l.crossedLiquidation(position, price) {
			liquidated = append(liquidated, l.liquidate(acct, position, price))
		}
	}

	l.refreshTotalPnl(acct)
	return liquidated
}

// crossedLiquidation uses the same inequality direction as the
// liquidation-price formula: longs liquidate at or below, shorts at or
// above.
func (l *Ledger) crossedLiquidation(p *model.Position, price decimal.Decimal) bool {
	if p.Side == model.SideLong {
		return price.LessThanOrEqual(p.LiquidationPrice)
	}
	return price.GreaterThanOrEqual(p.LiquidationPrice)
}

// liquidate forfeits the position's margin: the position is removed, the
// margin loss lands in closedPnl, and a synthetic closing trade with
// pnl = -margin is recorded. Balance is untouched — the margin was already
// deducted at open.
func (l *Ledger) liquidate(acct *model.Account, position *model.Position, price decimal.Decimal) *model.TradeRecord {
	margin := position.Margin()
	acct.ClosedPnl = acct.ClosedPnl.Sub(margin)
	l.removePosition(acct, position.ID)

	return &model.TradeRecord{
		ID:         uuid.New().String(),
		PositionID: position.ID,
		Action:     model.TradeLiquidate,
		Asset:      position.Asset,
		Side:       position.Side,
		Leverage:   position.Leverage,
		Size:       position.Size,
		Price:      price,
		Pnl:        margin.Neg(),
		Timestamp:  time.Now().UTC(),
	}
}

// ForceCloseAll closes every open position at the supplied prices, exactly
// as ClosePosition would. Positions with no known price are liquidated at
// their last seen price. Used at contest end.
func (l *Ledger) ForceCloseAll(acct *model.Account, prices map[string]decimal.Decimal) []*model.TradeRecord {
	var records []*model.TradeRecord

	for len(acct.Positions) > 0 {
		position := acct.Positions[0]
		price, ok := prices[position.Asset]
		if !ok || price.LessThanOrEqual(decimal.Zero) {
			price = position.CurrentPrice
		}
		record, err := l.ClosePosition(acct, position.ID, price)
		if err != nil {
			// Cannot happen for a position that is still in the slice.
			l.removePosition(acct, position.ID)
			continue
		}
		records = append(records, record)
	}

	l.refreshTotalPnl(acct)
	return records
}

// refreshTotalPnl recomputes the account-level PnL percentage from equity:
// balance plus the margin and unrealized PnL of every open position.
func (l *Ledger) refreshTotalPnl(acct *model.Account) {
	if acct.StartingBalance.IsZero() {
		return
	}
	equity := acct.Balance
	for _, p := range acct.Positions {
		equity = equity.Add(p.Margin()).Add(p.UnrealizedPnl)
	}
	acct.TotalPnlPercent = equity.Sub(acct.StartingBalance).Div(acct.StartingBalance).Mul(hundred)
}

func (l *Ledger) removePosition(acct *model.Account, id string) {
	for i, p := range acct.Positions {
		if p.ID == id {
			acct.Positions = append(acct.Positions[:i], acct.Positions[i+1:]...)
			return
		}
	}
}
