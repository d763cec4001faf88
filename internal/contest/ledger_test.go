package contest_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newLedger() *contest.Ledger {
	return contest.NewLedger(d(1), d(0.005), nil)
}

func newAccount() *model.Account {
	return &model.Account{
		Balance:         d(10000),
		StartingBalance: d(10000),
	}
}

func TestOpenPosition_DeductsMargin(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	position, record, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(150))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// margin = 1000 / 10 = 100
	if !acct.Balance.Equal(d(9900)) {
		t.Errorf("balance = %s, want 9900", acct.Balance)
	}
	if !position.Margin().Equal(d(100)) {
		t.Errorf("margin = %s, want 100", position.Margin())
	}
	if record.Action != model.TradeOpen {
		t.Errorf("record action = %s, want open", record.Action)
	}
	if len(acct.Positions) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(acct.Positions))
	}
}

func TestOpenPosition_Validation(t *testing.T) {
	l := newLedger()

	cases := []struct {
		name     string
		side     model.Side
		leverage int64
		size     decimal.Decimal
		price    decimal.Decimal
		wantErr  error
	}{
		{"bad side", model.Side("up"), 10, d(100), d(150), model.ErrValidation},
		{"bad leverage", model.SideLong, 3, d(100), d(150), model.ErrValidation},
		{"size below minimum", model.SideLong, 10, d(0.5), d(150), model.ErrValidation},
		{"zero price", model.SideLong, 10, d(100), d(0), model.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := l.OpenPosition(newAccount(), "SOL", tc.side, tc.leverage, tc.size, tc.price)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestOpenPosition_OnePerAsset(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(150)); err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	_, _, err := l.OpenPosition(acct, "SOL", model.SideShort, 5, d(500), d(150))
	if !errors.Is(err, model.ErrState) {
		t.Errorf("second open in same asset: got %v, want ErrState", err)
	}

	// A different asset is fine.
	if _, _, err := l.OpenPosition(acct, "BTC", model.SideShort, 5, d(500), d(65000)); err != nil {
		t.Errorf("open in different asset failed: %v", err)
	}
}

func TestOpenPosition_MarginExceedsBalance(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	// margin would be 25000/2 = 12500 > 10000
	_, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 2, d(25000), d(150))
	if !errors.Is(err, model.ErrInsufficientFunds) {
		t.Errorf("got %v, want ErrInsufficientFunds", err)
	}
	if !acct.Balance.Equal(d(10000)) {
		t.Errorf("failed open must not touch balance, got %s", acct.Balance)
	}
}

func TestLiquidationPrice(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	long, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// 100 * (1 - 0.1 + 0.005) = 90.5
	if !long.LiquidationPrice.Equal(d(90.5)) {
		t.Errorf("long liquidation = %s, want 90.5", long.LiquidationPrice)
	}

	short, _, err := l.OpenPosition(acct, "BTC", model.SideShort, 10, d(1000), d(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	// 100 * (1 + 0.1 - 0.005) = 109.5
	if !short.LiquidationPrice.Equal(d(109.5)) {
		t.Errorf("short liquidation = %s, want 109.5", short.LiquidationPrice)
	}
}

func TestClosePosition_RealizesPnl(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	// 20x long, size 200, entry 100. Price +3% → pnl = 200*20*0.03 = 120.
	position, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 20, d(200), d(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	record, err := l.ClosePosition(acct, position.ID, d(103))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !record.Pnl.Equal(d(120)) {
		t.Errorf("pnl = %s, want 120", record.Pnl)
	}
	// balance: 10000 - 10 margin + (10 margin + 120 pnl) = 10120
	if !acct.Balance.Equal(d(10120)) {
		t.Errorf("balance = %s, want 10120", acct.Balance)
	}
	if !acct.ClosedPnl.Equal(d(120)) {
		t.Errorf("closedPnl = %s, want 120", acct.ClosedPnl)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("position not removed")
	}
}

func TestClosePosition_ShortProfit(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	// 10x short, size 1000, entry 100. Price -5% → pnl = 1000*10*0.05 = 500.
	position, _, err := l.OpenPosition(acct, "SOL", model.SideShort, 10, d(1000), d(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	record, err := l.ClosePosition(acct, position.ID, d(95))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !record.Pnl.Equal(d(500)) {
		t.Errorf("pnl = %s, want 500", record.Pnl)
	}
}

func TestRevalue_UpdatesUnrealized(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(100)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	liquidated := l.Revalue(acct, map[string]decimal.Decimal{"SOL": d(102)})
	if len(liquidated) != 0 {
		t.Fatalf("unexpected liquidation")
	}

	p := acct.Positions[0]
	// pnl = 1000*10*0.02 = 200; percent = 200/1000*100 = 20
	if !p.UnrealizedPnl.Equal(d(200)) {
		t.Errorf("unrealized = %s, want 200", p.UnrealizedPnl)
	}
	if !p.UnrealizedPnlPercent.Equal(d(20)) {
		t.Errorf("unrealized pct = %s, want 20", p.UnrealizedPnlPercent)
	}
	// equity = 9900 + 100 margin + 200 = 10200 → total pnl pct = 2
	if !acct.TotalPnlPercent.Equal(d(2)) {
		t.Errorf("total pnl pct = %s, want 2", acct.TotalPnlPercent)
	}
}

func TestRevalue_LiquidatesCrossedLong(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(100)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Liquidation at 90.5; a drop to 90 crosses it.
	records := l.Revalue(acct, map[string]decimal.Decimal{"SOL": d(90)})
	if len(records) != 1 {
		t.Fatalf("expected 1 liquidation, got %d", len(records))
	}
	record := records[0]
	if record.Action != model.TradeLiquidate {
		t.Errorf("action = %s, want liquidation", record.Action)
	}
	// The full margin is forfeited.
	if !record.Pnl.Equal(d(-100)) {
		t.Errorf("pnl = %s, want -100", record.Pnl)
	}
	// Margin was deducted at open; liquidation does not touch the balance.
	if !acct.Balance.Equal(d(9900)) {
		t.Errorf("balance = %s, want 9900", acct.Balance)
	}
	if len(acct.Positions) != 0 {
		t.Errorf("liquidated position still open")
	}
}

func TestRevalue_LiquidatesCrossedShort(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideShort, 20, d(1000), d(100)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Liquidation at 100*(1+0.05-0.005) = 104.5.
	records := l.Revalue(acct, map[string]decimal.Decimal{"SOL": d(105)})
	if len(records) != 1 {
		t.Fatalf("expected 1 liquidation, got %d", len(records))
	}
}

func TestRevalue_IgnoresUnknownAssets(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(100)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	l.Revalue(acct, map[string]decimal.Decimal{"BTC": d(65000)})
	if !acct.Positions[0].CurrentPrice.Equal(d(100)) {
		t.Errorf("price must not change without a quote for the asset")
	}
}

func TestForceCloseAll(t *testing.T) {
	l := newLedger()
	acct := newAccount()

	if _, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 10, d(1000), d(100)); err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, _, err := l.OpenPosition(acct, "BTC", model.SideShort, 5, d(500), d(200)); err != nil {
		t.Fatalf("open failed: %v", err)
	}

	records := l.ForceCloseAll(acct, map[string]decimal.Decimal{"SOL": d(101), "BTC": d(198)})
	if len(records) != 2 {
		t.Fatalf("expected 2 closes, got %d", len(records))
	}
	if len(acct.Positions) != 0 {
		t.Errorf("positions remain after force close")
	}
	// SOL: 1000*10*0.01 = 100; BTC: 500*5*0.01 = 25
	if !acct.ClosedPnl.Equal(d(125)) {
		t.Errorf("closedPnl = %s, want 125", acct.ClosedPnl)
	}
}

func TestCloseUnknownPosition(t *testing.T) {
	l := newLedger()
	_, err := l.ClosePosition(newAccount(), "nope", d(100))
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestBalanceFloorsAtZero(t *testing.T) {
	l := newLedger()
	acct := &model.Account{Balance: d(100), StartingBalance: d(100)}

	// 2x long, size 200, margin 100 consumes the whole balance.
	position, _, err := l.OpenPosition(acct, "SOL", model.SideLong, 2, d(200), d(100))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// -30% move → pnl = 200*2*(-0.3) = -120, proceeds = 100-120 < 0.
	if _, err := l.ClosePosition(acct, position.ID, d(70)); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if acct.Balance.IsNegative() {
		t.Errorf("balance went negative: %s", acct.Balance)
	}
	if !acct.Balance.IsZero() {
		t.Errorf("balance = %s, want 0", acct.Balance)
	}
}
