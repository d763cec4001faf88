package wager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/event"
	"github.com/solclash/contest-engine/internal/funds"
	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/sched"
	"github.com/solclash/contest-engine/internal/store"
	"github.com/solclash/contest-engine/internal/wager"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubContests serves one fixed contest snapshot.
type stubContests struct {
	snap contest.Snapshot
}

func (s *stubContests) Snapshot(contestID string) (contest.Snapshot, error) {
	if contestID != s.snap.ID {
		return contest.Snapshot{}, model.ErrNotFound
	}
	return s.snap, nil
}

type marketEnv struct {
	market   *wager.Market
	funds    *funds.Ledger
	contests *stubContests
	bus      *event.Bus
}

func newMarketEnv(t *testing.T, params wager.Params) *marketEnv {
	t.Helper()

	st := store.NewMemoryStore()
	fl := funds.NewLedger(st)
	bus := event.New()
	timers := sched.New()
	t.Cleanup(timers.Stop)

	contests := &stubContests{snap: contest.Snapshot{
		ID:      "c-1",
		Status:  model.ContestActive,
		Players: []string{"p1", "p2"},
		EndsAt:  time.Now().UTC().Add(time.Hour),
	}}

	m := wager.NewMarket(params, contests, fl, st, bus, timers)
	return &marketEnv{market: m, funds: fl, contests: contests, bus: bus}
}

func TestOdds_EmptyBookQuotesEven(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())

	odds, err := env.market.Odds("c-1")
	if err != nil {
		t.Fatalf("odds failed: %v", err)
	}
	for player, quote := range odds {
		if !quote.Equal(d(2)) {
			t.Errorf("odds[%s] = %s, want 2", player, quote)
		}
	}
}

func TestOdds_BalancedBook(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	odds, _ := env.market.Odds("c-1")
	// 1 + 1*(1-0.05)/1 = 1.95 on both sides.
	if !odds["p1"].Equal(d(1.95)) || !odds["p2"].Equal(d(1.95)) {
		t.Errorf("odds = %v, want 1.95 both sides", odds)
	}
}

func TestOdds_ClampedToBounds(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))

	if _, err := env.market.PlaceBet(context.Background(), "c-1", "alice", "p1", d(5)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	odds, _ := env.market.Odds("c-1")
	// Heavy favourite side floors at 1.01; the empty side caps at 10.
	if !odds["p1"].Equal(d(1.01)) {
		t.Errorf("odds[p1] = %s, want floor 1.01", odds["p1"])
	}
	if !odds["p2"].Equal(d(10)) {
		t.Errorf("odds[p2] = %s, want cap 10", odds["p2"])
	}
}

func TestPlaceBet_LocksStake(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))

	bet, err := env.market.PlaceBet(context.Background(), "c-1", "alice", "p1", d(2))
	if err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if bet.Status != model.BetPending {
		t.Errorf("status = %s, want pending", bet.Status)
	}
	if !bet.OddsAtPlacement.Equal(d(2)) {
		t.Errorf("odds = %s, want even 2 on an empty book", bet.OddsAtPlacement)
	}
	if !env.funds.Available("alice").Equal(d(8)) {
		t.Errorf("available = %s, want 8", env.funds.Available("alice"))
	}
	if !env.funds.Locked("alice").Equal(d(2)) {
		t.Errorf("locked = %s, want 2", env.funds.Locked("alice"))
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(200))
	ctx := context.Background()

	cases := []struct {
		name    string
		bettor  string
		backed  string
		amount  decimal.Decimal
		wantErr error
	}{
		{"below minimum", "alice", "p1", d(0.001), model.ErrValidation},
		{"above maximum", "alice", "p1", d(150), model.ErrValidation},
		{"self bet", "p1", "p1", d(1), model.ErrValidation},
		{"participant betting on opponent", "p2", "p1", d(1), model.ErrValidation},
		{"unknown player", "alice", "p9", d(1), model.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.market.PlaceBet(ctx, "c-1", tc.bettor, tc.backed, tc.amount)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPlaceBet_ClosedWindow(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.contests.snap.EndsAt = time.Now().UTC().Add(10 * time.Second)

	_, err := env.market.PlaceBet(context.Background(), "c-1", "alice", "p1", d(1))
	if !errors.Is(err, model.ErrState) {
		t.Errorf("got %v, want ErrState inside the final betting window", err)
	}
}

func TestPlaceBet_ContestNotActive(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.contests.snap.Status = model.ContestWaiting

	_, err := env.market.PlaceBet(context.Background(), "c-1", "alice", "p1", d(1))
	if !errors.Is(err, model.ErrState) {
		t.Errorf("got %v, want ErrState", err)
	}
}

func TestOddsLock_ConfirmKeepsQuotedOdds(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	lock, err := env.market.RequestOddsLock("c-1", "p1", d(1))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	if !lock.LockedOdds.Equal(d(2)) {
		t.Fatalf("locked odds = %s, want 2", lock.LockedOdds)
	}

	// The book moves against the locked side before confirmation.
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p1", d(5)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	bet, err := env.market.VerifyAndRecordBet(ctx, lock.ID, "alice")
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if !bet.OddsAtPlacement.Equal(d(2)) {
		t.Errorf("bet odds = %s, want locked 2", bet.OddsAtPlacement)
	}
}

func TestOddsLock_SingleUse(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	lock, err := env.market.RequestOddsLock("c-1", "p1", d(1))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	if _, err := env.market.VerifyAndRecordBet(ctx, lock.ID, "alice"); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}
	_, err = env.market.VerifyAndRecordBet(ctx, lock.ID, "bob")
	if !errors.Is(err, model.ErrLockUsed) {
		t.Errorf("got %v, want ErrLockUsed", err)
	}
}

func TestOddsLock_Expired(t *testing.T) {
	params := wager.DefaultParams()
	params.OddsLockTTL = -time.Second // already expired when issued
	env := newMarketEnv(t, params)
	env.funds.Deposit("alice", d(10))

	lock, err := env.market.RequestOddsLock("c-1", "p1", d(1))
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}

	_, err = env.market.VerifyAndRecordBet(context.Background(), lock.ID, "alice")
	if !errors.Is(err, model.ErrLockExpired) {
		t.Errorf("got %v, want ErrLockExpired", err)
	}
}

func TestSettle_PaysWinnersProRata(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	env.funds.Deposit("carol", d(10))
	ctx := context.Background()

	// alice 1 and carol 3 back p1; bob 4 backs p2.
	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "carol", "p1", d(3)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(4)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if err := env.market.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Losing pool 4, distributable 3.8.
	// alice: 1 + 3.8*1/4 = 1.95 → 10 - 1 + 1.95 = 10.95
	// carol: 3 + 3.8*3/4 = 5.85 → 10 - 3 + 5.85 = 12.85
	// bob loses his 4.
	if !env.funds.Available("alice").Equal(d(10.95)) {
		t.Errorf("alice = %s, want 10.95", env.funds.Available("alice"))
	}
	if !env.funds.Available("carol").Equal(d(12.85)) {
		t.Errorf("carol = %s, want 12.85", env.funds.Available("carol"))
	}
	if !env.funds.Available("bob").Equal(d(6)) {
		t.Errorf("bob = %s, want 6", env.funds.Available("bob"))
	}
	// Fee: 8 staked - 7.8 paid out = 0.2.
	if !env.funds.Available("treasury").Equal(d(0.2)) {
		t.Errorf("treasury = %s, want 0.2", env.funds.Available("treasury"))
	}
}

func TestSettle_Idempotent(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if err := env.market.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	before := env.funds.Available("alice")

	err := env.market.SettleContest(ctx, "c-1", "p1", false)
	if !errors.Is(err, model.ErrSettlementConflict) {
		t.Errorf("got %v, want ErrSettlementConflict", err)
	}
	if !env.funds.Available("alice").Equal(before) {
		t.Errorf("repeat settlement moved money")
	}
}

func TestSettle_PushRefundsStakes(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(2)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(3)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if err := env.market.SettleContest(ctx, "c-1", "", true); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if !env.funds.Available("alice").Equal(d(10)) || !env.funds.Available("bob").Equal(d(10)) {
		t.Errorf("push must refund stakes exactly: alice=%s bob=%s",
			env.funds.Available("alice"), env.funds.Available("bob"))
	}
	if !env.funds.Available("treasury").IsZero() {
		t.Errorf("push must not take a fee, treasury = %s", env.funds.Available("treasury"))
	}
}

func TestSettle_OneSidedBookRefunds(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	ctx := context.Background()

	// Everyone backed the winner: no losing pool to distribute.
	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(2)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if err := env.market.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !env.funds.Available("alice").Equal(d(10)) {
		t.Errorf("alice = %s, want stake refunded", env.funds.Available("alice"))
	}
}

func TestSettlementLoopReactsToCompletion(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	go env.market.RunSettlementLoop(ctx)
	// Give the loop a beat to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)

	env.bus.Publish(event.TopicContestCompleted, "c-1", contest.CompletedPayload{WinnerID: "p1"})

	deadline := time.After(2 * time.Second)
	for {
		if env.funds.Available("alice").Equal(d(10.95)) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("settlement did not run, alice = %s", env.funds.Available("alice"))
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMarketStats_TracksVolumeAndFees(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	env.funds.Deposit("bob", d(10))
	ctx := context.Background()

	if _, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(2)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := env.market.PlaceBet(ctx, "c-1", "bob", "p2", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	stats := env.market.Stats()
	if stats.BetsPlaced != 2 || !stats.BetVolume.Equal(d(3)) {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.FeesCollected.IsZero() {
		t.Errorf("fees before settlement = %s, want 0", stats.FeesCollected)
	}

	if err := env.market.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	// Alice is paid 2 + 0.95*(2/2) = 2.95; residue 0.05 is the fee.
	stats = env.market.Stats()
	if !stats.FeesCollected.Equal(d(0.05)) {
		t.Errorf("fees = %s, want 0.05", stats.FeesCollected)
	}
}

func TestPlaceBet_RejectedAfterSettlement(t *testing.T) {
	env := newMarketEnv(t, wager.DefaultParams())
	env.funds.Deposit("alice", d(10))
	ctx := context.Background()

	// Settle first. The snapshot source still reports the contest active,
	// as it does when a placement races the settlement loop.
	if err := env.market.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	_, err := env.market.PlaceBet(ctx, "c-1", "alice", "p1", d(2))
	if !errors.Is(err, model.ErrState) {
		t.Fatalf("got %v, want ErrState", err)
	}
	if !env.funds.Locked("alice").IsZero() {
		t.Errorf("stake locked on settled contest: %s", env.funds.Locked("alice"))
	}
	if !env.funds.Available("alice").Equal(d(10)) {
		t.Errorf("balance = %s, want 10", env.funds.Available("alice"))
	}
}

// flakyJournalStore fails journal inserts for one purpose, simulating a
// transient database outage during settlement.
type flakyJournalStore struct {
	*store.MemoryStore
	failPurpose string
}

func (s *flakyJournalStore) InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error {
	if s.failPurpose != "" && entry.Purpose == s.failPurpose {
		return errors.New("journal unavailable")
	}
	return s.MemoryStore.InsertJournalEntry(ctx, entry)
}

func TestSettle_HaltsWhenPayoutCreditFails(t *testing.T) {
	st := &flakyJournalStore{MemoryStore: store.NewMemoryStore(), failPurpose: "bet_payout"}
	fl := funds.NewLedger(st)
	bus := event.New()
	timers := sched.New()
	t.Cleanup(timers.Stop)
	contests := &stubContests{snap: contest.Snapshot{
		ID:      "c-1",
		Status:  model.ContestActive,
		Players: []string{"p1", "p2"},
		EndsAt:  time.Now().UTC().Add(time.Hour),
	}}
	m := wager.NewMarket(wager.DefaultParams(), contests, fl, st, bus, timers)

	fl.Deposit("alice", d(10))
	fl.Deposit("bob", d(10))
	ctx := context.Background()
	if _, err := m.PlaceBet(ctx, "c-1", "alice", "p1", d(2)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}
	if _, err := m.PlaceBet(ctx, "c-1", "bob", "p2", d(1)); err != nil {
		t.Fatalf("bet failed: %v", err)
	}

	if err := m.SettleContest(ctx, "c-1", "p1", false); err == nil {
		t.Fatal("expected settlement to halt on failed credit")
	}
	if !fl.Available("alice").Equal(d(8)) {
		t.Errorf("alice paid despite halted settlement: %s", fl.Available("alice"))
	}

	// The journal recovers; a retried trigger resumes and pays in full.
	st.failPurpose = ""
	if err := m.SettleContest(ctx, "c-1", "p1", false); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	// 2 + 0.95*(2/2) = 2.95 on top of the remaining 8.
	if !fl.Available("alice").Equal(d(10.95)) {
		t.Errorf("alice = %s, want 10.95", fl.Available("alice"))
	}
	if !fl.Available("bob").Equal(d(9)) {
		t.Errorf("bob = %s, want 9", fl.Available("bob"))
	}

	// Only now is the contest settled.
	if err := m.SettleContest(ctx, "c-1", "p1", false); !errors.Is(err, model.ErrSettlementConflict) {
		t.Errorf("got %v, want ErrSettlementConflict", err)
	}
}
