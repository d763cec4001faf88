// Package wager runs the spectator betting market attached to live
// contests: parimutuel odds over the backing pools, short-lived odds locks
// for slow confirmation channels, and idempotent settlement when the
// contest completes.
package wager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/event"
	"github.com/solclash/contest-engine/internal/funds"
	"github.com/solclash/contest-engine/internal/metrics"
	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/sched"
)

// ContestSource is the market's read-only view of contests. Satisfied by
// the contest engine.
type ContestSource interface {
	Snapshot(contestID string) (contest.Snapshot, error)
}

// BetStore persists bets. Satisfied by store.Store.
type BetStore interface {
	InsertBet(ctx context.Context, bet *model.SpectatorBet) error
	UpdateBet(ctx context.Context, bet *model.SpectatorBet) error
}

// Params are the market's tunable constants.
type Params struct {
	MinBet            decimal.Decimal // 0.01 SOL
	MaxBet            decimal.Decimal // 100 SOL
	FeePercent        decimal.Decimal // taken from the losing pool
	OddsMin           decimal.Decimal
	OddsMax           decimal.Decimal
	EvenOdds          decimal.Decimal // quoted while both pools are empty
	UnitStake         decimal.Decimal // denominator stand-in for an empty side
	OddsLockTTL       time.Duration
	BettingLockWindow time.Duration // no bets this close to contest end
	TreasuryWallet    string
}

// DefaultParams returns the production defaults: 5% fee, odds clamped to
// [1.01, 10.0], 30s odds locks, betting closed in the final 30s.
func DefaultParams() Params {
	return Params{
		MinBet:            decimal.NewFromFloat(0.01),
		MaxBet:            decimal.NewFromInt(100),
		FeePercent:        decimal.NewFromFloat(0.05),
		OddsMin:           decimal.NewFromFloat(1.01),
		OddsMax:           decimal.NewFromFloat(10.0),
		EvenOdds:          decimal.NewFromInt(2),
		UnitStake:         decimal.NewFromFloat(0.01),
		OddsLockTTL:       30 * time.Second,
		BettingLockWindow: 30 * time.Second,
		TreasuryWallet:    "treasury",
	}
}

var one = decimal.NewFromInt(1)

// Market holds per-contest backing pools and pending bets. A single mutex
// serializes all market mutations; settlement re-enters through it.
type Market struct {
	params   Params
	contests ContestSource
	funds    *funds.Ledger
	store    BetStore
	bus      *event.Bus
	timers   *sched.Scheduler

	mu       sync.Mutex
	pools    map[string]map[string]decimal.Decimal // contest → player → staked
	bets     map[string][]*model.SpectatorBet      // contest → pending bets
	betLocks map[string]*funds.LockToken           // bet id → fund lock
	locks    map[string]*model.OddsLock            // odds-lock id → lock
	settled  map[string]bool

	// Running platform totals, guarded by mu.
	betsPlaced    int64
	betVolume     decimal.Decimal
	feesCollected decimal.Decimal
}

// Stats is a point-in-time snapshot of the market's platform accounting.
type Stats struct {
	BetsPlaced    int64           `json:"bets_placed"`
	BetVolume     decimal.Decimal `json:"bet_volume"`     // gross SOL staked
	FeesCollected decimal.Decimal `json:"fees_collected"` // SOL credited to the treasury
}

// NewMarket wires the market. store may be nil for in-memory operation.
func NewMarket(params Params, contests ContestSource, fl *funds.Ledger, store BetStore, bus *event.Bus, timers *sched.Scheduler) *Market {
	return &Market{
		params:   params,
		contests: contests,
		funds:    fl,
		store:    store,
		bus:      bus,
		timers:   timers,
		pools:    make(map[string]map[string]decimal.Decimal),
		bets:     make(map[string][]*model.SpectatorBet),
		betLocks: make(map[string]*funds.LockToken),
		locks:    make(map[string]*model.OddsLock),
		settled:  make(map[string]bool),
	}
}

// odds quotes the multiplier for backing one player:
//
//	1 + opposingPool * (1 - fee) / sidePool
//
// clamped to [OddsMin, OddsMax]. Both pools empty quotes even odds; an
// empty side uses the unit stake as denominator so the first bettor on a
// neglected side sees the (capped) longshot price. Caller holds m.mu.
func (m *Market) odds(contestID, player string) decimal.Decimal {
	side := decimal.Zero
	opposing := decimal.Zero
	for backed, pool := range m.pools[contestID] {
		if backed == player {
			side = side.Add(pool)
		} else {
			opposing = opposing.Add(pool)
		}
	}

	if side.IsZero() && opposing.IsZero() {
		return m.params.EvenOdds
	}
	if side.IsZero() {
		side = m.params.UnitStake
	}

	quoted := one.Add(opposing.Mul(one.Sub(m.params.FeePercent)).Div(side))
	if quoted.LessThan(m.params.OddsMin) {
		return m.params.OddsMin
	}
	if quoted.GreaterThan(m.params.OddsMax) {
		return m.params.OddsMax
	}
	return quoted
}

// Odds returns the current quote for every participant of a contest.
func (m *Market) Odds(contestID string) (map[string]decimal.Decimal, error) {
	snap, err := m.contests.Snapshot(contestID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.oddsForPlayers(contestID, snap.Players), nil
}

func (m *Market) oddsForPlayers(contestID string, players []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(players))
	for _, player := range players {
		out[player] = m.odds(contestID, player)
	}
	return out
}

// PlaceBet stakes amount on backedPlayer at the current quote. The stake is
// locked in the bettor's fund account until settlement.
func (m *Market) PlaceBet(ctx context.Context, contestID, bettor, backedPlayer string, amount decimal.Decimal) (*model.SpectatorBet, error) {
	snap, err := m.checkBettable(contestID, bettor, backedPlayer, amount)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.placeBetLocked(ctx, snap, bettor, backedPlayer, amount, m.odds(contestID, backedPlayer))
}

// placeBetLocked records a bet at fixed odds. Caller holds m.mu and has
// already validated the contest state. The snapshot was taken outside the
// lock, so the contest may have settled in between; that is re-checked here
// before any funds move, otherwise the bet would join a book that no
// settlement will ever visit.
func (m *Market) placeBetLocked(ctx context.Context, snap contest.Snapshot, bettor, backedPlayer string, amount, odds decimal.Decimal) (*model.SpectatorBet, error) {
	if m.settled[snap.ID] {
		return nil, fmt.Errorf("%w: contest %s already settled", model.ErrState, snap.ID)
	}

	betID := uuid.New().String()
	lock, err := m.funds.VerifyAndLock(ctx, bettor, amount, "spectator_bet", betID)
	if err != nil {
		return nil, err
	}

	bet := &model.SpectatorBet{
		ID:              betID,
		ContestID:       snap.ID,
		BettorWallet:    bettor,
		BackedPlayer:    backedPlayer,
		Amount:          amount,
		OddsAtPlacement: odds,
		PotentialPayout: amount.Mul(odds).RoundDown(9),
		Status:          model.BetPending,
		PlacedAt:        time.Now().UTC(),
		LockTx:          lock.ID,
	}

	if m.store != nil {
		if err := m.store.InsertBet(ctx, bet); err != nil {
			m.funds.Release(lock)
			return nil, fmt.Errorf("persist bet: %w", err)
		}
	}

	if m.pools[snap.ID] == nil {
		m.pools[snap.ID] = make(map[string]decimal.Decimal)
	}
	m.pools[snap.ID][backedPlayer] = m.pools[snap.ID][backedPlayer].Add(amount)
	m.bets[snap.ID] = append(m.bets[snap.ID], bet)
	m.betLocks[betID] = lock

	m.betsPlaced++
	m.betVolume = m.betVolume.Add(amount)

	metrics.BetsTotal.WithLabelValues(string(model.BetPending)).Inc()
	betVolume, _ := amount.Float64()
	metrics.BetVolume.Add(betVolume)

	slog.Info("bet placed",
		"contest", snap.ID, "bettor", bettor, "backed", backedPlayer,
		"amount", amount.String(), "odds", odds.String())

	m.bus.Publish(event.TopicBetPlaced, snap.ID, *bet)
	m.bus.Publish(event.TopicOddsUpdated, snap.ID, m.oddsForPlayers(snap.ID, snap.Players))

	out := *bet
	return &out, nil
}

// RequestOddsLock pins the current quote for OddsLockTTL so the bettor can
// confirm through a slower channel without losing the price.
func (m *Market) RequestOddsLock(contestID, backedPlayer string, amount decimal.Decimal) (*model.OddsLock, error) {
	if _, err := m.checkBettable(contestID, "", backedPlayer, amount); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lock := &model.OddsLock{
		ID:           uuid.New().String(),
		ContestID:    contestID,
		BackedPlayer: backedPlayer,
		Amount:       amount,
		LockedOdds:   m.odds(contestID, backedPlayer),
		ExpiresAt:    time.Now().UTC().Add(m.params.OddsLockTTL),
	}
	m.locks[lock.ID] = lock

	// Unused locks are swept shortly after expiry. Expiry itself is
	// enforced by timestamp, not by the sweep.
	m.timers.After("odds-lock:"+lock.ID, m.params.OddsLockTTL+time.Second, func() {
		m.mu.Lock()
		delete(m.locks, lock.ID)
		m.mu.Unlock()
	})

	out := *lock
	return &out, nil
}

// VerifyAndRecordBet consumes an odds lock and places the bet at the locked
// odds. A lock is single-use: the first caller wins, every later caller
// gets ErrLockUsed, and an expired lock is rejected even if unused.
func (m *Market) VerifyAndRecordBet(ctx context.Context, lockID, bettor string) (*model.SpectatorBet, error) {
	m.mu.Lock()
	lock, ok := m.locks[lockID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: odds lock %s", model.ErrNotFound, lockID)
	}
	if lock.Used {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: odds lock %s", model.ErrLockUsed, lockID)
	}
	if time.Now().UTC().After(lock.ExpiresAt) {
		delete(m.locks, lockID)
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: odds lock %s", model.ErrLockExpired, lockID)
	}
	m.mu.Unlock()

	// Contest state may have moved since the lock was issued.
	snap, err := m.checkBettable(lock.ContestID, bettor, lock.BackedPlayer, lock.Amount)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-check under the lock: another caller may have consumed it while
	// we validated the contest.
	lock, ok = m.locks[lockID]
	if !ok {
		return nil, fmt.Errorf("%w: odds lock %s", model.ErrLockExpired, lockID)
	}
	if lock.Used {
		return nil, fmt.Errorf("%w: odds lock %s", model.ErrLockUsed, lockID)
	}
	lock.Used = true

	bet, err := m.placeBetLocked(ctx, snap, bettor, lock.BackedPlayer, lock.Amount, lock.LockedOdds)
	if err != nil {
		// Funds or persistence failed; the lock stays burned. Issuing a
		// fresh lock is cheap, resurrecting a used one is not auditable.
		return nil, err
	}
	return bet, nil
}

// BetsForContest returns copies of the contest's tracked bets.
func (m *Market) BetsForContest(contestID string) []*model.SpectatorBet {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.SpectatorBet, 0, len(m.bets[contestID]))
	for _, bet := range m.bets[contestID] {
		b := *bet
		out = append(out, &b)
	}
	return out
}

// Stats returns the market's running platform totals.
func (m *Market) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		BetsPlaced:    m.betsPlaced,
		BetVolume:     m.betVolume,
		FeesCollected: m.feesCollected,
	}
}

// checkBettable validates contest state, participant membership, the
// betting window and stake bounds. bettor may be empty for quote-only
// checks.
func (m *Market) checkBettable(contestID, bettor, backedPlayer string, amount decimal.Decimal) (contest.Snapshot, error) {
	if amount.LessThan(m.params.MinBet) {
		return contest.Snapshot{}, fmt.Errorf("%w: bet %s below minimum %s", model.ErrValidation, amount, m.params.MinBet)
	}
	if amount.GreaterThan(m.params.MaxBet) {
		return contest.Snapshot{}, fmt.Errorf("%w: bet %s above maximum %s", model.ErrValidation, amount, m.params.MaxBet)
	}

	snap, err := m.contests.Snapshot(contestID)
	if err != nil {
		return contest.Snapshot{}, err
	}
	if snap.Status != model.ContestActive {
		return contest.Snapshot{}, fmt.Errorf("%w: contest %s is %s", model.ErrState, contestID, snap.Status)
	}
	if !snap.EndsAt.IsZero() && time.Now().UTC().After(snap.EndsAt.Add(-m.params.BettingLockWindow)) {
		return contest.Snapshot{}, fmt.Errorf("%w: betting closed for contest %s", model.ErrState, contestID)
	}

	isPlayer := false
	for _, player := range snap.Players {
		if player == backedPlayer {
			isPlayer = true
		}
		if bettor != "" && player == bettor {
			return contest.Snapshot{}, fmt.Errorf("%w: participants cannot bet on their own contest", model.ErrValidation)
		}
	}
	if !isPlayer {
		return contest.Snapshot{}, fmt.Errorf("%w: %s is not a participant", model.ErrValidation, backedPlayer)
	}
	return snap, nil
}
