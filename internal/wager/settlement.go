package wager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/event"
	"github.com/solclash/contest-engine/internal/metrics"
	"github.com/solclash/contest-engine/internal/model"
)

// RunSettlementLoop subscribes to contest completions and settles each
// contest's betting pool. Blocks until ctx is cancelled; run in a
// goroutine.
func (m *Market) RunSettlementLoop(ctx context.Context) {
	events, cancel := m.bus.Subscribe(64, event.TopicContestCompleted, event.TopicContestCancelled)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			winner, push := "", true
			if payload, isCompleted := ev.Payload.(contest.CompletedPayload); isCompleted {
				winner, push = payload.WinnerID, payload.Push
			}
			if err := m.SettleContest(ctx, ev.ContestID, winner, push); err != nil {
				slog.Error("bet settlement failed", "contest", ev.ContestID, "err", err)
			}
		}
	}
}

// SettleContest resolves every pending bet on a contest exactly once.
// A repeat call returns ErrSettlementConflict and changes nothing.
//
// Push (or a contest with no losers) refunds every stake in full. Otherwise
// the losing pool less the platform fee is distributed to winning bets pro
// rata by stake, on top of their returned stake. Total payouts can never
// exceed the money actually collected; the solvency check aborts settlement
// rather than overpay.
func (m *Market) SettleContest(ctx context.Context, contestID, winnerID string, push bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.settled[contestID] {
		return fmt.Errorf("%w: contest %s already settled", model.ErrSettlementConflict, contestID)
	}

	bets := m.bets[contestID]
	if len(bets) == 0 {
		m.settled[contestID] = true
		m.cleanupContest(contestID)
		return nil
	}

	winningPool := m.pools[contestID][winnerID]
	losingPool := decimal.Zero
	for player, pool := range m.pools[contestID] {
		if player != winnerID {
			losingPool = losingPool.Add(pool)
		}
	}

	// No contest outcome, or a one-sided book: money back.
	if push || winnerID == "" || losingPool.IsZero() || winningPool.IsZero() {
		return m.refundAllLocked(ctx, contestID, bets, push || winnerID == "")
	}

	distributable := losingPool.Mul(one.Sub(m.params.FeePercent))

	// Compute payouts first so the solvency check runs before any money
	// moves.
	payouts := make(map[string]decimal.Decimal, len(bets))
	totalPayout := decimal.Zero
	for _, bet := range bets {
		if bet.BackedPlayer != winnerID {
			continue
		}
		share := distributable.Mul(bet.Amount).Div(winningPool)
		payout := bet.Amount.Add(share).RoundDown(9)
		payouts[bet.ID] = payout
		totalPayout = totalPayout.Add(payout)
	}
	if totalPayout.GreaterThan(winningPool.Add(distributable)) {
		metrics.SettlementFailures.Inc()
		return fmt.Errorf("%w: payouts %s exceed pool %s for contest %s",
			model.ErrSettlementConflict, totalPayout, winningPool.Add(distributable), contestID)
	}

	// A failed capture or credit halts the settlement without marking the
	// contest settled. Captures and credits are journaled per (purpose,
	// ref), so a retried settlement replays the already-made movements as
	// no-ops and resumes where it stopped.
	now := time.Now().UTC()
	for _, bet := range bets {
		if lock := m.betLocks[bet.ID]; lock != nil {
			if err := m.funds.Capture(ctx, lock); err != nil {
				return m.haltSettlement(contestID, bet.ID, err)
			}
		}

		if payout, won := payouts[bet.ID]; won {
			if err := m.funds.Credit(ctx, bet.BettorWallet, payout, "bet_payout", bet.ID); err != nil {
				return m.haltSettlement(contestID, bet.ID, err)
			}
			bet.Status = model.BetWon
			bet.Payout = payout
		} else {
			bet.Status = model.BetLost
			bet.Payout = decimal.Zero
		}
		bet.SettledAt = &now
		metrics.BetsTotal.WithLabelValues(string(bet.Status)).Inc()
		m.persistBet(ctx, bet)
		m.bus.Publish(event.TopicBetSettled, contestID, *bet)
	}

	// Fee plus rounding residue.
	residue := winningPool.Add(losingPool).Sub(totalPayout)
	if residue.IsPositive() && m.params.TreasuryWallet != "" {
		if err := m.funds.Credit(ctx, m.params.TreasuryWallet, residue, "bet_fee", contestID); err != nil {
			return m.haltSettlement(contestID, "fee", err)
		}
		m.feesCollected = m.feesCollected.Add(residue)
	}

	slog.Info("contest bets settled",
		"contest", contestID, "winner", winnerID,
		"winning_pool", winningPool.String(), "losing_pool", losingPool.String(),
		"paid_out", totalPayout.String(), "fee", residue.String())

	m.settled[contestID] = true
	m.cleanupContest(contestID)
	return nil
}

// haltSettlement aborts a partially paid settlement for manual
// reconciliation. The contest stays unsettled so a later trigger can
// resume; bets already paid keep their journaled credits and replay as
// no-ops. Caller holds m.mu.
func (m *Market) haltSettlement(contestID, ref string, err error) error {
	metrics.SettlementFailures.Inc()
	slog.Error("settlement halted for reconciliation",
		"contest", contestID, "ref", ref, "err", err)
	return fmt.Errorf("%w: contest %s halted at %s: %v",
		model.ErrSettlementConflict, contestID, ref, err)
}

// refundAllLocked releases every stake untouched. Bets are marked push for
// a void outcome and cancelled when the contest never resolved. Caller
// holds m.mu.
func (m *Market) refundAllLocked(ctx context.Context, contestID string, bets []*model.SpectatorBet, void bool) error {
	status := model.BetCancelled
	if void {
		status = model.BetPush
	}

	now := time.Now().UTC()
	for _, bet := range bets {
		if lock := m.betLocks[bet.ID]; lock != nil {
			m.funds.Release(lock)
		}
		bet.Status = status
		bet.Payout = bet.Amount
		bet.SettledAt = &now
		metrics.BetsTotal.WithLabelValues(string(status)).Inc()
		m.persistBet(ctx, bet)
		m.bus.Publish(event.TopicBetSettled, contestID, *bet)
	}

	slog.Info("contest bets refunded", "contest", contestID, "bets", len(bets), "status", status)

	m.settled[contestID] = true
	m.cleanupContest(contestID)
	return nil
}

func (m *Market) persistBet(ctx context.Context, bet *model.SpectatorBet) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateBet(ctx, bet); err != nil {
		slog.Error("bet update failed", "bet", bet.ID, "err", err)
	}
}

// cleanupContest drops in-memory pools, bets and unused odds locks for a
// settled contest. Caller holds m.mu.
func (m *Market) cleanupContest(contestID string) {
	for _, bet := range m.bets[contestID] {
		delete(m.betLocks, bet.ID)
	}
	delete(m.bets, contestID)
	delete(m.pools, contestID)
	for id, lock := range m.locks {
		if lock.ContestID == contestID {
			delete(m.locks, id)
		}
	}
}
