// Package funds implements the wallet fund ledger: atomic verify-and-lock
// for every fund-consuming operation (contest entry, spectator bet) and
// idempotent crediting at settlement.
//
// The check-then-act gap between "verify balance" and "commit spend" is
// closed by doing both under a per-wallet mutex, so a wallet can never lock
// the same funds twice through concurrent calls.
package funds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/store"
)

// Journal is the durable debit/credit log keyed by (purpose, ref_id).
// Satisfied by store.Store.
type Journal interface {
	InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error
}

// LockToken proves funds were reserved. Exactly one of Capture or Release
// consumes it.
type LockToken struct {
	ID      string
	Wallet  string
	Amount  decimal.Decimal
	Purpose string
	RefID   string
}

type wallet struct {
	mu      sync.Mutex
	balance decimal.Decimal
	locked  map[string]decimal.Decimal // token id → reserved amount
}

// Ledger tracks wallet balances and reservations in memory, journaling
// committed movements through the store for idempotent replay.
type Ledger struct {
	mu      sync.Mutex
	wallets map[string]*wallet
	journal Journal
}

// NewLedger creates a ledger writing committed movements to journal.
func NewLedger(journal Journal) *Ledger {
	return &Ledger{
		wallets: make(map[string]*wallet),
		journal: journal,
	}
}

func (l *Ledger) wallet(id string) *wallet {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[id]
	if !ok {
		w = &wallet{locked: make(map[string]decimal.Decimal)}
		l.wallets[id] = w
	}
	return w
}

// Deposit adds spendable funds to a wallet. Used when a deposit is observed
// on the payment rail; not part of the wagering path.
func (l *Ledger) Deposit(walletID string, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: deposit amount must be positive", model.ErrValidation)
	}
	w := l.wallet(walletID)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balance = w.balance.Add(amount)
	return nil
}

// Available returns the spendable (unlocked) balance.
func (l *Ledger) Available(walletID string) decimal.Decimal {
	w := l.wallet(walletID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balance
}

// Locked returns the sum of outstanding reservations.
func (l *Ledger) Locked(walletID string) decimal.Decimal {
	w := l.wallet(walletID)
	w.mu.Lock()
	defer w.mu.Unlock()
	total := decimal.Zero
	for _, amt := range w.locked {
		total = total.Add(amt)
	}
	return total
}

// VerifyAndLock checks and reserves amount as one indivisible operation with
// respect to other calls for the same wallet. Returns
// model.ErrInsufficientFunds without any partial lock if the balance cannot
// cover the amount.
func (l *Ledger) VerifyAndLock(_ context.Context, walletID string, amount decimal.Decimal, purpose, refID string) (*LockToken, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: lock amount must be positive", model.ErrValidation)
	}

	w := l.wallet(walletID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.balance.LessThan(amount) {
		return nil, fmt.Errorf("%w: wallet %s has %s, needs %s",
			model.ErrInsufficientFunds, walletID, w.balance, amount)
	}

	token := &LockToken{
		ID:      uuid.New().String(),
		Wallet:  walletID,
		Amount:  amount,
		Purpose: purpose,
		RefID:   refID,
	}
	w.balance = w.balance.Sub(amount)
	w.locked[token.ID] = amount
	return token, nil
}

// Release returns a reservation to the spendable balance (cancellation and
// refund paths). Releasing a token twice is a no-op.
func (l *Ledger) Release(token *LockToken) {
	w := l.wallet(token.Wallet)
	w.mu.Lock()
	defer w.mu.Unlock()

	amt, ok := w.locked[token.ID]
	if !ok {
		return
	}
	delete(w.locked, token.ID)
	w.balance = w.balance.Add(amt)
}

// Capture consumes a reservation permanently (funds move into a pool) and
// journals the debit. Capturing a token twice is a no-op: the journal's
// (purpose, ref_id) key deduplicates the entry.
func (l *Ledger) Capture(ctx context.Context, token *LockToken) error {
	w := l.wallet(token.Wallet)
	w.mu.Lock()
	_, ok := w.locked[token.ID]
	if ok {
		delete(w.locked, token.ID)
	}
	w.mu.Unlock()

	if !ok {
		return nil
	}

	entry := &model.JournalEntry{
		ID:        uuid.New().String(),
		Wallet:    token.Wallet,
		Amount:    token.Amount.Neg(),
		Purpose:   token.Purpose,
		RefID:     token.RefID,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.journal.InsertJournalEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			return nil
		}
		return fmt.Errorf("journal capture %s/%s: %w", token.Purpose, token.RefID, err)
	}
	return nil
}

// Credit adds funds to a wallet, idempotent per (purpose, refID): replaying
// a credit for an already-settled reference is a no-op, never a double
// payment.
func (l *Ledger) Credit(ctx context.Context, walletID string, amount decimal.Decimal, purpose, refID string) error {
	if amount.LessThan(decimal.Zero) {
		return fmt.Errorf("%w: credit amount must not be negative", model.ErrValidation)
	}
	if amount.IsZero() {
		return nil
	}

	w := l.wallet(walletID)
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &model.JournalEntry{
		ID:        uuid.New().String(),
		Wallet:    walletID,
		Amount:    amount,
		Purpose:   purpose,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
	if err := l.journal.InsertJournalEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicateEntry) {
			slog.Info("credit replay ignored", "wallet", walletID, "purpose", purpose, "ref", refID)
			return nil
		}
		return fmt.Errorf("journal credit %s/%s: %w", purpose, refID, err)
	}

	w.balance = w.balance.Add(amount)
	return nil
}
