// Package store defines the persistence interface for the contest engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/solclash/contest-engine/internal/model"
)

// ErrDuplicateEntry is returned by InsertJournalEntry when an entry with the
// same (purpose, ref_id) already exists. The fund ledger relies on this for
// idempotent credit replay.
var ErrDuplicateEntry = errors.New("store: duplicate journal entry")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Fund journal (idempotency keyed by purpose+ref_id) ---

	// InsertJournalEntry appends a fund movement. Returns ErrDuplicateEntry
	// if (purpose, ref_id) was already recorded.
	InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error

	// ListJournalEntries returns all fund movements for a wallet.
	ListJournalEntries(ctx context.Context, wallet string) ([]model.JournalEntry, error)

	// --- Spectator bets ---

	// InsertBet persists a newly placed bet.
	InsertBet(ctx context.Context, bet *model.SpectatorBet) error

	// UpdateBet persists a bet's settlement outcome.
	UpdateBet(ctx context.Context, bet *model.SpectatorBet) error

	// ListBetsByContest returns all bets recorded for a contest.
	ListBetsByContest(ctx context.Context, contestID string) ([]model.SpectatorBet, error)

	// --- Contest archive ---

	// ArchiveContest persists a terminal contest for later inspection and
	// permanent-ledger reconciliation.
	ArchiveContest(ctx context.Context, contest *model.Contest) error

	// GetArchivedContest retrieves an archived contest by id.
	GetArchivedContest(ctx context.Context, id string) (*model.Contest, error)
}
