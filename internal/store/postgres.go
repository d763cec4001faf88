package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// The fund journal carries a UNIQUE (purpose, ref_id) constraint; archived
// contests are stored as JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertJournalEntry(ctx context.Context, e *model.JournalEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO fund_journal (id, wallet, amount, purpose, ref_id, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		e.ID, e.Wallet, e.Amount.String(), e.Purpose, e.RefID, e.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return ErrDuplicateEntry
	}
	return err
}

func (s *PostgresStore) ListJournalEntries(ctx context.Context, wallet string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, wallet, amount::TEXT, purpose, ref_id, created_at
		 FROM fund_journal WHERE wallet = $1 ORDER BY created_at`, wallet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		var amountS string
		if err := rows.Scan(&e.ID, &e.Wallet, &amountS, &e.Purpose, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Amount, _ = decimal.NewFromString(amountS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) InsertBet(ctx context.Context, b *model.SpectatorBet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spectator_bets
		   (id, contest_id, bettor_wallet, backed_player, amount, odds_at_placement,
		    potential_payout, payout, status, placed_at, settled_at, lock_tx)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12)`,
		b.ID, b.ContestID, b.BettorWallet, b.BackedPlayer,
		b.Amount.String(), b.OddsAtPlacement.String(),
		b.PotentialPayout.String(), b.Payout.String(),
		b.Status, b.PlacedAt, b.SettledAt, b.LockTx,
	)
	return err
}

func (s *PostgresStore) UpdateBet(ctx context.Context, b *model.SpectatorBet) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spectator_bets
		 SET status = $2, payout = $3::NUMERIC, settled_at = $4
		 WHERE id = $1`,
		b.ID, b.Status, b.Payout.String(), b.SettledAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bet %s not found", b.ID)
	}
	return nil
}

func (s *PostgresStore) ListBetsByContest(ctx context.Context, contestID string) ([]model.SpectatorBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, contest_id, bettor_wallet, backed_player,
		        amount::TEXT, odds_at_placement::TEXT, potential_payout::TEXT, payout::TEXT,
		        status, placed_at, settled_at, lock_tx
		 FROM spectator_bets WHERE contest_id = $1 ORDER BY placed_at`, contestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.SpectatorBet
	for rows.Next() {
		var b model.SpectatorBet
		var amountS, oddsS, potS, payoutS string
		if err := rows.Scan(&b.ID, &b.ContestID, &b.BettorWallet, &b.BackedPlayer,
			&amountS, &oddsS, &potS, &payoutS,
			&b.Status, &b.PlacedAt, &b.SettledAt, &b.LockTx); err != nil {
			return nil, err
		}
		b.Amount, _ = decimal.NewFromString(amountS)
		b.OddsAtPlacement, _ = decimal.NewFromString(oddsS)
		b.PotentialPayout, _ = decimal.NewFromString(potS)
		b.Payout, _ = decimal.NewFromString(payoutS)
		bets = append(bets, b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) ArchiveContest(ctx context.Context, c *model.Contest) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal contest %s: %w", c.ID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO contest_archive (id, status, winner_id, prize_pool, ended_at, doc)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, winner_id = EXCLUDED.winner_id,
		     prize_pool = EXCLUDED.prize_pool, ended_at = EXCLUDED.ended_at,
		     doc = EXCLUDED.doc`,
		c.ID, c.Status, c.WinnerID, c.PrizePool.String(), c.EndedAt, doc,
	)
	return err
}

func (s *PostgresStore) GetArchivedContest(ctx context.Context, id string) (*model.Contest, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM contest_archive WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		return nil, fmt.Errorf("get contest %s: %w", id, err)
	}

	var c model.Contest
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("unmarshal contest %s: %w", id, err)
	}
	return &c, nil
}
