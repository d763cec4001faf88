package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solclash/contest-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for archived contests and per-contest bet lists. Writes go to the
// primary store and invalidate the cache; reads check Redis first then fall
// back to the primary. The fund journal is never cached: idempotency checks
// must hit the source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Passthrough (never cached) ---

func (s *CachedStore) InsertJournalEntry(ctx context.Context, entry *model.JournalEntry) error {
	return s.primary.InsertJournalEntry(ctx, entry)
}

func (s *CachedStore) ListJournalEntries(ctx context.Context, wallet string) ([]model.JournalEntry, error) {
	return s.primary.ListJournalEntries(ctx, wallet)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertBet(ctx context.Context, bet *model.SpectatorBet) error {
	if err := s.primary.InsertBet(ctx, bet); err != nil {
		return err
	}
	s.rdb.Del(ctx, betsKey(bet.ContestID))
	return nil
}

func (s *CachedStore) UpdateBet(ctx context.Context, bet *model.SpectatorBet) error {
	if err := s.primary.UpdateBet(ctx, bet); err != nil {
		return err
	}
	s.rdb.Del(ctx, betsKey(bet.ContestID))
	return nil
}

func (s *CachedStore) ArchiveContest(ctx context.Context, contest *model.Contest) error {
	if err := s.primary.ArchiveContest(ctx, contest); err != nil {
		return err
	}
	s.cacheContest(ctx, contest)
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) ListBetsByContest(ctx context.Context, contestID string) ([]model.SpectatorBet, error) {
	data, err := s.rdb.Get(ctx, betsKey(contestID)).Bytes()
	if err == nil {
		var bets []model.SpectatorBet
		if json.Unmarshal(data, &bets) == nil {
			return bets, nil
		}
	}

	bets, err := s.primary.ListBetsByContest(ctx, contestID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bets); err == nil {
		s.rdb.Set(ctx, betsKey(contestID), data, s.ttl)
	}
	return bets, nil
}

func (s *CachedStore) GetArchivedContest(ctx context.Context, id string) (*model.Contest, error) {
	data, err := s.rdb.Get(ctx, contestKey(id)).Bytes()
	if err == nil {
		var c model.Contest
		if json.Unmarshal(data, &c) == nil {
			return &c, nil
		}
	}

	c, err := s.primary.GetArchivedContest(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheContest(ctx, c)
	return c, nil
}

// --- Cache helpers ---

func (s *CachedStore) cacheContest(ctx context.Context, c *model.Contest) {
	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, contestKey(c.ID), data, s.ttl)
	}
}

func contestKey(id string) string { return fmt.Sprintf("contest:%s", id) }
func betsKey(id string) string    { return fmt.Sprintf("bets:%s", id) }
