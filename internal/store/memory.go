package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/solclash/contest-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	journal  []model.JournalEntry
	journalK map[string]bool // purpose|ref_id
	bets     map[string]*model.SpectatorBet
	contests map[string]*model.Contest
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		journalK: make(map[string]bool),
		bets:     make(map[string]*model.SpectatorBet),
		contests: make(map[string]*model.Contest),
	}
}

func journalKey(purpose, refID string) string { return purpose + "|" + refID }

func (s *MemoryStore) InsertJournalEntry(_ context.Context, entry *model.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := journalKey(entry.Purpose, entry.RefID)
	if s.journalK[key] {
		return ErrDuplicateEntry
	}
	s.journalK[key] = true
	s.journal = append(s.journal, *entry)
	return nil
}

func (s *MemoryStore) ListJournalEntries(_ context.Context, wallet string) ([]model.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.JournalEntry
	for _, e := range s.journal {
		if e.Wallet == wallet {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) InsertBet(_ context.Context, bet *model.SpectatorBet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bets[bet.ID]; ok {
		return fmt.Errorf("bet %s already exists", bet.ID)
	}
	// Store a copy to avoid external mutation.
	cp := *bet
	s.bets[bet.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateBet(_ context.Context, bet *model.SpectatorBet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bets[bet.ID]; !ok {
		return fmt.Errorf("bet %s not found", bet.ID)
	}
	cp := *bet
	s.bets[bet.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBetsByContest(_ context.Context, contestID string) ([]model.SpectatorBet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SpectatorBet
	for _, b := range s.bets {
		if b.ContestID == contestID {
			result = append(result, *b)
		}
	}
	return result, nil
}

func (s *MemoryStore) ArchiveContest(_ context.Context, contest *model.Contest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *contest
	s.contests[contest.ID] = &cp
	return nil
}

func (s *MemoryStore) GetArchivedContest(_ context.Context, id string) (*model.Contest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contests[id]
	if !ok {
		return nil, fmt.Errorf("contest %s not found", id)
	}
	cp := *c
	return &cp, nil
}
