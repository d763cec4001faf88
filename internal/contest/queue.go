package contest

import (
	"sync"
	"time"

	"github.com/solclash/contest-engine/internal/model"
)

// queueEntry is one wallet waiting to be matched under a config key.
type queueEntry struct {
	Wallet     string
	Config     model.ContestConfig
	EnqueuedAt time.Time
}

// MatchQueue pairs waiting wallets with identical contest parameters.
// Strict FIFO per key; no priority. The engine drives pairing with a
// periodic tick.
type MatchQueue struct {
	mu     sync.Mutex
	queues map[string][]queueEntry
}

// NewMatchQueue creates an empty queue.
func NewMatchQueue() *MatchQueue {
	return &MatchQueue{queues: make(map[string][]queueEntry)}
}

// Enqueue appends the wallet under the config's match key. Idempotent: a
// wallet already queued under the same key is a no-op. Returns whether the
// wallet was added.
func (q *MatchQueue) Enqueue(cfg model.ContestConfig, wallet string) bool {
	key := cfg.MatchKey()

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.queues[key] {
		if e.Wallet == wallet {
			return false
		}
	}
	q.queues[key] = append(q.queues[key], queueEntry{
		Wallet:     wallet,
		Config:     cfg,
		EnqueuedAt: time.Now().UTC(),
	})
	return true
}

// Dequeue removes the wallet from every key. Used when a wallet declines a
// match or goes offline before pairing.
func (q *MatchQueue) Dequeue(wallet string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for key, entries := range q.queues {
		kept := entries[:0]
		for _, e := range entries {
			if e.Wallet != wallet {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(q.queues, key)
		} else {
			q.queues[key] = kept
		}
	}
}

// pair is two wallets matched under one config.
type pair struct {
	Config model.ContestConfig
	First  string
	Second string
}

// popPairs removes and returns the first two entries of every queue that
// holds at least two, atomically per queue: both entries pop or neither.
func (q *MatchQueue) popPairs() []pair {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pairs []pair
	for key, entries := range q.queues {
		for len(entries) >= 2 {
			pairs = append(pairs, pair{
				Config: entries[0].Config,
				First:  entries[0].Wallet,
				Second: entries[1].Wallet,
			})
			entries = entries[2:]
		}
		if len(entries) == 0 {
			delete(q.queues, key)
		} else {
			q.queues[key] = entries
		}
	}
	return pairs
}

// Waiting returns the number of wallets queued under the config's key.
func (q *MatchQueue) Waiting(cfg model.ContestConfig) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[cfg.MatchKey()])
}
