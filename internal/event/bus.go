// Package event is the in-process publish/subscribe bus carrying contest
// lifecycle and market events to the transport layer. Publish never blocks:
// slow subscribers drop messages rather than stall the engine.
package event

import (
	"sync"
	"time"
)

// Topic identifies an event stream.
type Topic string

const (
	TopicContestCreated     Topic = "contest.created"
	TopicContestStarted     Topic = "contest.started"
	TopicContestCompleted   Topic = "contest.completed"
	TopicContestCancelled   Topic = "contest.cancelled"
	TopicPositionOpened     Topic = "position.opened"
	TopicPositionClosed     Topic = "position.closed"
	TopicPositionLiquidated Topic = "position.liquidated"
	TopicPriceTick          Topic = "price.tick"
	TopicOddsUpdated        Topic = "odds.updated"
	TopicBetPlaced          Topic = "bet.placed"
	TopicBetSettled         Topic = "bet.settled"
)

// Event is one published message. Payload is a topic-specific struct owned
// by the publisher; subscribers must not mutate it.
type Event struct {
	Topic     Topic     `json:"topic"`
	ContestID string    `json:"contest_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

type subscriber struct {
	ch     chan Event
	topics map[Topic]bool // nil = all topics
}

// Bus fans events out to subscribers. Zero value is not usable; call New.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a buffered channel receiving events for the given
// topics (all topics if none are given). The returned cancel func closes
// the channel and must be called exactly once.
func (b *Bus) Subscribe(buffer int, topics ...Topic) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(topics) > 0 {
		sub.topics = make(map[Topic]bool, len(topics))
		for _, t := range topics {
			sub.topics[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
		b.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers the event to every matching subscriber. Fire-and-forget:
// a full subscriber buffer drops the event for that subscriber only.
func (b *Bus) Publish(topic Topic, contestID string, payload any) {
	ev := Event{Topic: topic, ContestID: contestID, Payload: payload, At: time.Now().UTC()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil && !sub.topics[topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Drop if buffer full to avoid blocking the publisher.
		}
	}
}
