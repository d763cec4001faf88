// Package pricefeed supplies asset prices to the contest engine. The
// production deployment bridges an exchange websocket into SetPrice; tests
// and local runs use the deterministic simulator.
package pricefeed

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Feed is a mutable price table with snapshot reads.
type Feed struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewFeed creates a feed seeded with the given prices.
func NewFeed(initial map[string]decimal.Decimal) *Feed {
	prices := make(map[string]decimal.Decimal, len(initial))
	for asset, price := range initial {
		prices[asset] = price
	}
	return &Feed{prices: prices}
}

// GetPrice returns the latest price for one asset.
func (f *Feed) GetPrice(asset string) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	price, ok := f.prices[asset]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("pricefeed: no price for %s", asset)
	}
	return price, nil
}

// Prices returns a copy of the full table.
func (f *Feed) Prices() map[string]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(f.prices))
	for asset, price := range f.prices {
		out[asset] = price
	}
	return out
}

// SetPrice updates one asset.
func (f *Feed) SetPrice(asset string, price decimal.Decimal) {
	f.mu.Lock()
	f.prices[asset] = price
	f.mu.Unlock()
}

// SetPrices updates several assets at once.
func (f *Feed) SetPrices(prices map[string]decimal.Decimal) {
	f.mu.Lock()
	for asset, price := range prices {
		f.prices[asset] = price
	}
	f.mu.Unlock()
}

// Simulator drives a Feed with a deterministic sinusoidal walk around each
// asset's seed price. Good enough for demos and load tests; amplitude stays
// within ±2% so liquidations only happen when players over-leverage.
type Simulator struct {
	feed  *Feed
	seeds map[string]decimal.Decimal
	step  int
	done  chan struct{}
	once  sync.Once
}

// NewSimulator wraps a feed with the simulated walk.
func NewSimulator(feed *Feed) *Simulator {
	return &Simulator{
		feed:  feed,
		seeds: feed.Prices(),
		done:  make(chan struct{}),
	}
}

// Run ticks the simulation until Stop, invoking onTick with each fresh
// snapshot. Blocks; run in a goroutine.
func (s *Simulator) Run(interval time.Duration, onTick func(map[string]decimal.Decimal)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.step++
			for asset, seed := range s.seeds {
				wobble := 1 + 0.02*math.Sin(float64(s.step)/7+float64(len(asset)))
				s.feed.SetPrice(asset, seed.Mul(decimal.NewFromFloat(wobble)))
			}
			if onTick != nil {
				onTick(s.feed.Prices())
			}
		}
	}
}

// Stop terminates Run. Safe to call more than once.
func (s *Simulator) Stop() {
	s.once.Do(func() { close(s.done) })
}
