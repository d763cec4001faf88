// Package model defines the core domain types shared across the contest engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContestStatus is the lifecycle state of a contest.
type ContestStatus string

const (
	ContestWaiting   ContestStatus = "waiting"
	ContestActive    ContestStatus = "active"
	ContestCompleted ContestStatus = "completed"
	ContestCancelled ContestStatus = "cancelled"
)

// Terminal reports whether no further state transitions are permitted.
func (s ContestStatus) Terminal() bool {
	return s == ContestCompleted || s == ContestCancelled
}

// Side is the direction of a leveraged position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Valid reports whether the side is one of the two known directions.
func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// ValidLeverage reports whether the multiplier is one of the offered tiers.
func ValidLeverage(leverage int64) bool {
	switch leverage {
	case 2, 5, 10, 20:
		return true
	}
	return false
}

// ContestConfig are the parameters two wallets must agree on to be matched.
type ContestConfig struct {
	EntryFee        decimal.Decimal `json:"entry_fee" db:"entry_fee"` // SOL
	DurationSeconds int64           `json:"duration_seconds" db:"duration_seconds"`
	Mode            string          `json:"mode" db:"mode"` // e.g. "standard"
	MaxPlayers      int             `json:"max_players" db:"max_players"`
	Trustless       bool            `json:"trustless" db:"trustless"` // require signed trades
}

// MatchKey groups compatible configs in the match queue. Two wallets pair
// only if every parameter matches exactly.
func (c ContestConfig) MatchKey() string {
	trustless := "open"
	if c.Trustless {
		trustless = "signed"
	}
	return c.EntryFee.String() + "/" + (time.Duration(c.DurationSeconds) * time.Second).String() +
		"/" + c.Mode + "/" + trustless
}

// Contest is a timed simulated-trading competition between funded wallets.
// Owned exclusively by the contest engine; transport code only ever sees
// copies.
type Contest struct {
	ID                  string           `json:"id" db:"id"`
	Config              ContestConfig    `json:"config"`
	Status              ContestStatus    `json:"status" db:"status"`
	Players             []*ContestPlayer `json:"players"`
	PrizePool           decimal.Decimal  `json:"prize_pool" db:"prize_pool"` // SOL
	WinnerID            string           `json:"winner_id,omitempty" db:"winner_id"`
	Push                bool             `json:"push,omitempty" db:"push"`                                 // dust-pool draw
	NeedsReconciliation bool             `json:"needs_reconciliation,omitempty" db:"needs_reconciliation"` // payout halted mid-way
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	StartedAt           *time.Time       `json:"started_at,omitempty" db:"started_at"`
	EndedAt             *time.Time       `json:"ended_at,omitempty" db:"ended_at"`
	PermanentLedgerRef  string           `json:"permanent_ledger_ref,omitempty" db:"permanent_ledger_ref"`
	SignedTrades        []SignedTrade    `json:"signed_trades,omitempty"`
}

// Player returns the member with the given wallet, or nil.
func (c *Contest) Player(wallet string) *ContestPlayer {
	for _, p := range c.Players {
		if p.WalletID == wallet {
			return p
		}
	}
	return nil
}

// ContestPlayer is one wallet's entry in a contest.
type ContestPlayer struct {
	WalletID string          `json:"wallet_id"`
	Account  *Account        `json:"account"`
	Trades   []TradeRecord   `json:"trades"`
	FinalPnl decimal.Decimal `json:"final_pnl"`
	Rank     int             `json:"rank,omitempty"` // 1-based, assigned at completion
	JoinedAt time.Time       `json:"joined_at"`
}

// Account holds a player's simulated USD-notional trading account.
// Mutated only through the contest ledger.
type Account struct {
	Balance         decimal.Decimal `json:"balance"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	Positions       []*Position     `json:"positions"`
	ClosedPnl       decimal.Decimal `json:"closed_pnl"`
	TotalPnlPercent decimal.Decimal `json:"total_pnl_percent"`
}

// Position returns the open position with the given id, or nil.
func (a *Account) Position(id string) *Position {
	for _, p := range a.Positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// PositionInAsset returns the open position on the given asset, or nil.
// A wallet holds at most one position per asset.
func (a *Account) PositionInAsset(asset string) *Position {
	for _, p := range a.Positions {
		if p.Asset == asset {
			return p
		}
	}
	return nil
}

// Position is an open leveraged position inside a contest account.
type Position struct {
	ID                   string          `json:"id"`
	Asset                string          `json:"asset"`
	Side                 Side            `json:"side"`
	Leverage             int64           `json:"leverage"`
	Size                 decimal.Decimal `json:"size"` // notional USD
	EntryPrice           decimal.Decimal `json:"entry_price"`
	CurrentPrice         decimal.Decimal `json:"current_price"`
	LiquidationPrice     decimal.Decimal `json:"liquidation_price"`
	UnrealizedPnl        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnlPercent decimal.Decimal `json:"unrealized_pnl_percent"`
	OpenedAt             time.Time       `json:"opened_at"`
}

// Margin is the capital at risk: size / leverage.
func (p *Position) Margin() decimal.Decimal {
	return p.Size.Div(decimal.NewFromInt(p.Leverage))
}

// Trade actions recorded in the per-player log.
const (
	TradeOpen      = "open"
	TradeClose     = "close"
	TradeLiquidate = "liquidation"
)

// TradeRecord is an immutable log entry. Once created it is never modified.
type TradeRecord struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	Action     string          `json:"action"` // open | close | liquidation
	Asset      string          `json:"asset"`
	Side       Side            `json:"side"`
	Leverage   int64           `json:"leverage"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
	Pnl        decimal.Decimal `json:"pnl"` // realized, zero for opens
	Timestamp  time.Time       `json:"timestamp"`
}

// TradeMessage is the canonical payload a wallet signs to prove authorship
// of a trade action.
type TradeMessage struct {
	Version    int             `json:"version"`
	ContestID  string          `json:"contest_id"`
	Action     string          `json:"action"` // open | close
	Asset      string          `json:"asset,omitempty"`
	Side       Side            `json:"side,omitempty"`
	Leverage   int64           `json:"leverage,omitempty"`
	Size       decimal.Decimal `json:"size,omitempty"`
	Timestamp  int64           `json:"timestamp"` // unix seconds
	Nonce      string          `json:"nonce"`
	PositionID string          `json:"position_id,omitempty"`
}

// SignedTrade pairs a verified trade message with its detached signature,
// retained for later submission to the permanent ledger. Append-only.
type SignedTrade struct {
	Wallet    string       `json:"wallet"`
	Message   TradeMessage `json:"message"`
	Payload   []byte       `json:"payload"`   // canonical signed bytes
	Signature []byte       `json:"signature"` // ed25519 over Payload
	Verified  bool         `json:"verified"`
}

// BetStatus is the settlement state of a spectator bet. A bet transitions
// exactly once out of pending.
type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetWon       BetStatus = "won"
	BetLost      BetStatus = "lost"
	BetCancelled BetStatus = "cancelled"
	BetPush      BetStatus = "push"
)

// SpectatorBet is a third-party wager on a contest outcome.
type SpectatorBet struct {
	ID              string          `json:"id" db:"id"`
	ContestID       string          `json:"contest_id" db:"contest_id"`
	BettorWallet    string          `json:"bettor_wallet" db:"bettor_wallet"`
	BackedPlayer    string          `json:"backed_player" db:"backed_player"`
	Amount          decimal.Decimal `json:"amount" db:"amount"` // SOL
	OddsAtPlacement decimal.Decimal `json:"odds_at_placement" db:"odds_at_placement"`
	PotentialPayout decimal.Decimal `json:"potential_payout" db:"potential_payout"` // estimate until settlement
	Payout          decimal.Decimal `json:"payout" db:"payout"`                     // actual, set at settlement
	Status          BetStatus       `json:"status" db:"status"`
	PlacedAt        time.Time       `json:"placed_at" db:"placed_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	LockTx          string          `json:"lock_tx,omitempty" db:"lock_tx"` // fund-lock reference
}

// OddsLock pins quoted odds for a short window so a bet confirmed over a
// slower external channel keeps its price. Single-use: Used goes false→true
// exactly once and never reverts.
type OddsLock struct {
	ID           string          `json:"id"`
	ContestID    string          `json:"contest_id"`
	BackedPlayer string          `json:"backed_player"`
	Amount       decimal.Decimal `json:"amount"`
	LockedOdds   decimal.Decimal `json:"locked_odds"`
	ExpiresAt    time.Time       `json:"expires_at"`
	Used         bool            `json:"used"`
}

// JournalEntry is a durable record of a fund movement, keyed by
// (purpose, ref_id) for idempotent replay after a crash.
type JournalEntry struct {
	ID        string          `json:"id" db:"id"`
	Wallet    string          `json:"wallet" db:"wallet"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	Purpose   string          `json:"purpose" db:"purpose"`
	RefID     string          `json:"ref_id" db:"ref_id"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}
