package contest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/chain"
	"github.com/solclash/contest-engine/internal/event"
	"github.com/solclash/contest-engine/internal/funds"
	"github.com/solclash/contest-engine/internal/metrics"
	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/sched"
)

// PriceSource supplies asset prices for position pricing and revaluation.
type PriceSource interface {
	// GetPrice returns the latest price for one asset.
	GetPrice(asset string) (decimal.Decimal, error)
	// Prices returns a snapshot of every tracked asset.
	Prices() map[string]decimal.Decimal
}

// Verifier validates a signed trade message against a wallet's public key,
// returning the canonical payload that was signed.
type Verifier interface {
	Verify(wallet string, msg model.TradeMessage, signature []byte) ([]byte, error)
}

// Archiver persists terminal contests. Satisfied by store.Store.
type Archiver interface {
	ArchiveContest(ctx context.Context, contest *model.Contest) error
}

// Params are the engine's tunable constants. Defaults mirror the platform
// rules: 0.1 SOL minimum entry, 10% rake, 30 minute contests.
type Params struct {
	MinEntryFee       decimal.Decimal
	RakePercent       decimal.Decimal // fraction of the prize pool
	StartingBalance   decimal.Decimal // simulated USD per player
	MinPositionSize   decimal.Decimal
	DustThreshold     decimal.Decimal // prize pools below this settle as a push
	DefaultDuration   time.Duration
	MatchTickInterval time.Duration
	TerminalRetention time.Duration // how long finished contests stay queryable in memory
	TreasuryWallet    string
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		MinEntryFee:       decimal.NewFromFloat(0.1),
		RakePercent:       decimal.NewFromFloat(0.10),
		StartingBalance:   decimal.NewFromInt(10000),
		MinPositionSize:   decimal.NewFromInt(1),
		DustThreshold:     decimal.NewFromFloat(0.001),
		DefaultDuration:   30 * time.Minute,
		MatchTickInterval: time.Second,
		TerminalRetention: 10 * time.Minute,
		TreasuryWallet:    "treasury",
	}
}

// CompletedPayload rides the contest.completed event and carries everything
// settlement needs.
type CompletedPayload struct {
	WinnerID string         `json:"winner_id,omitempty"`
	Push     bool           `json:"push"`
	Ranks    map[string]int `json:"ranks"`
}

// Engine orchestrates the contest lifecycle. All contest state is owned by
// the engine and mutated under a single mutex; timer callbacks and ticks
// re-enter through the same lock.
type Engine struct {
	mu     sync.Mutex
	params Params

	ledger   *Ledger
	queue    *MatchQueue
	funds    *funds.Ledger
	verifier Verifier
	prices   PriceSource
	bus      *event.Bus
	timers   *sched.Scheduler
	archive  Archiver     // optional
	chain    chain.Client // permanent ledger, optional

	contests   map[string]*model.Contest
	byWallet   map[string]string                      // wallet → live contest id
	entryLocks map[string]map[string]*funds.LockToken // contest id → wallet → lock

	// Running platform totals, guarded by mu.
	created       int64
	completed     int64
	cancelled     int64
	entryVolume   decimal.Decimal
	rakeCollected decimal.Decimal
}

// Stats is a point-in-time snapshot of the engine's platform accounting.
type Stats struct {
	ContestsCreated   int64           `json:"contests_created"`
	ContestsCompleted int64           `json:"contests_completed"`
	ContestsCancelled int64           `json:"contests_cancelled"`
	ActiveContests    int64           `json:"active_contests"`
	EntryVolume       decimal.Decimal `json:"entry_volume"`   // gross SOL locked as entries
	RakeCollected     decimal.Decimal `json:"rake_collected"` // SOL credited to the treasury
}

// NewEngine wires the engine. archive may be nil (no persistence of
// terminal contests); verifier may be nil if no trustless contests are
// offered.
func NewEngine(params Params, ledger *Ledger, fl *funds.Ledger, prices PriceSource, bus *event.Bus, timers *sched.Scheduler, verifier Verifier, archive Archiver) *Engine {
	if params.TerminalRetention <= 0 {
		params.TerminalRetention = 10 * time.Minute
	}
	return &Engine{
		params:     params,
		ledger:     ledger,
		queue:      NewMatchQueue(),
		funds:      fl,
		verifier:   verifier,
		prices:     prices,
		bus:        bus,
		timers:     timers,
		archive:    archive,
		contests:   make(map[string]*model.Contest),
		byWallet:   make(map[string]string),
		entryLocks: make(map[string]map[string]*funds.LockToken),
	}
}

// Queue exposes the match queue for direct enqueue/dequeue.
func (e *Engine) Queue() *MatchQueue { return e.queue }

// SetPermanentLedger attaches the chain client. Terminal contests are
// submitted asynchronously and the resulting reference is recorded on the
// contest once the submission lands.
func (e *Engine) SetPermanentLedger(client chain.Client) { e.chain = client }

// StartMatchLoop begins the periodic pairing tick.
func (e *Engine) StartMatchLoop() {
	e.timers.Every("match-tick", e.params.MatchTickInterval, e.matchTick)
}

// matchTick pairs the first two entries of each non-empty queue and creates
// a contest for them. If one side cannot fund the entry, the other is
// re-queued at the front of arrival order (re-enqueued; FIFO within a tick
// keeps relative order).
func (e *Engine) matchTick() {
	ctx := context.Background()
	for _, p := range e.queue.popPairs() {
		c, err := e.CreateContest(ctx, p.Config, p.First)
		if err != nil {
			slog.Warn("match pairing: creator entry failed", "wallet", p.First, "err", err)
			e.queue.Enqueue(p.Config, p.Second)
			continue
		}
		if err := e.JoinContest(ctx, c.ID, p.Second); err != nil {
			slog.Warn("match pairing: opponent entry failed", "wallet", p.Second, "err", err)
			// Unwind the half-created contest; creator goes back in line.
			if cErr := e.CancelContest(ctx, c.ID, p.First); cErr == nil {
				e.queue.Enqueue(p.Config, p.First)
			}
		}
	}
}

// CreateContest opens a new contest in waiting state and auto-joins the
// creator, locking the entry fee.
func (e *Engine) CreateContest(ctx context.Context, cfg model.ContestConfig, wallet string) (*model.Contest, error) {
	if cfg.EntryFee.LessThan(e.params.MinEntryFee) {
		return nil, fmt.Errorf("%w: entry fee %s below minimum %s", model.ErrValidation, cfg.EntryFee, e.params.MinEntryFee)
	}
	if cfg.MaxPlayers < 2 {
		cfg.MaxPlayers = 2
	}
	if cfg.DurationSeconds <= 0 {
		cfg.DurationSeconds = int64(e.params.DefaultDuration / time.Second)
	}
	if cfg.Mode == "" {
		cfg.Mode = "standard"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if live, ok := e.byWallet[wallet]; ok {
		return nil, fmt.Errorf("%w: wallet already in contest %s", model.ErrState, live)
	}

	id := uuid.New().String()
	lock, err := e.funds.VerifyAndLock(ctx, wallet, cfg.EntryFee, "contest_entry", id+":"+wallet)
	if err != nil {
		return nil, err
	}

	c := &model.Contest{
		ID:        id,
		Config:    cfg,
		Status:    model.ContestWaiting,
		PrizePool: cfg.EntryFee,
		CreatedAt: time.Now().UTC(),
	}
	c.Players = append(c.Players, e.newPlayer(wallet))

	e.contests[id] = c
	e.byWallet[wallet] = id
	e.entryLocks[id] = map[string]*funds.LockToken{wallet: lock}
	e.created++
	e.entryVolume = e.entryVolume.Add(cfg.EntryFee)

	metrics.ActiveContests.Inc()
	slog.Info("contest created", "contest", id, "creator", wallet, "entry_fee", cfg.EntryFee.String())
	e.bus.Publish(event.TopicContestCreated, id, copyContest(c))
	return copyContest(c), nil
}

// JoinContest adds a wallet to a waiting contest, locking the entry fee.
// Reaching MaxPlayers starts the contest and schedules its end timer.
func (e *Engine) JoinContest(ctx context.Context, contestID, wallet string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contests[contestID]
	if !ok {
		return fmt.Errorf("%w: contest %s", model.ErrNotFound, contestID)
	}
	if c.Status != model.ContestWaiting {
		return fmt.Errorf("%w: contest %s is %s", model.ErrState, contestID, c.Status)
	}
	if len(c.Players) >= c.Config.MaxPlayers {
		return fmt.Errorf("%w: contest %s is full", model.ErrState, contestID)
	}
	if c.Player(wallet) != nil {
		return fmt.Errorf("%w: wallet already joined", model.ErrState)
	}
	if live, ok := e.byWallet[wallet]; ok {
		return fmt.Errorf("%w: wallet already in contest %s", model.ErrState, live)
	}

	lock, err := e.funds.VerifyAndLock(ctx, wallet, c.Config.EntryFee, "contest_entry", contestID+":"+wallet)
	if err != nil {
		return err
	}

	c.Players = append(c.Players, e.newPlayer(wallet))
	c.PrizePool = c.PrizePool.Add(c.Config.EntryFee)
	e.byWallet[wallet] = contestID
	e.entryLocks[contestID][wallet] = lock
	e.entryVolume = e.entryVolume.Add(c.Config.EntryFee)

	slog.Info("contest joined", "contest", contestID, "wallet", wallet, "players", len(c.Players))

	if len(c.Players) == c.Config.MaxPlayers {
		now := time.Now().UTC()
		c.Status = model.ContestActive
		c.StartedAt = &now
		duration := time.Duration(c.Config.DurationSeconds) * time.Second
		e.timers.After(endTimerKey(contestID), duration, func() { e.EndContest(contestID) })

		slog.Info("contest started", "contest", contestID, "duration", duration)
		e.bus.Publish(event.TopicContestStarted, contestID, copyContest(c))
	}
	return nil
}

// CancelContest aborts a waiting contest. Only the creator may cancel, and
// only before start. Every entry lock is released in full.
func (e *Engine) CancelContest(ctx context.Context, contestID, wallet string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contests[contestID]
	if !ok {
		return fmt.Errorf("%w: contest %s", model.ErrNotFound, contestID)
	}
	if c.Status != model.ContestWaiting {
		return fmt.Errorf("%w: cannot cancel a %s contest", model.ErrState, c.Status)
	}
	if len(c.Players) == 0 || c.Players[0].WalletID != wallet {
		return fmt.Errorf("%w: only the creator may cancel", model.ErrState)
	}

	for _, lock := range e.entryLocks[contestID] {
		e.funds.Release(lock)
	}
	c.Status = model.ContestCancelled
	e.finalize(ctx, c)
	e.cancelled++

	metrics.ActiveContests.Dec()
	metrics.ContestsTotal.WithLabelValues("cancelled").Inc()
	slog.Info("contest cancelled", "contest", contestID)
	e.bus.Publish(event.TopicContestCancelled, contestID, copyContest(c))
	return nil
}

// OpenPosition opens a leveraged position for a participant. Valid only
// while the contest is active. Trustless contests must use the signed path.
func (e *Engine) OpenPosition(ctx context.Context, contestID, wallet, asset string, side model.Side, leverage int64, size decimal.Decimal) (*model.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.openPositionLocked(ctx, contestID, wallet, asset, side, leverage, size, false)
}

func (e *Engine) openPositionLocked(_ context.Context, contestID, wallet, asset string, side model.Side, leverage int64, size decimal.Decimal, signed bool) (*model.Position, error) {
	c, player, err := e.activePlayer(contestID, wallet)
	if err != nil {
		return nil, err
	}
	if c.Config.Trustless && !signed {
		return nil, fmt.Errorf("%w: contest requires signed trades", model.ErrValidation)
	}

	price, err := e.prices.GetPrice(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown asset %s", model.ErrValidation, asset)
	}

	position, record, err := e.ledger.OpenPosition(player.Account, asset, side, leverage, size, price)
	if err != nil {
		return nil, err
	}
	player.Trades = append(player.Trades, *record)

	metrics.TradesTotal.WithLabelValues(model.TradeOpen).Inc()
	e.bus.Publish(event.TopicPositionOpened, contestID, *record)
	return position, nil
}

// ClosePosition realizes a position at the current price. Valid only while
// the contest is active. Trustless contests must use the signed path.
func (e *Engine) ClosePosition(ctx context.Context, contestID, wallet, positionID string) (*model.TradeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closePositionLocked(ctx, contestID, wallet, positionID, false)
}

func (e *Engine) closePositionLocked(_ context.Context, contestID, wallet, positionID string, signed bool) (*model.TradeRecord, error) {
	c, player, err := e.activePlayer(contestID, wallet)
	if err != nil {
		return nil, err
	}
	if c.Config.Trustless && !signed {
		return nil, fmt.Errorf("%w: contest requires signed trades", model.ErrValidation)
	}

	position := player.Account.Position(positionID)
	if position == nil {
		return nil, fmt.Errorf("%w: position %s", model.ErrNotFound, positionID)
	}
	price, err := e.prices.GetPrice(position.Asset)
	if err != nil {
		price = position.CurrentPrice
	}

	record, err := e.ledger.ClosePosition(player.Account, positionID, price)
	if err != nil {
		return nil, err
	}
	player.Trades = append(player.Trades, *record)

	metrics.TradesTotal.WithLabelValues(model.TradeClose).Inc()
	e.bus.Publish(event.TopicPositionClosed, contestID, *record)
	return record, nil
}

// SubmitSignedTrade verifies a canonically signed trade message and, on
// success, executes the corresponding open or close and appends the message
// to the contest's signed-trade log. Verification failure never partially
// mutates the ledger.
func (e *Engine) SubmitSignedTrade(ctx context.Context, wallet string, msg model.TradeMessage, signature []byte) error {
	if e.verifier == nil {
		return fmt.Errorf("%w: signed trades not enabled", model.ErrValidation)
	}

	payload, err := e.verifier.Verify(wallet, msg, signature)
	if err != nil {
		metrics.SignatureRejections.Inc()
		slog.Warn("signed trade rejected", "contest", msg.ContestID, "wallet", wallet, "err", err)
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch msg.Action {
	case model.TradeOpen:
		_, err = e.openPositionLocked(ctx, msg.ContestID, wallet, msg.Asset, msg.Side, msg.Leverage, msg.Size, true)
	case model.TradeClose:
		_, err = e.closePositionLocked(ctx, msg.ContestID, wallet, msg.PositionID, true)
	default:
		err = fmt.Errorf("%w: unknown action %q", model.ErrValidation, msg.Action)
	}
	if err != nil {
		return err
	}

	c := e.contests[msg.ContestID]
	c.SignedTrades = append(c.SignedTrades, model.SignedTrade{
		Wallet:    wallet,
		Message:   msg,
		Payload:   payload,
		Signature: signature,
		Verified:  true,
	})
	return nil
}

// HandleTick revalues every active contest with fresh prices. Liquidations
// complete before the tick event for that contest is published, so
// observers never see a position that should already be gone. A contest
// whose players are all wiped out ends immediately.
func (e *Engine) HandleTick(prices map[string]decimal.Decimal) {
	e.mu.Lock()

	var ended []string
	for id, c := range e.contests {
		if c.Status != model.ContestActive {
			continue
		}

		wiped := true
		for _, player := range c.Players {
			for _, record := range e.ledger.Revalue(player.Account, prices) {
				player.Trades = append(player.Trades, *record)
				metrics.LiquidationsTotal.Inc()
				slog.Info("position liquidated",
					"contest", id, "wallet", player.WalletID,
					"asset", record.Asset, "pnl", record.Pnl.String())
				e.bus.Publish(event.TopicPositionLiquidated, id, *record)
			}
			if len(player.Account.Positions) > 0 || player.Account.Balance.IsPositive() {
				wiped = false
			}
		}

		e.bus.Publish(event.TopicPriceTick, id, prices)
		if wiped {
			ended = append(ended, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ended {
		e.EndContest(id)
	}
}

// EndContest finishes an active contest: force-closes remaining positions,
// ranks players, pays the prize pool and emits the completed event.
// Idempotent: a second call for the same contest is a no-op.
func (e *Engine) EndContest(contestID string) {
	ctx := context.Background()

	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contests[contestID]
	if !ok || c.Status != model.ContestActive {
		return
	}

	// Final revaluation, then force-close everything at current prices.
	prices := e.prices.Prices()
	for _, player := range c.Players {
		for _, record := range e.ledger.Revalue(player.Account, prices) {
			player.Trades = append(player.Trades, *record)
		}
		for _, record := range e.ledger.ForceCloseAll(player.Account, prices) {
			player.Trades = append(player.Trades, *record)
		}
		player.FinalPnl = player.Account.ClosedPnl
	}

	// Rank by total PnL percent descending; ties break by join order.
	ranked := make([]*model.ContestPlayer, len(c.Players))
	copy(ranked, c.Players)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Account.TotalPnlPercent.GreaterThan(ranked[j].Account.TotalPnlPercent)
	})
	ranks := make(map[string]int, len(ranked))
	for i, player := range ranked {
		player.Rank = i + 1
		ranks[player.WalletID] = player.Rank
	}

	now := time.Now().UTC()
	c.Status = model.ContestCompleted
	c.EndedAt = &now
	e.timers.Cancel(endTimerKey(contestID))

	push := c.PrizePool.LessThan(e.params.DustThreshold)
	if push {
		// Pool too small to rake meaningfully: refund all entries.
		c.Push = true
		for _, lock := range e.entryLocks[contestID] {
			e.funds.Release(lock)
		}
		slog.Info("contest settled as push", "contest", contestID, "pool", c.PrizePool.String())
	} else {
		c.WinnerID = ranked[0].WalletID
		if err := e.payPrizes(ctx, c, ranked); err != nil {
			// Halt the payout for manual reconciliation. Credits already
			// made are journaled per (purpose, ref) and replay as no-ops.
			c.NeedsReconciliation = true
			metrics.SettlementFailures.Inc()
			slog.Error("prize payout halted for reconciliation", "contest", contestID, "err", err)
		}
	}

	e.finalize(ctx, c)
	e.submitToLedger(c)
	e.completed++

	metrics.ActiveContests.Dec()
	metrics.ContestsTotal.WithLabelValues("completed").Inc()
	slog.Info("contest completed", "contest", contestID, "winner", c.WinnerID, "push", push)
	e.bus.Publish(event.TopicContestCompleted, contestID, CompletedPayload{
		WinnerID: c.WinnerID,
		Push:     push,
		Ranks:    ranks,
	})
}

// payPrizes captures entry locks into the pool and distributes
// prizePool*(1-rake): winner-take-all for two players, 60/30/10 beyond.
// The first failed capture or credit aborts the distribution; the rake is
// credited only after every prize landed, so an undistributed prize can
// never leak into the treasury.
func (e *Engine) payPrizes(ctx context.Context, c *model.Contest, ranked []*model.ContestPlayer) error {
	for _, lock := range e.entryLocks[c.ID] {
		if err := e.funds.Capture(ctx, lock); err != nil {
			return fmt.Errorf("capture entry for %s: %w", lock.Wallet, err)
		}
	}

	totalPrize := c.PrizePool.Mul(one.Sub(e.params.RakePercent))
	shares := []decimal.Decimal{one}
	if len(ranked) > 2 {
		shares = []decimal.Decimal{
			decimal.NewFromFloat(0.6),
			decimal.NewFromFloat(0.3),
			decimal.NewFromFloat(0.1),
		}
	}

	distributed := decimal.Zero
	for i, share := range shares {
		if i >= len(ranked) {
			break
		}
		amount := totalPrize.Mul(share).RoundDown(9)
		if err := e.funds.Credit(ctx, ranked[i].WalletID, amount, "contest_prize", c.ID+":"+ranked[i].WalletID); err != nil {
			return fmt.Errorf("prize credit for %s: %w", ranked[i].WalletID, err)
		}
		distributed = distributed.Add(amount)
	}

	// Rake plus rounding dust goes to the treasury.
	rake := c.PrizePool.Sub(distributed)
	if rake.IsPositive() && e.params.TreasuryWallet != "" {
		if err := e.funds.Credit(ctx, e.params.TreasuryWallet, rake, "contest_rake", c.ID); err != nil {
			return fmt.Errorf("rake credit: %w", err)
		}
		e.rakeCollected = e.rakeCollected.Add(rake)
	}
	return nil
}

// finalize unmaps wallets, forgets locks, archives the terminal contest and
// schedules its eviction from memory so the contests map stays bounded.
func (e *Engine) finalize(ctx context.Context, c *model.Contest) {
	for _, player := range c.Players {
		if e.byWallet[player.WalletID] == c.ID {
			delete(e.byWallet, player.WalletID)
		}
	}
	delete(e.entryLocks, c.ID)

	if e.archive != nil {
		if err := e.archive.ArchiveContest(ctx, c); err != nil {
			slog.Error("contest archive failed", "contest", c.ID, "err", err)
		}
	}

	id := c.ID
	e.timers.After("contest-evict:"+id, e.params.TerminalRetention, func() { e.evictContest(id) })
}

// evictContest drops a terminal contest from memory. The archived copy
// remains the durable record.
func (e *Engine) evictContest(contestID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.contests[contestID]; ok && c.Status.Terminal() {
		delete(e.contests, contestID)
	}
}

// submitToLedger records the outcome on the permanent ledger in the
// background: first each wallet's signed-trade log, then the settlement.
// Called with e.mu held; the goroutine works on a snapshot and re-locks
// only to store the reference.
func (e *Engine) submitToLedger(c *model.Contest) {
	if e.chain == nil {
		return
	}
	snapshot := copyContest(c)
	go func() {
		ctx := context.Background()
		byWallet := make(map[string][]model.SignedTrade)
		for _, st := range snapshot.SignedTrades {
			byWallet[st.Wallet] = append(byWallet[st.Wallet], st)
		}
		for wallet, trades := range byWallet {
			if _, err := e.chain.SubmitSignedTrades(ctx, snapshot.ID, wallet, trades); err != nil {
				slog.Error("signed trade submission failed",
					"contest", snapshot.ID, "wallet", wallet, "err", err)
				return
			}
		}

		ref, err := e.chain.SettleOnChain(ctx, snapshot.ID, snapshot.WinnerID)
		if err != nil {
			slog.Error("permanent ledger settlement failed", "contest", snapshot.ID, "err", err)
			return
		}
		e.mu.Lock()
		if live, ok := e.contests[snapshot.ID]; ok {
			live.PermanentLedgerRef = ref
		}
		e.mu.Unlock()

		// Re-archive so the reference survives the in-memory eviction.
		snapshot.PermanentLedgerRef = ref
		if e.archive != nil {
			if err := e.archive.ArchiveContest(ctx, snapshot); err != nil {
				slog.Error("contest re-archive failed", "contest", snapshot.ID, "err", err)
			}
		}
	}()
}

// GetContest returns a snapshot copy of a contest.
func (e *Engine) GetContest(contestID string) (*model.Contest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contests[contestID]
	if !ok {
		return nil, fmt.Errorf("%w: contest %s", model.ErrNotFound, contestID)
	}
	return copyContest(c), nil
}

// ActiveContests returns snapshot copies of every waiting or active contest.
func (e *Engine) ActiveContests() []*model.Contest {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*model.Contest
	for _, c := range e.contests {
		if !c.Status.Terminal() {
			out = append(out, copyContest(c))
		}
	}
	return out
}

// Stats returns the engine's running platform totals.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var active int64
	for _, c := range e.contests {
		if !c.Status.Terminal() {
			active++
		}
	}
	return Stats{
		ContestsCreated:   e.created,
		ContestsCompleted: e.completed,
		ContestsCancelled: e.cancelled,
		ActiveContests:    active,
		EntryVolume:       e.entryVolume,
		RakeCollected:     e.rakeCollected,
	}
}

// Snapshot implements the wagering market's view of a contest: status,
// participants and scheduled end.
func (e *Engine) Snapshot(contestID string) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.contests[contestID]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: contest %s", model.ErrNotFound, contestID)
	}
	snap := Snapshot{ID: c.ID, Status: c.Status}
	for _, player := range c.Players {
		snap.Players = append(snap.Players, player.WalletID)
	}
	if c.StartedAt != nil {
		snap.EndsAt = c.StartedAt.Add(time.Duration(c.Config.DurationSeconds) * time.Second)
	}
	return snap, nil
}

// Snapshot is the read-only contest view consumed by the wagering market.
type Snapshot struct {
	ID      string
	Status  model.ContestStatus
	Players []string
	EndsAt  time.Time
}

func (e *Engine) activePlayer(contestID, wallet string) (*model.Contest, *model.ContestPlayer, error) {
	c, ok := e.contests[contestID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: contest %s", model.ErrNotFound, contestID)
	}
	if c.Status != model.ContestActive {
		return nil, nil, fmt.Errorf("%w: contest %s is %s", model.ErrState, contestID, c.Status)
	}
	player := c.Player(wallet)
	if player == nil {
		return nil, nil, fmt.Errorf("%w: wallet %s not in contest", model.ErrState, wallet)
	}
	return c, player, nil
}

func (e *Engine) newPlayer(wallet string) *model.ContestPlayer {
	return &model.ContestPlayer{
		WalletID: wallet,
		Account: &model.Account{
			Balance:         e.params.StartingBalance,
			StartingBalance: e.params.StartingBalance,
		},
		JoinedAt: time.Now().UTC(),
	}
}

func endTimerKey(contestID string) string { return "contest-end:" + contestID }

// copyContest deep-copies a contest so callers can never mutate engine
// state through a snapshot.
func copyContest(c *model.Contest) *model.Contest {
	cp := *c
	cp.Players = make([]*model.ContestPlayer, len(c.Players))
	for i, player := range c.Players {
		p := *player
		acct := *player.Account
		acct.Positions = make([]*model.Position, len(player.Account.Positions))
		for j, position := range player.Account.Positions {
			pos := *position
			acct.Positions[j] = &pos
		}
		p.Account = &acct
		p.Trades = append([]model.TradeRecord(nil), player.Trades...)
		cp.Players[i] = &p
	}
	cp.SignedTrades = append([]model.SignedTrade(nil), c.SignedTrades...)
	return &cp
}
