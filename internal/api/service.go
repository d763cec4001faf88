// Package api provides the HTTP handlers for contest lifecycle, trading,
// spectator betting and fund queries.
//
// All monetary values use shopspring/decimal — never float64 for money.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/funds"
	"github.com/solclash/contest-engine/internal/model"
	"github.com/solclash/contest-engine/internal/store"
	"github.com/solclash/contest-engine/internal/wager"
)

// Service exposes the engine and betting market over HTTP. Business-level
// serialization lives in the engine and market; handlers only decode,
// dispatch and encode.
type Service struct {
	engine *contest.Engine
	market *wager.Market
	funds  *funds.Ledger
	store  store.Store // optional: journal and archive queries
}

// NewService creates the HTTP service. store may be nil.
func NewService(engine *contest.Engine, market *wager.Market, fl *funds.Ledger, st store.Store) *Service {
	return &Service{engine: engine, market: market, funds: fl, store: st}
}

// --- Request/Response types ---

// CreateContestRequest is the JSON body for contest creation.
type CreateContestRequest struct {
	Wallet          string          `json:"wallet"`
	EntryFee        decimal.Decimal `json:"entry_fee"` // SOL
	DurationSeconds int64           `json:"duration_seconds"`
	Mode            string          `json:"mode"`
	MaxPlayers      int             `json:"max_players"`
	Trustless       bool            `json:"trustless"`
}

// WalletRequest is the JSON body for operations that only identify the
// caller.
type WalletRequest struct {
	Wallet string `json:"wallet"`
}

// OpenPositionRequest is the JSON body for POST /contests/{id}/positions.
type OpenPositionRequest struct {
	Wallet   string          `json:"wallet"`
	Asset    string          `json:"asset"`
	Side     model.Side      `json:"side"` // "long" or "short"
	Leverage int64           `json:"leverage"`
	Size     decimal.Decimal `json:"size"` // notional, simulated USD
}

// SignedTradeRequest is the JSON body for POST /trades/signed. Signature is
// base64 over the canonical payload.
type SignedTradeRequest struct {
	Wallet    string             `json:"wallet"`
	Message   model.TradeMessage `json:"message"`
	Signature string             `json:"signature"`
}

// PlaceBetRequest is the JSON body for POST /contests/{id}/bets.
type PlaceBetRequest struct {
	Wallet       string          `json:"wallet"`
	BackedPlayer string          `json:"backed_player"`
	Amount       decimal.Decimal `json:"amount"` // SOL
}

// OddsLockRequest is the JSON body for POST /odds-locks.
type OddsLockRequest struct {
	ContestID    string          `json:"contest_id"`
	BackedPlayer string          `json:"backed_player"`
	Amount       decimal.Decimal `json:"amount"`
}

// DepositRequest is the JSON body for POST /wallets/{wallet}/deposit.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount"` // SOL
}

// QueueRequest is the JSON body for POST /queue.
type QueueRequest struct {
	Wallet          string          `json:"wallet"`
	EntryFee        decimal.Decimal `json:"entry_fee"`
	DurationSeconds int64           `json:"duration_seconds"`
	Mode            string          `json:"mode"`
	Trustless       bool            `json:"trustless"`
}

// BalanceResponse reports a wallet's fund state.
type BalanceResponse struct {
	Wallet    string          `json:"wallet"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// --- HTTP Handlers ---

// CreateContest handles POST /api/v1/contests
func (s *Service) CreateContest(w http.ResponseWriter, r *http.Request) {
	var req CreateContestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	cfg := model.ContestConfig{
		EntryFee:        req.EntryFee,
		DurationSeconds: req.DurationSeconds,
		Mode:            req.Mode,
		MaxPlayers:      req.MaxPlayers,
		Trustless:       req.Trustless,
	}
	c, err := s.engine.CreateContest(r.Context(), cfg, req.Wallet)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, c)
}

// GetContest handles GET /api/v1/contests/{contestID}
func (s *Service) GetContest(w http.ResponseWriter, r *http.Request) {
	c, err := s.engine.GetContest(chi.URLParam(r, "contestID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ListContests handles GET /api/v1/contests
// Returns every waiting or active contest.
func (s *Service) ListContests(w http.ResponseWriter, r *http.Request) {
	contests := s.engine.ActiveContests()
	if contests == nil {
		contests = []*model.Contest{}
	}
	writeJSON(w, http.StatusOK, contests)
}

// JoinContest handles POST /api/v1/contests/{contestID}/join
func (s *Service) JoinContest(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	contestID := chi.URLParam(r, "contestID")
	if err := s.engine.JoinContest(r.Context(), contestID, req.Wallet); err != nil {
		writeServiceError(w, err)
		return
	}

	c, err := s.engine.GetContest(contestID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CancelContest handles POST /api/v1/contests/{contestID}/cancel
// Creator-only, and only while the contest is still waiting.
func (s *Service) CancelContest(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	if err := s.engine.CancelContest(r.Context(), chi.URLParam(r, "contestID"), req.Wallet); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.ContestCancelled)})
}

// OpenPosition handles POST /api/v1/contests/{contestID}/positions
func (s *Service) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req OpenPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" || req.Asset == "" {
		writeError(w, "wallet and asset are required", http.StatusBadRequest)
		return
	}

	position, err := s.engine.OpenPosition(r.Context(), chi.URLParam(r, "contestID"),
		req.Wallet, req.Asset, req.Side, req.Leverage, req.Size)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, position)
}

// ClosePosition handles POST /api/v1/contests/{contestID}/positions/{positionID}/close
func (s *Service) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	record, err := s.engine.ClosePosition(r.Context(), chi.URLParam(r, "contestID"),
		req.Wallet, chi.URLParam(r, "positionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// SubmitSignedTrade handles POST /api/v1/trades/signed
// Verifies authorship before touching the ledger.
func (s *Service) SubmitSignedTrade(w http.ResponseWriter, r *http.Request) {
	var req SignedTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		writeError(w, "signature must be base64", http.StatusBadRequest)
		return
	}

	if err := s.engine.SubmitSignedTrade(r.Context(), req.Wallet, req.Message, signature); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// EnqueueMatch handles POST /api/v1/queue
// Adds the wallet to the matchmaking queue for the given parameters.
func (s *Service) EnqueueMatch(w http.ResponseWriter, r *http.Request) {
	var req QueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	cfg := model.ContestConfig{
		EntryFee:        req.EntryFee,
		DurationSeconds: req.DurationSeconds,
		Mode:            req.Mode,
		MaxPlayers:      2,
		Trustless:       req.Trustless,
	}
	added := s.engine.Queue().Enqueue(cfg, req.Wallet)
	writeJSON(w, http.StatusOK, map[string]any{
		"queued":  added,
		"waiting": s.engine.Queue().Waiting(cfg),
	})
}

// DequeueMatch handles DELETE /api/v1/queue/{wallet}
func (s *Service) DequeueMatch(w http.ResponseWriter, r *http.Request) {
	s.engine.Queue().Dequeue(chi.URLParam(r, "wallet"))
	w.WriteHeader(http.StatusNoContent)
}

// GetOdds handles GET /api/v1/contests/{contestID}/odds
func (s *Service) GetOdds(w http.ResponseWriter, r *http.Request) {
	odds, err := s.market.Odds(chi.URLParam(r, "contestID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, odds)
}

// PlaceBet handles POST /api/v1/contests/{contestID}/bets
func (s *Service) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Wallet == "" || req.BackedPlayer == "" {
		writeError(w, "wallet and backed_player are required", http.StatusBadRequest)
		return
	}

	bet, err := s.market.PlaceBet(r.Context(), chi.URLParam(r, "contestID"),
		req.Wallet, req.BackedPlayer, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// ListBets handles GET /api/v1/contests/{contestID}/bets
func (s *Service) ListBets(w http.ResponseWriter, r *http.Request) {
	bets := s.market.BetsForContest(chi.URLParam(r, "contestID"))
	if bets == nil {
		bets = []*model.SpectatorBet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// RequestOddsLock handles POST /api/v1/odds-locks
func (s *Service) RequestOddsLock(w http.ResponseWriter, r *http.Request) {
	var req OddsLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ContestID == "" || req.BackedPlayer == "" {
		writeError(w, "contest_id and backed_player are required", http.StatusBadRequest)
		return
	}

	lock, err := s.market.RequestOddsLock(req.ContestID, req.BackedPlayer, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lock)
}

// ConfirmOddsLock handles POST /api/v1/odds-locks/{lockID}/confirm
// Consumes the lock and places the bet at the locked odds.
func (s *Service) ConfirmOddsLock(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Wallet == "" {
		writeError(w, "wallet is required", http.StatusBadRequest)
		return
	}

	bet, err := s.market.VerifyAndRecordBet(r.Context(), chi.URLParam(r, "lockID"), req.Wallet)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// GetBalance handles GET /api/v1/wallets/{wallet}/balance
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	wallet := chi.URLParam(r, "wallet")
	writeJSON(w, http.StatusOK, BalanceResponse{
		Wallet:    wallet,
		Available: s.funds.Available(wallet),
		Locked:    s.funds.Locked(wallet),
	})
}

// Deposit handles POST /api/v1/wallets/{wallet}/deposit
// Credits the wallet's internal balance. In production this is driven by
// on-chain deposit confirmation, not user input.
func (s *Service) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		writeError(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	wallet := chi.URLParam(r, "wallet")
	s.funds.Deposit(wallet, req.Amount)
	slog.Info("deposit credited", "wallet", wallet, "amount", req.Amount.String())

	writeJSON(w, http.StatusOK, BalanceResponse{
		Wallet:    wallet,
		Available: s.funds.Available(wallet),
		Locked:    s.funds.Locked(wallet),
	})
}

// GetJournal handles GET /api/v1/wallets/{wallet}/journal
// Returns the wallet's durable fund movements.
func (s *Service) GetJournal(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "journal not available", http.StatusNotFound)
		return
	}

	entries, err := s.store.ListJournalEntries(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		writeError(w, "failed to load journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []model.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetArchivedContest handles GET /api/v1/archive/{contestID}
// Serves terminal contests from persistent storage.
func (s *Service) GetArchivedContest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "archive not available", http.StatusNotFound)
		return
	}

	c, err := s.store.GetArchivedContest(r.Context(), chi.URLParam(r, "contestID"))
	if err != nil {
		writeError(w, "contest not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// StatsResponse combines contest and betting platform totals.
type StatsResponse struct {
	Contests contest.Stats `json:"contests"`
	Betting  wager.Stats   `json:"betting"`
}

// GetStats handles GET /api/v1/stats
// Returns running platform totals: contest counts, entry volume, rake,
// bet volume and fees collected.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{
		Contests: s.engine.Stats(),
		Betting:  s.market.Stats(),
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses: unknown ids are
// 404, malformed input and bad signatures are 400, state and concurrency
// conflicts are 409.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrSignature):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrState),
		errors.Is(err, model.ErrLockExpired),
		errors.Is(err, model.ErrLockUsed),
		errors.Is(err, model.ErrSettlementConflict),
		errors.Is(err, model.ErrInsufficientFunds):
		status = http.StatusConflict
	}
	writeError(w, err.Error(), status)
}
