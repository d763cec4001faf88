package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/solclash/contest-engine/internal/api"
	"github.com/solclash/contest-engine/internal/chain"
	"github.com/solclash/contest-engine/internal/contest"
	"github.com/solclash/contest-engine/internal/event"
	"github.com/solclash/contest-engine/internal/funds"
	"github.com/solclash/contest-engine/internal/metrics"
	"github.com/solclash/contest-engine/internal/pricefeed"
	"github.com/solclash/contest-engine/internal/risk"
	"github.com/solclash/contest-engine/internal/sched"
	"github.com/solclash/contest-engine/internal/signing"
	"github.com/solclash/contest-engine/internal/store"
	"github.com/solclash/contest-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core plumbing ---
	bus := event.New()
	timers := sched.New()
	defer timers.Stop()

	fundLedger := funds.NewLedger(st)

	// --- Price feed ---
	feed := pricefeed.NewFeed(map[string]decimal.Decimal{
		"SOL": decimal.NewFromInt(150),
		"BTC": decimal.NewFromInt(65000),
		"ETH": decimal.NewFromInt(3200),
	})
	if assets := os.Getenv("FEED_ASSETS"); assets != "" {
		for _, asset := range strings.Split(assets, ",") {
			feed.SetPrice(strings.TrimSpace(asset), decimal.NewFromInt(100))
		}
	}

	// --- Position limits ---
	maxAssetNotional := decimal.NewFromInt(50000)
	maxMarginFraction := decimal.NewFromFloat(0.9)
	limiter := risk.NewPositionLimiter(maxAssetNotional, maxMarginFraction)

	// --- Contest engine ---
	params := contest.DefaultParams()
	if treasury := os.Getenv("TREASURY_WALLET"); treasury != "" {
		params.TreasuryWallet = treasury
	}

	ledger := contest.NewLedger(params.MinPositionSize, decimal.NewFromFloat(0.005), limiter)
	verifier := signing.NewVerifier(60 * time.Second)
	engine := contest.NewEngine(params, ledger, fundLedger, feed, bus, timers, verifier, st)
	engine.SetPermanentLedger(chain.NewRetrier(chain.Noop{}))
	engine.StartMatchLoop()

	// --- Spectator betting market ---
	marketParams := wager.DefaultParams()
	marketParams.TreasuryWallet = params.TreasuryWallet
	market := wager.NewMarket(marketParams, engine, fundLedger, st, bus, timers)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go market.RunSettlementLoop(rootCtx)

	// --- Price simulation drives revaluation ticks ---
	sim := pricefeed.NewSimulator(feed)
	go sim.Run(time.Second, engine.HandleTick)
	defer sim.Stop()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()
	go wsHub.BridgeEvents(rootCtx, bus)

	// --- HTTP service ---
	svc := api.NewService(engine, market, fundLedger, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"contest-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time contest updates.
		r.Get("/ws", wsHub.HandleWS)

		// Contest lifecycle.
		r.Get("/contests", svc.ListContests)
		r.Post("/contests", svc.CreateContest)
		r.Get("/contests/{contestID}", svc.GetContest)
		r.Post("/contests/{contestID}/join", svc.JoinContest)
		r.Post("/contests/{contestID}/cancel", svc.CancelContest)

		// Trading inside a contest.
		r.Post("/contests/{contestID}/positions", svc.OpenPosition)
		r.Post("/contests/{contestID}/positions/{positionID}/close", svc.ClosePosition)
		r.Post("/trades/signed", svc.SubmitSignedTrade)

		// Matchmaking queue.
		r.Post("/queue", svc.EnqueueMatch)
		r.Delete("/queue/{wallet}", svc.DequeueMatch)

		// Spectator betting.
		r.Get("/contests/{contestID}/odds", svc.GetOdds)
		r.Get("/contests/{contestID}/bets", svc.ListBets)
		r.Post("/contests/{contestID}/bets", svc.PlaceBet)
		r.Post("/odds-locks", svc.RequestOddsLock)
		r.Post("/odds-locks/{lockID}/confirm", svc.ConfirmOddsLock)

		// Funds.
		r.Get("/wallets/{wallet}/balance", svc.GetBalance)
		r.Post("/wallets/{wallet}/deposit", svc.Deposit)
		r.Get("/wallets/{wallet}/journal", svc.GetJournal)

		// Archived contests.
		r.Get("/archive/{contestID}", svc.GetArchivedContest)

		// Platform totals.
		r.Get("/stats", svc.GetStats)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("contest-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down contest-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("contest-engine stopped")
}
