package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/kumanofoo/tako/internal/api"
	"github.com/kumanofoo/tako/internal/clock"
	"github.com/kumanofoo/tako/internal/config"
	"github.com/kumanofoo/tako/internal/demand"
	"github.com/kumanofoo/tako/internal/events"
	"github.com/kumanofoo/tako/internal/forecast"
	"github.com/kumanofoo/tako/internal/logging"
	"github.com/kumanofoo/tako/internal/market"
	"github.com/kumanofoo/tako/internal/metrics"
	"github.com/kumanofoo/tako/internal/place"
	"github.com/kumanofoo/tako/internal/scheduler"
	"github.com/kumanofoo/tako/internal/season"
	"github.com/kumanofoo/tako/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, cfg.LogDir)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("database migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		sq, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.DBPath, "err", err)
			os.Exit(1)
		}
		st = sq
		slog.Info("using SQLite store", "path", cfg.DBPath)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Clock, randomness, demand ---
	sched, err := clock.NewSchedule(cfg.OpeningTime, cfg.ClosingTime, cfg.UTCOffset)
	if err != nil {
		slog.Error("invalid trading window", "err", err)
		os.Exit(1)
	}
	clk := clock.System{}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	dm := demand.New(cfg.Baselines(), rand.New(rand.NewSource(seed)))
	picker := place.NewPicker(rand.New(rand.NewSource(seed + 1)))

	// --- Forecast provider ---
	var provider forecast.Provider
	if cfg.ForecastURL != "" {
		provider = forecast.NewHTTPProvider(cfg.ForecastURL, cfg.ForecastTimeout)
	} else {
		slog.Warn("FORECAST_URL not set, every round uses the fallback weather")
		provider = forecast.Static{Err: forecast.ErrUnavailable}
	}

	// --- Engine, seasons, scheduler ---
	engine := market.NewEngine(st, dm, sched, clk, cfg.Prices(), cfg.Seed())
	seasons := season.NewController(st, clk, cfg.Target(), cfg.Seed())

	wsHub := api.NewWSHub()
	go wsHub.Run()

	sch := scheduler.New(engine, seasons, provider, picker, sched, clk, cfg.TickInterval)
	sch.Subscribe(wsHub)
	if len(cfg.KafkaBrokers) > 0 {
		pub := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		cleanup = append(cleanup, func() { pub.Close() })
		sch.Subscribe(pub)
		slog.Info("Kafka events enabled", "topic", cfg.KafkaTopic)
	}

	schedCtx, stopSched := context.WithCancel(context.Background())
	defer stopSched()
	go sch.Run(schedCtx)

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
		w.Write([]byte(`{"status":"ok","service":"tako"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	srv := api.NewServer(engine, seasons, st, wsHub)
	srv.Routes(r)

	// --- Server ---
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("tako market listening", "port", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stopSched()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down tako market...")
	if err := httpSrv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("tako market stopped")
}
