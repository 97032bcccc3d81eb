package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fundproof/core/pkg/api"
	"github.com/fundproof/core/pkg/audit"
	"github.com/fundproof/core/pkg/config"
	"github.com/fundproof/core/pkg/engine"
	"github.com/fundproof/core/pkg/ledger"
	"github.com/fundproof/core/pkg/observability"
	"github.com/fundproof/core/pkg/registry"
	"github.com/fundproof/core/pkg/store"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("escrowd: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	logger := slog.Default().With("component", "escrowd")

	if cfg.ProfilesDir != "" {
		profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Network)
		if err != nil {
			return err
		}
		profile.Apply(cfg)
		logger.Info("network profile loaded", "network", profile.Network, "gateway", cfg.GatewayURL)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "escrowd",
		ServiceVersion: "1.0.0",
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		BatchTimeout:   5 * time.Second,
		Enabled:        os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	reg, err := registry.NewSQLiteRegistry(db)
	if err != nil {
		return err
	}
	escrows, err := store.NewSQLiteEscrowStore(db)
	if err != nil {
		return err
	}
	outbox, err := store.NewSQLiteAnchorOutbox(db)
	if err != nil {
		return err
	}

	// DATABASE_URL switches the vote ledger to postgres; everything else
	// stays on the local sqlite file.
	var votes engine.VoteStore
	if cfg.DatabaseURL != "" {
		pg, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		pv := store.NewPostgresVoteStore(pg)
		if err := pv.Init(ctx); err != nil {
			return err
		}
		votes = pv
		logger.Info("vote ledger: postgres")
	} else {
		sv, err := store.NewSQLiteVoteStore(db)
		if err != nil {
			return err
		}
		votes = sv
		logger.Info("vote ledger: sqlite", "path", cfg.DatabasePath)
	}

	// Release-claim gate: sqlite conditional update by default, redis
	// SET NX when running multiple instances.
	var gate engine.ReleaseGate = escrows
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		defer rdb.Close()
		host, _ := os.Hostname()
		gate = store.NewRedisReleaseGate(rdb, host)
		logger.Info("release gate: redis", "addr", cfg.RedisAddr)
	}

	opts := engine.DefaultOptions()
	opts.VoteMaxAge = cfg.VoteMaxAge
	opts.ClockSkew = cfg.ClockSkew
	opts.ConfirmationRounds = cfg.ConfirmationRounds

	lc := ledger.NewHTTPClient(cfg.GatewayURL, cfg.GatewayToken)
	trail := audit.NewLog()
	eng := engine.New(reg, reg, votes, escrows, gate, outbox, lc, trail, obs.Metrics(), opts)
	defer eng.Close()

	reconCtx, stopRecon := context.WithCancel(ctx)
	defer stopRecon()
	recon := engine.NewReconciler(eng, cfg.ReconcileInterval)
	go recon.Run(reconCtx)

	limiter := api.NewGlobalRateLimiter(20, 40)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           limiter.Middleware(api.NewServer(eng, reg, reg).Routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	stopRecon()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
