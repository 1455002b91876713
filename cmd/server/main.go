// Solace coverage - policy, risk and claims engine for on-chain cover
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/solace-fi/coverage/internal/chain"
	"github.com/solace-fi/coverage/internal/claims"
	"github.com/solace-fi/coverage/internal/config"
	"github.com/solace-fi/coverage/internal/events"
	"github.com/solace-fi/coverage/internal/ledger"
	"github.com/solace-fi/coverage/internal/logging"
	"github.com/solace-fi/coverage/internal/policy"
	"github.com/solace-fi/coverage/internal/protocol"
	"github.com/solace-fi/coverage/internal/realtime"
	"github.com/solace-fi/coverage/internal/server"
	"github.com/solace-fi/coverage/internal/traces"
	"github.com/solace-fi/coverage/internal/voucher"
	"github.com/solace-fi/coverage/internal/watcher"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting solace coverage",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	deployment, err := protocol.LoadDeployment(cfg.DeploymentPath)
	if err != nil {
		return err
	}
	if cfg.ChainID != 0 {
		deployment.ChainID = cfg.ChainID
	}
	logger.Info("deployment loaded",
		"path", cfg.DeploymentPath,
		"chain_id", deployment.ChainID,
		"products", len(deployment.Products),
	)

	shutdownTraces, err := traces.Init(ctx, traces.Options{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.TracingInsecure,
		SampleRatio: cfg.TraceSampleRate,
		ChainID:     deployment.ChainID,
		Version:     Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTraces(sctx)
	}()

	genesis := cfg.GenesisTime
	if genesis.IsZero() {
		// Unset only for in-memory state or when the RPC clock replaces this one.
		genesis = time.Now()
	}
	hub := realtime.NewHub(logger)
	opts := protocol.Options{
		Clock:  chain.NewSystemClock(genesis, cfg.BlockTime),
		Logger: logger,
		Sinks:  []events.Sink{hub},
	}
	var serverOpts []server.Option

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		opts.Ledger = ledger.NewPostgresStore(db)
		opts.Policies = policy.NewPostgresStore(db)
		opts.Claims = claims.NewPostgresStore(db)
		serverOpts = append(serverOpts, server.WithDB(db))
		logger.Info("using PostgreSQL storage")
	} else {
		logger.Warn("DATABASE_URL not set, state is kept in memory only")
	}

	// Follow the chain head and check contract signers when an RPC is set
	if cfg.RPCURL != "" {
		w, closeRPC, err := watcher.Dial(cfg.RPCURL, watcher.DefaultConfig(), logger)
		if err != nil {
			return err
		}
		defer closeRPC()
		if err := w.Sync(ctx); err != nil {
			return fmt.Errorf("initial chain sync: %w", err)
		}
		opts.Clock = w
		serverOpts = append(serverOpts, server.WithWatcher(w))

		v, closeVerifier, err := voucher.DialVerifier(cfg.RPCURL)
		if err != nil {
			return err
		}
		defer closeVerifier()
		opts.Verifier = v
		logger.Info("following chain head", "block", w.BlockNumber())
	}

	proto, err := protocol.New(ctx, deployment, opts)
	if err != nil {
		return fmt.Errorf("build protocol: %w", err)
	}

	serverOpts = append(serverOpts, server.WithLogger(logger), server.WithHub(hub))
	srv, err := server.New(cfg, proto, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}
