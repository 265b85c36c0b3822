// Command escrowd runs the HTLC escrow service: role bootstrap, durable
// commitment storage, and the HTTP API over the escrow engine.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bridgelock/escrow/pkg/admin"
	"github.com/bridgelock/escrow/pkg/api"
	"github.com/bridgelock/escrow/pkg/audit"
	"github.com/bridgelock/escrow/pkg/auth"
	"github.com/bridgelock/escrow/pkg/config"
	"github.com/bridgelock/escrow/pkg/contracts"
	"github.com/bridgelock/escrow/pkg/escrow"
	"github.com/bridgelock/escrow/pkg/ledger"
	"github.com/bridgelock/escrow/pkg/observability"
	"github.com/bridgelock/escrow/pkg/roles"
	"github.com/bridgelock/escrow/pkg/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("escrowd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("escrowd exited with error", "error", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	driver := "sqlite"
	if cfg.Database.Driver == "postgres" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	sink, closeSink, err := buildAuditSink(cfg, db)
	if err != nil {
		return err
	}
	defer closeSink()

	roleStore, commitments, err := buildStores(cfg, db)
	if err != nil {
		return err
	}

	registry := roles.NewRegistry(roleStore, sink, logger)
	if err := bootstrap(ctx, cfg, registry, logger); err != nil {
		return err
	}

	assets := ledger.NewMemory()
	gate := admin.NewGate(registry, assets, sink, cfg.MaxPoolAdjust, logger)
	engine := escrow.NewEngine(commitments, assets, registry, sink, escrow.Bounds{
		MinTimelock: cfg.MinTimelock(),
		MaxTimelock: cfg.MaxTimelock(),
	}, logger)

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "escrowd",
		ServiceVersion: "1.0.0",
		Environment:    "production",
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Insecure:       cfg.Telemetry.Insecure,
		BatchTimeout:   5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()
	if err := obs.RegisterPoolGauge(engine.PoolBalance); err != nil {
		return fmt.Errorf("register pool gauge: %w", err)
	}

	validator := auth.NewValidator([]byte(cfg.Auth.JWTSecret))
	limiter := auth.NewActorLimiter(cfg.RateLimit.RPM)
	server := api.NewServer(engine, gate, registry, obs, logger)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(validator, limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening", "addr", cfg.ListenAddr, "driver", cfg.Database.Driver)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildStores(cfg *config.Config, db *sql.DB) (roles.Store, store.CommitmentStore, error) {
	switch cfg.Database.Driver {
	case "postgres":
		commitments, err := store.NewPostgresCommitmentStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("commitment store: %w", err)
		}
		roleStore, err := roles.NewPostgresStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("role store: %w", err)
		}
		return roleStore, commitments, nil
	default:
		roleStore, err := roles.NewSQLiteStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("role store: %w", err)
		}
		commitments, err := store.NewSQLiteCommitmentStore(db)
		if err != nil {
			return nil, nil, fmt.Errorf("commitment store: %w", err)
		}
		return roleStore, commitments, nil
	}
}

func buildAuditSink(cfg *config.Config, db *sql.DB) (audit.Sink, func(), error) {
	var sinks audit.MultiSink

	closer := func() {}
	if cfg.Audit.Path != "" {
		f, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		closer = func() { _ = f.Close() }
		sinks = append(sinks, audit.NewWriterSink(f))
	} else {
		sinks = append(sinks, audit.NewWriterSink(os.Stdout))
	}

	if cfg.Database.Driver == "sqlite" {
		dbSink, err := audit.NewSQLiteSink(db)
		if err != nil {
			closer()
			return nil, nil, fmt.Errorf("audit sink: %w", err)
		}
		sinks = append(sinks, dbSink)
	}
	return sinks, closer, nil
}

func bootstrap(ctx context.Context, cfg *config.Config, registry *roles.Registry, logger *slog.Logger) error {
	if len(cfg.Bootstrap.Grants) == 0 {
		return nil
	}

	grants := make([]roles.Grant, 0, len(cfg.Bootstrap.Grants))
	for _, g := range cfg.Bootstrap.Grants {
		role, err := resolveRoleName(g.Role)
		if err != nil {
			return fmt.Errorf("bootstrap grant role %q: %w", g.Role, err)
		}
		adminRole, err := resolveRoleName(g.AdminRole)
		if err != nil {
			return fmt.Errorf("bootstrap grant admin role %q: %w", g.AdminRole, err)
		}
		grants = append(grants, roles.Grant{
			Role:      role,
			Principal: contracts.Principal(g.Principal),
			AdminRole: adminRole,
		})
	}

	err := registry.Initialize(ctx, grants)
	if errors.Is(err, contracts.ErrAlreadyInitialized) {
		logger.Info("role registry already initialized, skipping bootstrap")
		return nil
	}
	return err
}

func resolveRoleName(name string) (roles.Role, error) {
	switch name {
	case "MINTER_ROLE":
		return roles.MinterRole, nil
	case "MINTER_ADMIN_ROLE":
		return roles.MinterAdminRole, nil
	case "OPERATOR_ROLE":
		return roles.OperatorRole, nil
	}
	return roles.ParseRole(name)
}

func logLevel(level string) slog.Level {
	switch level {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
