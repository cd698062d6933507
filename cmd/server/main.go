// Package main is the entry point for the audit engine server binary. It
// dispatches three subcommands (serve, migrate, version) via a switch on
// os.Args. The serve command runs auto-migration on startup so freshly
// deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/change-ledger/change-ledger/internal/api"
	"github.com/change-ledger/change-ledger/internal/config"
	"github.com/change-ledger/change-ledger/internal/db"
	"github.com/change-ledger/change-ledger/internal/db/repositories"
	"github.com/change-ledger/change-ledger/internal/records"
	"github.com/change-ledger/change-ledger/internal/recorder"
	"github.com/change-ledger/change-ledger/internal/schema"
	"github.com/change-ledger/change-ledger/internal/shipping"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Change Ledger v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logging first so everything below uses the
	// configured format and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database.DB)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations applied")

	repo := repositories.NewChangeRecordRepository(database)
	store := db.NewStore(repo, nil) // no entity source: the HTTP surface uses the free-form path only

	var opts []recorder.Option
	shipper, err := shipping.New(cfg.Shipping)
	if err != nil {
		return fmt.Errorf("failed to configure shipping: %w", err)
	}
	if shipper != nil {
		defer shipper.Close()
		opts = append(opts, recorder.WithShipper(shipper))
	}

	rec := recorder.New(
		recorder.Config{
			LogInsertPayload:        cfg.Audit.LogInsertPayload,
			ExceptionLoggingEnabled: cfg.Audit.ExceptionLoggingEnabled,
			SuppressedErrorTypes:    cfg.Audit.SuppressedErrorTypes,
		},
		store,
		schema.NewRegistry(),
		records.Default(),
		api.NewActorResolver(),
		opts...,
	)

	if cfg.Telemetry.MetricsEnabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort)
			slog.Info("metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      api.NewRouter(rec),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func runMigrations(cfg *config.Config, direction string) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrations(database, direction); err != nil {
		return err
	}

	v, dirty, err := db.MigrationVersion(database)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "direction", direction, "version", v, "dirty", dirty)
	return nil
}
