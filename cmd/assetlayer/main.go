package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/R3E-Network/asset_layer/internal/app"
	"github.com/R3E-Network/asset_layer/internal/app/httpapi"
	"github.com/R3E-Network/asset_layer/internal/app/metrics"
	"github.com/R3E-Network/asset_layer/internal/app/storage/postgres"
	"github.com/R3E-Network/asset_layer/internal/config"
	"github.com/R3E-Network/asset_layer/internal/platform/migrations"
	"github.com/R3E-Network/asset_layer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	auditPath := flag.String("audit-log", "", "optional JSONL audit log file")
	flag.Parse()

	// Local development convenience; missing .env files are not an error.
	_ = godotenv.Load()

	if err := run(*configPath, *auditPath); err != nil {
		fmt.Fprintf(os.Stderr, "assetlayer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, auditPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("assetlayer", cfg.Logging.Level)

	stores := app.Stores{}
	var db *sql.DB
	if cfg.Database.Driver != "" {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		migCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = migrations.Apply(migCtx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		store := postgres.New(db)
		stores = app.Stores{Collections: store, Roles: store, Items: store, Sales: store}
		log.Infof("using postgres storage")
	} else {
		log.Infof("using in-memory storage")
	}

	application, err := app.New(stores, app.Options{EventBufferSize: cfg.Events.BufferSize}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(stopCtx); err != nil {
			log.WithError(err).Errorf("stopping services")
		}
	}()

	var audit *httpapi.AuditLog
	if auditPath != "" {
		sink, err := httpapi.NewFileAuditSink(auditPath)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		defer sink.Close()
		audit = httpapi.NewAuditLog(0, sink)
	}

	api := httpapi.NewHandlerWithAudit(application, audit)
	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", httpapi.WrapWithAuth(metrics.Middleware(api), cfg.Auth.Tokens))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("HTTP server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Infof("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
