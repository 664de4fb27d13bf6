package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"recordhub/internal/api"
	"recordhub/internal/config"
	"recordhub/internal/directory"
	"recordhub/internal/events"
	"recordhub/internal/logging"
	"recordhub/internal/metrics"
	"recordhub/internal/records"
	"recordhub/internal/schema"
	"recordhub/internal/store/memory"
	"recordhub/internal/store/sqlstore"
)

// backend — то, что нужно и реестру схем, и сервису записей
type backend interface {
	records.Store
	schema.Store
}

func newServeCmd() *cobra.Command {
	var configPath string
	flags := config.Default()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "recordhub.yaml", "Config file (.yaml/.yml or .json)")
	f.StringVarP(&flags.Port, "port", "p", flags.Port, "HTTP port")
	f.StringVar(&flags.Storage, "storage", flags.Storage, "Storage backend: memory|postgres|sqlite")
	f.StringVar(&flags.DBURL, "db", flags.DBURL, "Postgres DSN")
	f.StringVar(&flags.SQLitePath, "sqlite", flags.SQLitePath, "SQLite database file")
	f.StringVar(&flags.SchemasDir, "schemas", flags.SchemasDir, "Directory with schema YAML files")
	f.BoolVar(&flags.AutoMigrate, "auto-migrate", flags.AutoMigrate, "Apply DDL on startup")
	f.IntVar(&flags.EventBuffer, "event-buffer", flags.EventBuffer, "Per-subscriber event queue size")
	f.StringVar(&flags.LogLevel, "log-level", flags.LogLevel, "debug|info|warn|error")
	f.StringVar(&flags.LogFormat, "log-format", flags.LogFormat, "text|json")
	f.BoolVar(&flags.Metrics, "metrics", flags.Metrics, "Expose /metrics")

	return cmd
}

// applyFlags: флаги перекрывают файл и окружение, только если заданы явно.
func applyFlags(cmd *cobra.Command, cfg *config.Config, flags config.Config) {
	set := cmd.Flags().Changed
	if set("port") {
		cfg.Port = flags.Port
	}
	if set("storage") {
		cfg.Storage = flags.Storage
	}
	if set("db") {
		cfg.DBURL = flags.DBURL
	}
	if set("sqlite") {
		cfg.SQLitePath = flags.SQLitePath
	}
	if set("schemas") {
		cfg.SchemasDir = flags.SchemasDir
	}
	if set("auto-migrate") {
		cfg.AutoMigrate = flags.AutoMigrate
	}
	if set("event-buffer") {
		cfg.EventBuffer = flags.EventBuffer
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("log-format") {
		cfg.LogFormat = flags.LogFormat
	}
	if set("metrics") {
		cfg.Metrics = flags.Metrics
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	ctx = logging.WithLogger(ctx, log)

	var m *metrics.Metrics
	if cfg.Metrics {
		m = metrics.New()
	}

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	registry := schema.NewRegistry(store)
	if err := registry.Bootstrap(ctx); err != nil {
		return fmt.Errorf("load stored schemas: %w", err)
	}
	if st, err := os.Stat(cfg.SchemasDir); err == nil && st.IsDir() {
		n, err := schema.RegisterDir(ctx, registry, cfg.SchemasDir)
		if err != nil {
			return fmt.Errorf("register schemas from %s: %w", cfg.SchemasDir, err)
		}
		log.Info("schemas registered", "dir", cfg.SchemasDir, "new", n, "total", len(registry.List()))
	} else {
		log.Warn("schemas dir not found, starting with stored schemas only", "dir", cfg.SchemasDir)
	}

	// nil *metrics.Metrics в интерфейсе был бы не nil
	var (
		evObs  events.Observer
		recOpt []records.Option
	)
	if m != nil {
		evObs = m
		recOpt = append(recOpt, records.WithObserver(m))
	}
	notifier := events.NewNotifier(cfg.EventBuffer, log, evObs)
	recOpt = append(recOpt, records.WithPublisher(notifier))

	svc := records.NewService(registry, store, recOpt...)
	dir := directory.New(registry, svc)

	deps := api.Deps{
		Registry:  registry,
		Records:   svc,
		Directory: dir,
		Notifier:  notifier,
		Metrics:   m,
		Logger:    log,
	}
	if db != nil {
		deps.Ready = db.PingContext
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("recordhub listening", "addr", srv.Addr, "storage", cfg.Storage)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		notifier.Close()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	// SSE-потоки держат соединения открытыми: сначала закрываем их
	notifier.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (backend, *sql.DB, error) {
	var (
		d   sqlstore.Dialect
		dsn string
	)
	switch cfg.Storage {
	case config.StorageMemory:
		return memory.New(), nil, nil
	case config.StoragePostgres:
		d, dsn = sqlstore.Postgres, cfg.DBURL
	case config.StorageSQLite:
		d, dsn = sqlstore.SQLite, cfg.SQLitePath
	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	db, err := sqlstore.Open(ctx, d, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if cfg.AutoMigrate {
		if err := sqlstore.Migrate(ctx, db, d); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate %s: %w", d.Name, err)
		}
	}
	return sqlstore.New(db, d), db, nil
}
