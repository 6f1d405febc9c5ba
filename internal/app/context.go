package app

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"ticketdesk/internal/allocator"
	"ticketdesk/internal/config"
	"ticketdesk/internal/db"
	"ticketdesk/internal/engine"
	"ticketdesk/internal/metrics"
	"ticketdesk/internal/migrate"
)

// App bundles the database and the services built on it.
type App struct {
	Config    *config.Config
	DB        *sql.DB
	Dialect   db.Dialect
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Engine    engine.Engine
	Allocator *allocator.Allocator
}

// Open connects to the configured database, applies migrations and wires the
// engine and allocator.
func Open(cfg *config.Config, workspace string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg, io.Discard)
	}
	conn, dialect, err := db.Open(db.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Workspace:    workspace,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	m := metrics.New()
	a := &App{
		Config:  cfg,
		DB:      conn,
		Dialect: dialect,
		Logger:  logger,
		Metrics: m,
		Engine:  engine.New(conn, dialect, logger.With("component", "engine")),
		Allocator: allocator.New(conn, dialect, allocator.Options{
			Quota:        cfg.Allocator.Quota,
			RetryTimeout: cfg.Allocator.RetryTimeout,
			RetryDelay:   cfg.Allocator.RetryDelay,
			Logger:       logger.With("component", "allocator"),
			Metrics:      m,
		}),
	}
	logger.Debug("database ready", "dialect", dialect)
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// NewLogger builds the process logger from the log section of cfg.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
