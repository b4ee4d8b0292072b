// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/unclebandit/drip-campaign-backend/internal/config"
	"github.com/unclebandit/drip-campaign-backend/internal/logger"
)

const pingTimeout = 5 * time.Second

// Open connects to Postgres with the pool limits from cfg and pings it.
func Open(ctx context.Context, cfg config.Config, log *logger.Logger) (*sql.DB, error) {
	log.Info("Connecting to database",
		"host", cfg.DBHost,
		"name", cfg.DBName,
		"user", cfg.DBUser,
		"dsn_override", cfg.DatabaseURL != "",
	)

	conn, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(cfg.DBMaxOpenConns)
	conn.SetMaxIdleConns(cfg.DBMaxIdleConns)
	conn.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	log.Info("✅ Connected to database")
	return conn, nil
}
