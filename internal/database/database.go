package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/nganmiu/voucherbot/internal/config"
)

const connectAttempts = 3

// Open prepares a lazy MySQL handle with sensible pooling defaults. No
// connection is made until first use, so it succeeds even while the
// database is down.
func Open(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

// Connect opens the MySQL connection and verifies it with a ping.
func Connect(cfg config.Config) (*sql.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return db, nil
}

// ConnectWithRetry attempts Connect a bounded number of times with a
// doubling delay. The caller decides what degraded mode looks like when
// all attempts fail.
func ConnectWithRetry(cfg config.Config, log *slog.Logger) (*sql.DB, error) {
	var lastErr error
	delay := 2 * time.Second
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := Connect(cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		log.Error("mysql connect failed", "attempt", attempt, "err", err)
		if attempt < connectAttempts {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return nil, lastErr
}

// Migrate runs the bootstrap schema to ensure required tables exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
