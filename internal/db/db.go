// Package db persists flight sessions and the target fixes relayed during
// them to PostgreSQL. Recording is optional; the mission flies fine with
// the track log disabled.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/openuav/follow-gcs/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.TrackLogConfig
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.TrackLogConfig) (*DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.Username,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates or updates the database schema.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// CleanupOldData removes finished flights older than maxAge along with their
// recorded fixes. Should be called periodically to prevent unbounded growth.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) error {
	cutoff := time.Now().UTC().Add(-maxAge)

	// Fixes and positions cascade from their flight.
	_, err := db.ExecContext(ctx,
		`DELETE FROM flights WHERE ended_at IS NOT NULL AND ended_at < $1`,
		cutoff,
	)
	if err != nil {
		return fmt.Errorf("failed to delete old flights: %w", err)
	}

	return nil
}

// GetStats returns track log statistics.
func (db *DB) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var flightCount int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flights`,
	).Scan(&flightCount)
	if err != nil {
		return nil, err
	}
	stats["flights"] = flightCount

	var activeCount int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flights WHERE ended_at IS NULL`,
	).Scan(&activeCount)
	if err != nil {
		return nil, err
	}
	stats["active_flights"] = activeCount

	var fixCount int64
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM target_fixes`,
	).Scan(&fixCount)
	if err != nil {
		return nil, err
	}
	stats["target_fixes"] = fixCount

	var positionCount int64
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM vehicle_positions`,
	).Scan(&positionCount)
	if err != nil {
		return nil, err
	}
	stats["vehicle_positions"] = positionCount

	return stats, nil
}
