package db

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/pkg/config"
)

// ReconnectWithRetry attempts to reconnect to the database with exponential
// backoff. A recording gap is acceptable; losing the whole track log over a
// transient outage is not.
func ReconnectWithRetry(cfg config.TrackLogConfig, maxRetries int, initialDelay time.Duration, logger *logrus.Logger) (*DB, error) {
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		logger.Debugf("database connection attempt %d", attempt)

		db, err := Connect(cfg)
		if err == nil {
			logger.Info("track log database connected")
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			logger.Errorf("failed to connect after %d attempts", attempt)
			return nil, err
		}

		logger.Warnf("database connection failed: %v (retry in %v)", err, delay)
		time.Sleep(delay)

		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// HealthCheck reports whether the database is ready for recording.
func HealthCheck(db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return false
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}

// WithRetry executes a database operation, retrying on connection-class
// failures. Non-connection errors return immediately.
func WithRetry(operation func() error, maxRetries int, logger *logrus.Logger) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return err
		}

		if attempt < maxRetries {
			waitTime := time.Duration(attempt+1) * time.Second
			logger.Warnf("database operation failed (attempt %d/%d): %v (retry in %v)",
				attempt+1, maxRetries+1, err, waitTime)
			time.Sleep(waitTime)
		}
	}

	return lastErr
}

// isConnectionError classifies errors worth retrying by message pattern.
// database/sql does not expose a portable connection-failure type.
func isConnectionError(err error) bool {
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no connection",
		"eof",
		"timeout",
	}
	for _, pattern := range patterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
