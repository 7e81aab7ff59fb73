package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/openuav/follow-gcs/pkg/location"
	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// TrackLogRepository handles database operations for flight recording.
type TrackLogRepository struct {
	db *DB
}

// NewTrackLogRepository creates a new track log repository.
func NewTrackLogRepository(db *DB) *TrackLogRepository {
	return &TrackLogRepository{db: db}
}

// Flight is one recorded flight session.
type Flight struct {
	ID            int64
	ConnectionURL string
	StartedAt     time.Time
	EndedAt       *time.Time
	EndReason     string
}

// TargetFix is one recorded target fix.
type TargetFix struct {
	ID         int64
	FlightID   int64
	Latitude   float64
	Longitude  float64
	AltitudeM  float64
	FixTime    time.Time
	RecordedAt time.Time
}

// StartFlight opens a new flight session and returns its ID.
func (r *TrackLogRepository) StartFlight(ctx context.Context, connectionURL string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO flights (connection_url, started_at) VALUES ($1, $2) RETURNING id`,
		connectionURL, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to start flight: %w", err)
	}
	return id, nil
}

// EndFlight closes a flight session with the given reason ("completed",
// "mode override", "error", ...).
func (r *TrackLogRepository) EndFlight(ctx context.Context, flightID int64, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE flights SET ended_at = $1, end_reason = $2 WHERE id = $3 AND ended_at IS NULL`,
		time.Now().UTC(), reason, flightID,
	)
	if err != nil {
		return fmt.Errorf("failed to end flight: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("flight %d not found or already ended", flightID)
	}
	return nil
}

// RecordTargetFix stores one target fix received from the location source.
func (r *TrackLogRepository) RecordTargetFix(ctx context.Context, flightID int64, fix location.Fix) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO target_fixes (flight_id, latitude, longitude, altitude_m, fix_time, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		flightID, fix.LatitudeDeg, fix.LongitudeDeg, fix.AltitudeM,
		fix.Time.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record target fix: %w", err)
	}
	return nil
}

// RecordVehiclePosition stores one vehicle position sample.
func (r *TrackLogRepository) RecordVehiclePosition(ctx context.Context, flightID int64, pos vehicle.Position, mode vehicle.FlightMode) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO vehicle_positions (flight_id, latitude, longitude, absolute_alt_m, relative_alt_m, flight_mode, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		flightID, pos.LatitudeDeg, pos.LongitudeDeg,
		pos.AbsoluteAltitudeM, pos.RelativeAltitudeM, mode.String(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record vehicle position: %w", err)
	}
	return nil
}

// GetFlight returns one flight session.
func (r *TrackLogRepository) GetFlight(ctx context.Context, flightID int64) (*Flight, error) {
	var flight Flight
	var endedAt sql.NullTime
	var endReason sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, connection_url, started_at, ended_at, end_reason FROM flights WHERE id = $1`,
		flightID,
	).Scan(&flight.ID, &flight.ConnectionURL, &flight.StartedAt, &endedAt, &endReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flight: %w", err)
	}

	if endedAt.Valid {
		flight.EndedAt = &endedAt.Time
	}
	if endReason.Valid {
		flight.EndReason = endReason.String
	}
	return &flight, nil
}

// RecentFixes returns the most recent target fixes of a flight, newest first.
func (r *TrackLogRepository) RecentFixes(ctx context.Context, flightID int64, limit int) ([]TargetFix, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, flight_id, latitude, longitude, altitude_m, fix_time, recorded_at
		 FROM target_fixes
		 WHERE flight_id = $1
		 ORDER BY recorded_at DESC
		 LIMIT $2`,
		flightID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fixes: %w", err)
	}
	defer rows.Close()

	var fixes []TargetFix
	for rows.Next() {
		var fix TargetFix
		if err := rows.Scan(&fix.ID, &fix.FlightID, &fix.Latitude, &fix.Longitude,
			&fix.AltitudeM, &fix.FixTime, &fix.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fix: %w", err)
		}
		fixes = append(fixes, fix)
	}
	return fixes, rows.Err()
}

// FixCount returns how many target fixes a flight has recorded.
func (r *TrackLogRepository) FixCount(ctx context.Context, flightID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM target_fixes WHERE flight_id = $1`,
		flightID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fixes: %w", err)
	}
	return count, nil
}
