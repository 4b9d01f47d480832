// Package durable is the durable-store collaborator: the long-lived
// driver entity behind the ephemeral position cache, accessed through
// pgx/v5. It is authoritative for anything non-ephemeral and is
// written to by the Location Sync Worker's persist phase and read by
// the Nearby-Driver Query's blocked/unverified filter.
package durable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/richxcame/dispatch-core/pkg/models"
)

// ErrDriverNotFound is returned when no durable record exists for a driver id.
var ErrDriverNotFound = errors.New("driver not found")

// dbPool is the slice of *pgxpool.Pool the Store needs, narrowed to an
// interface so tests can substitute pgxmock without a live database.
type dbPool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// PositionUpdate is the idempotent per-driver write the Sync Worker's
// persist phase issues — position point, cell, and liveness flags only.
type PositionUpdate struct {
	DriverID    uuid.UUID
	Latitude    float64
	Longitude   float64
	IsOnline    bool
	IsAvailable bool
	LastSeenAt  time.Time
}

// Store is the durable store client (pgx/v5 + pgxpool).
type Store struct {
	pool dbPool
}

// NewStore wraps an already-connected pgx pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewStoreFromPool builds a Store over any dbPool-shaped value —
// exported so other packages' tests can substitute pgxmock without a
// live database, the same way internal/dispatch's tests substitute
// redismock for a live Redis connection.
func NewStoreFromPool(pool dbPool) *Store {
	return &Store{pool: pool}
}

// GetDriverByID returns the durable driver record, or ErrDriverNotFound.
func (s *Store) GetDriverByID(ctx context.Context, id uuid.UUID) (*models.Driver, error) {
	const query = `
		SELECT id, user_id, license_number, vehicle_plate, is_available, is_online,
		       is_verified, is_blocked, rating, total_rides, current_latitude,
		       current_longitude, last_seen_at, created_at, updated_at
		FROM drivers
		WHERE id = $1
	`

	var d models.Driver
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.UserID, &d.LicenseNumber, &d.VehiclePlate, &d.IsAvailable, &d.IsOnline,
		&d.IsVerified, &d.IsBlocked, &d.Rating, &d.TotalRides, &d.CurrentLatitude,
		&d.CurrentLongitude, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get driver %s: %w", id, err)
	}
	return &d, nil
}

// FindDriverByUser resolves the durable driver record for a user identity.
func (s *Store) FindDriverByUser(ctx context.Context, userID uuid.UUID) (*models.Driver, error) {
	const query = `
		SELECT id, user_id, license_number, vehicle_plate, is_available, is_online,
		       is_verified, is_blocked, rating, total_rides, current_latitude,
		       current_longitude, last_seen_at, created_at, updated_at
		FROM drivers
		WHERE user_id = $1
	`

	var d models.Driver
	err := s.pool.QueryRow(ctx, query, userID).Scan(
		&d.ID, &d.UserID, &d.LicenseNumber, &d.VehiclePlate, &d.IsAvailable, &d.IsOnline,
		&d.IsVerified, &d.IsBlocked, &d.Rating, &d.TotalRides, &d.CurrentLatitude,
		&d.CurrentLongitude, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find driver by user %s: %w", userID, err)
	}
	return &d, nil
}

// DriverName joins through to the users table for the display name the
// Offer Manager's ride:accepted notification carries. Grounded on the
// teacher's User{FirstName, LastName} model: this domain never needed a
// full User entity, only this one join.
func (s *Store) DriverName(ctx context.Context, driverID uuid.UUID) (string, error) {
	const query = `
		SELECT u.first_name, u.last_name
		FROM drivers d
		JOIN users u ON u.id = d.user_id
		WHERE d.id = $1
	`

	var firstName, lastName string
	err := s.pool.QueryRow(ctx, query, driverID).Scan(&firstName, &lastName)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrDriverNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get driver name %s: %w", driverID, err)
	}
	return strings.TrimSpace(firstName + " " + lastName), nil
}

// UpdateDriverPosition applies one idempotent position write — the unit
// of work the Sync Worker's persist phase issues per gathered record.
func (s *Store) UpdateDriverPosition(ctx context.Context, update PositionUpdate) error {
	const query = `
		UPDATE drivers
		SET current_latitude = $1, current_longitude = $2, is_online = $3,
		    is_available = $4, last_seen_at = $5, updated_at = $5
		WHERE id = $6
	`

	tag, err := s.pool.Exec(ctx, query,
		update.Latitude, update.Longitude, update.IsOnline, update.IsAvailable,
		update.LastSeenAt, update.DriverID,
	)
	if err != nil {
		return fmt.Errorf("update driver position %s: %w", update.DriverID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDriverNotFound
	}
	return nil
}

// SetVerified flips a driver's verification flag — part of the
// blocked/unverified gate the Nearby-Driver Query applies to survivors.
func (s *Store) SetVerified(ctx context.Context, id uuid.UUID, verified bool) error {
	const query = `UPDATE drivers SET is_verified = $1, updated_at = $2 WHERE id = $3`
	_, err := s.pool.Exec(ctx, query, verified, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set verified for driver %s: %w", id, err)
	}
	return nil
}

// SetBlocked flips a driver's blocked flag.
func (s *Store) SetBlocked(ctx context.Context, id uuid.UUID, blocked bool) error {
	const query = `UPDATE drivers SET is_blocked = $1, updated_at = $2 WHERE id = $3`
	_, err := s.pool.Exec(ctx, query, blocked, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set blocked for driver %s: %w", id, err)
	}
	return nil
}

// ListPendingVerifications returns drivers awaiting manual verification.
func (s *Store) ListPendingVerifications(ctx context.Context, limit int) ([]*models.Driver, error) {
	const query = `
		SELECT id, user_id, license_number, vehicle_plate, is_available, is_online,
		       is_verified, is_blocked, rating, total_rides, current_latitude,
		       current_longitude, last_seen_at, created_at, updated_at
		FROM drivers
		WHERE is_verified = false
		ORDER BY created_at ASC
		LIMIT $1
	`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending verifications: %w", err)
	}
	defer rows.Close()

	var drivers []*models.Driver
	for rows.Next() {
		var d models.Driver
		if err := rows.Scan(
			&d.ID, &d.UserID, &d.LicenseNumber, &d.VehiclePlate, &d.IsAvailable, &d.IsOnline,
			&d.IsVerified, &d.IsBlocked, &d.Rating, &d.TotalRides, &d.CurrentLatitude,
			&d.CurrentLongitude, &d.LastSeenAt, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending verification row: %w", err)
		}
		drivers = append(drivers, &d)
	}
	return drivers, rows.Err()
}
