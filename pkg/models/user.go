package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole represents the identity kind carried in a connection's JWT claims.
type UserRole string

const (
	RoleRider  UserRole = "rider"
	RoleDriver UserRole = "driver"
	RoleAdmin  UserRole = "admin"
)

// Driver is the durable driver entity: identity, vehicle, verification and
// aggregate fields. It is authoritative for anything non-ephemeral; the
// position fields here are overwritten by the Location Sync Worker and are
// never read on the hot dispatch path (that lives in the ephemeral store).
type Driver struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	UserID           uuid.UUID  `json:"user_id" db:"user_id"`
	LicenseNumber    string     `json:"license_number" db:"license_number"`
	VehiclePlate     string     `json:"vehicle_plate" db:"vehicle_plate"`
	IsAvailable      bool       `json:"is_available" db:"is_available"`
	IsOnline         bool       `json:"is_online" db:"is_online"`
	IsVerified       bool       `json:"is_verified" db:"is_verified"`
	IsBlocked        bool       `json:"is_blocked" db:"is_blocked"`
	Rating           float64    `json:"rating" db:"rating"`
	TotalRides       int        `json:"total_rides" db:"total_rides"`
	CurrentLatitude  *float64   `json:"current_latitude,omitempty" db:"current_latitude"`
	CurrentLongitude *float64   `json:"current_longitude,omitempty" db:"current_longitude"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
