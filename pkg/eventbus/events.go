package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// OfferCreatedData is emitted when the Offer Manager opens a dispatch offer
// for a single candidate driver.
type OfferCreatedData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	RideID     uuid.UUID `json:"ride_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	RiderID    uuid.UUID `json:"rider_id"`
	PickupCell string    `json:"pickup_cell"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// OfferAcceptedData is emitted once the first-accept-wins CAS succeeds.
type OfferAcceptedData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	RideID     uuid.UUID `json:"ride_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	RiderID    uuid.UUID `json:"rider_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// OfferExpiredData is emitted by the expiry reaper when an offer's TTL
// elapses with no winner.
type OfferExpiredData struct {
	OfferID   uuid.UUID `json:"offer_id"`
	RideID    uuid.UUID `json:"ride_id"`
	DriverID  uuid.UUID `json:"driver_id"`
	ExpiredAt time.Time `json:"expired_at"`
}

// OfferRejectedData is emitted when the targeted driver explicitly declines.
type OfferRejectedData struct {
	OfferID    uuid.UUID `json:"offer_id"`
	RideID     uuid.UUID `json:"ride_id"`
	DriverID   uuid.UUID `json:"driver_id"`
	RejectedAt time.Time `json:"rejected_at"`
}

// OfferCancelledData is emitted when the rider or system cancels a ride
// before any driver has accepted.
type OfferCancelledData struct {
	OfferID     uuid.UUID `json:"offer_id"`
	RideID      uuid.UUID `json:"ride_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// DriverLocationUpdatedData is emitted on every accepted position write,
// mirroring what the ephemeral store holds at the moment of publish.
type DriverLocationUpdatedData struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Heading   float64   `json:"heading"`
	Speed     float64   `json:"speed"`
	H3Cell    string    `json:"h3_cell"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverConnectedData is emitted when a driver's connection handle attaches.
type DriverConnectedData struct {
	DriverID    uuid.UUID `json:"driver_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// DriverDisconnectedData is emitted when a driver's connection handle detaches.
type DriverDisconnectedData struct {
	DriverID       uuid.UUID `json:"driver_id"`
	DisconnectedAt time.Time `json:"disconnected_at"`
}

// SyncCompletedData reports one Location Sync Worker cycle's outcome.
type SyncCompletedData struct {
	DriversSynced int       `json:"drivers_synced"`
	Duration      float64   `json:"duration_seconds"`
	CompletedAt   time.Time `json:"completed_at"`
}

// SyncFailedData reports a Location Sync Worker cycle that could not
// complete and fell back to its recovery path.
type SyncFailedData struct {
	Reason    string    `json:"reason"`
	FailedAt  time.Time `json:"failed_at"`
}
