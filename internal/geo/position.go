// Package geo implements the Driver Position Store and the
// Nearby-Driver Query: the Spatial Driver Index described by the
// system's core. Position Records and Cell-Membership Sets live in
// Redis with TTLs applied in the same write that creates them.
package geo

import (
	_ "embed"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/uber/h3-go/v4"
)

//go:embed scripts/upsert_position.lua
var upsertPositionScript string

//go:embed scripts/set_connection.lua
var setConnectionScript string

var (
	upsertPosition = redis.NewScript(upsertPositionScript)
	setConnection  = redis.NewScript(setConnectionScript)
)

// Position is the Driver Position Record of the data model: a value
// bound to a driver identity with an absolute TTL, authoritative for
// liveness. ConnectionHandle is optional — a driver may have a known
// position but no live channel.
type Position struct {
	DriverID         uuid.UUID
	UserID           uuid.UUID
	Lat              float64
	Lng              float64
	Cell             h3.Cell
	LastSeenAt       time.Time
	IsOnline         bool
	IsAvailable      bool
	ConnectionHandle string
}

// PositionStore is the Driver Position Store (component B). It owns
// Position Records and Cell-Membership Sets and never retries
// internally — store failures surface to the caller as transient
// errors per spec's failure semantics.
type PositionStore struct {
	redis *dispatchredis.Client
	ttl   time.Duration
}

// NewPositionStore builds a store with the ephemeral position TTL.
func NewPositionStore(client *dispatchredis.Client, ttl time.Duration) *PositionStore {
	return &PositionStore{redis: client, ttl: ttl}
}

// Upsert writes a Position Record under driverId with the store's TTL,
// moves cell membership from the prior cell (if different) to the new
// one, and marks the driver dirty for the Location Sync Worker. One
// round trip via a Lua script — never "set then expire".
func (s *PositionStore) Upsert(ctx context.Context, driverID, userID uuid.UUID, lat, lng float64, cell h3.Cell, online, available bool) error {
	now := time.Now().UTC()
	isOnline, isAvailable := "0", "0"
	if online {
		isOnline = "1"
	}
	if available {
		isAvailable = "1"
	}

	_, err := upsertPosition.Run(ctx, s.redis.Client, []string{
		PositionKey(driverID.String()),
		ActiveDirtyKey,
	},
		driverID.String(),
		userID.String(),
		strconv.FormatFloat(lat, 'f', -1, 64),
		strconv.FormatFloat(lng, 'f', -1, 64),
		cell.String(),
		strconv.FormatInt(now.Unix(), 10),
		isOnline,
		isAvailable,
		int(s.ttl.Seconds()),
		cellKeyPrefix,
	).Result()
	if err != nil {
		return fmt.Errorf("upsert position for driver %s: %w", driverID, err)
	}
	return nil
}

// Get returns the current Position Record, or (nil, nil) if the driver
// has no live record (expired or never seen).
func (s *PositionStore) Get(ctx context.Context, driverID uuid.UUID) (*Position, error) {
	fields, err := s.redis.HGetAll(ctx, PositionKey(driverID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("get position for driver %s: %w", driverID, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parsePosition(driverID, fields)
}

// MembersOfCells returns the union of driverIds currently present in
// any of the given cells.
func (s *PositionStore) MembersOfCells(ctx context.Context, cells []h3.Cell) ([]uuid.UUID, error) {
	if len(cells) == 0 {
		return nil, nil
	}
	cellStrs := make([]string, len(cells))
	for i, c := range cells {
		cellStrs[i] = c.String()
	}

	ids, err := s.redis.SUnion(ctx, cellKeys(cellStrs)...).Result()
	if err != nil {
		return nil, fmt.Errorf("members of cells: %w", err)
	}

	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out, nil
}

// SetConnection records the driver's live connection handle, refreshing
// the record's TTL in the same script so a connection-only write can
// never leave a position hash with no expiry path. A driver with no
// Position Record yet (never sent a location fix) gets no write at all;
// the connection handle has nothing to attach to until Upsert runs.
func (s *PositionStore) SetConnection(ctx context.Context, driverID uuid.UUID, handle string) error {
	_, err := setConnection.Run(ctx, s.redis.Client, []string{PositionKey(driverID.String())},
		handle, int(s.ttl.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("set connection for driver %s: %w", driverID, err)
	}
	return nil
}

// ClearOnDisconnect drops the connection handle but preserves position.
func (s *PositionStore) ClearOnDisconnect(ctx context.Context, driverID uuid.UUID) error {
	if err := s.redis.HDel(ctx, PositionKey(driverID.String()), "connection_handle").Err(); err != nil {
		return fmt.Errorf("clear connection for driver %s: %w", driverID, err)
	}
	return nil
}

// MarkUnavailable flips isAvailable=false, used by the Offer Manager on
// successful accept so a second concurrent offer is never dispatched
// to the same driver (spec's resolved open question).
func (s *PositionStore) MarkUnavailable(ctx context.Context, driverID uuid.UUID) error {
	if err := s.redis.HSet(ctx, PositionKey(driverID.String()), "is_available", "0").Err(); err != nil {
		return fmt.Errorf("mark driver %s unavailable: %w", driverID, err)
	}
	return nil
}

func parsePosition(driverID uuid.UUID, fields map[string]string) (*Position, error) {
	userID, err := uuid.Parse(fields["user_id"])
	if err != nil {
		return nil, invalidRecordErr(driverID.String())
	}
	lat, err := strconv.ParseFloat(fields["lat"], 64)
	if err != nil {
		return nil, invalidRecordErr(driverID.String())
	}
	lng, err := strconv.ParseFloat(fields["lng"], 64)
	if err != nil {
		return nil, invalidRecordErr(driverID.String())
	}
	cell := h3.CellFromString(fields["cell"])
	if !cell.IsValid() {
		return nil, invalidRecordErr(driverID.String())
	}
	lastSeen := fields["last_seen_at"]
	var lastSeenAt time.Time
	if secs, err := strconv.ParseInt(lastSeen, 10, 64); err == nil {
		lastSeenAt = time.Unix(secs, 0).UTC()
	}

	return &Position{
		DriverID:         driverID,
		UserID:           userID,
		Lat:              lat,
		Lng:              lng,
		Cell:             cell,
		LastSeenAt:       lastSeenAt,
		IsOnline:         fields["is_online"] == "1",
		IsAvailable:      fields["is_available"] == "1",
		ConnectionHandle: fields["connection_handle"],
	}, nil
}
