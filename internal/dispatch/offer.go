// Package dispatch implements the Offer Manager (component E): the
// dispatch core's state machine for matching a ride request to exactly
// one accepting driver. Grounded on the teacher's internal/dispatch
// service's AcceptRide flow and its repository's guarded-UPDATE
// compare-and-swap, reimplemented against the ephemeral store: the
// guard becomes a Lua script so the check-then-set is atomic without a
// round trip to Postgres.
package dispatch

import (
	_ "embed"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/pkg/common"
	"github.com/richxcame/dispatch-core/pkg/eventbus"
	"github.com/richxcame/dispatch-core/pkg/logger"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/richxcame/dispatch-core/pkg/resilience"
	"github.com/richxcame/dispatch-core/pkg/websocket"
	"go.uber.org/zap"
)

//go:embed scripts/open_offer.lua
var openOfferScriptSrc string

//go:embed scripts/accept_offer.lua
var acceptOfferScriptSrc string

//go:embed scripts/expire_offer.lua
var expireOfferScriptSrc string

var (
	openOfferScript   = redis.NewScript(openOfferScriptSrc)
	acceptOfferScript = redis.NewScript(acceptOfferScriptSrc)
	expireOfferScript = redis.NewScript(expireOfferScriptSrc)
)

// DefaultOfferTTL is spec.md's fixed offer lifetime.
const DefaultOfferTTL = 15 * time.Second

// State is the Offer's position in its OPEN -> {ACCEPTED, EXPIRED} state
// machine. Both terminal states are final; no transition leaves them.
type State string

const (
	StateOpen     State = "OPEN"
	StateAccepted State = "ACCEPTED"
	StateExpired  State = "EXPIRED"
)

// Offer is the data model's Offer value. RideID mirrors OfferID: this
// domain has no ride entity distinct from the offer that created it.
type Offer struct {
	OfferID     uuid.UUID      `json:"offer_id"`
	RideID      uuid.UUID      `json:"ride_id"`
	RiderID     uuid.UUID      `json:"rider_id"`
	Pickup      geocell.LatLng `json:"pickup"`
	Destination geocell.LatLng `json:"destination"`
	Fare        float64        `json:"fare"`
	Distance    float64        `json:"distance"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Recipients  []uuid.UUID    `json:"recipients"`
	Winner      *uuid.UUID     `json:"winner,omitempty"`
	State       State          `json:"state"`
}

// Notifier delivers a wire event to a single identity's live channel, if
// any, and reports whether one currently exists. Defined here (rather
// than imported from internal/registry) the same way the teacher's
// LocationResolver interface lives in the consuming package, to keep
// the dependency edge pointing inward without an import cycle.
type Notifier interface {
	IsReachable(identity string) bool
	Notify(identity string, msg *websocket.Message)
}

// DriverNamer resolves a driver identity to the display name the
// ride:accepted notification carries. Defined here rather than imported
// from internal/durable, the same way Notifier is, to keep the
// dependency edge pointing inward without an import cycle.
type DriverNamer interface {
	DriverName(ctx context.Context, driverID uuid.UUID) (string, error)
}

// Manager is the Offer Manager (component E).
type Manager struct {
	redis      *dispatchredis.Client
	positions  *geo.PositionStore
	notifier   Notifier
	bus        *eventbus.Bus
	names      DriverNamer
	ttl        time.Duration
	retry      resilience.RetryConfig
	newOfferID func() uuid.UUID
}

// NewManager wires the Offer Manager. notifier, bus and names may all
// be nil: a manager with no notifier still runs the state machine
// correctly, it simply delivers no wire events (useful in tests); one
// with no names resolver sends ride:accepted with an empty driverName.
func NewManager(client *dispatchredis.Client, positions *geo.PositionStore, notifier Notifier, bus *eventbus.Bus, names DriverNamer) *Manager {
	return &Manager{
		redis:      client,
		positions:  positions,
		notifier:   notifier,
		bus:        bus,
		names:      names,
		ttl:        DefaultOfferTTL,
		retry:      resilience.ConservativeRetryConfig(), // MaxAttempts:2, single-retry-then-fail per spec
		newOfferID: uuid.New,
	}
}

// SetTTL overrides the default 15s offer lifetime, mainly for tests.
func (m *Manager) SetTTL(ttl time.Duration) {
	m.ttl = ttl
}

func (m *Manager) publish(ctx context.Context, subject, eventType string, data interface{}) {
	if m.bus == nil {
		return
	}
	evt, err := eventbus.NewEvent(eventType, "dispatch-core", data)
	if err != nil {
		logger.WarnContext(ctx, "failed to build event", zap.String("type", eventType), zap.Error(err))
		return
	}
	go func() {
		publishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.bus.Publish(publishCtx, subject, evt); err != nil {
			logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
		}
	}()
}

// OpenOffer implements spec.md's openOffer contract: persists an OPEN
// offer with TTL in the same script that creates it, then emits
// ride:request to every recipient with a live connection.
func (m *Manager) OpenOffer(ctx context.Context, riderID uuid.UUID, pickup, destination geocell.LatLng, recipients []uuid.UUID, fare, distance float64) (*Offer, error) {
	if len(recipients) == 0 {
		return nil, common.NewValidationError("openOffer requires at least one recipient")
	}

	// Re-check reachability here rather than trusting the Nearby Query's
	// candidate list: a driver may have gone offline between the search
	// and this call, and an unreachable recipient must never be persisted
	// into the recipient set, only notified drivers get a shot at accept.
	if m.notifier != nil {
		reachable := make([]uuid.UUID, 0, len(recipients))
		for _, r := range recipients {
			if m.notifier.IsReachable(r.String()) {
				reachable = append(reachable, r)
			}
		}
		if len(reachable) == 0 {
			return nil, common.NewValidationError("openOffer: no reachable recipient in candidate set")
		}
		recipients = reachable
	}

	offerID := m.newOfferID()
	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)

	argv := []interface{}{
		offerID.String(),
		offerID.String(), // ride_id == offer_id in this domain
		riderID.String(),
		strconv.FormatFloat(pickup.Lat, 'f', -1, 64),
		strconv.FormatFloat(pickup.Lng, 'f', -1, 64),
		strconv.FormatFloat(destination.Lat, 'f', -1, 64),
		strconv.FormatFloat(destination.Lng, 'f', -1, 64),
		strconv.FormatFloat(fare, 'f', -1, 64),
		strconv.FormatFloat(distance, 'f', -1, 64),
		strconv.FormatInt(now.Unix(), 10),
		strconv.FormatInt(expiresAt.Unix(), 10),
		int(m.ttl.Seconds()),
	}
	for _, r := range recipients {
		argv = append(argv, r.String())
	}

	_, err := resilience.Retry(ctx, m.retry, func(ctx context.Context) (interface{}, error) {
		return openOfferScript.Run(ctx, m.redis.Client, []string{offerKey(offerID.String()), recipientsKey(offerID.String())}, argv...).Result()
	})
	if err != nil {
		return nil, common.NewTransientStoreError("openOffer: store unavailable", err)
	}

	if err := m.redis.ZAdd(ctx, offerExpiryZSetKey, redis.Z{Score: float64(expiresAt.Unix()), Member: offerID.String()}).Err(); err != nil {
		logger.WarnContext(ctx, "openOffer: failed to schedule expiry", zap.String("offer_id", offerID.String()), zap.Error(err))
	}

	offer := &Offer{
		OfferID:     offerID,
		RideID:      offerID,
		RiderID:     riderID,
		Pickup:      pickup,
		Destination: destination,
		Fare:        fare,
		Distance:    distance,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		Recipients:  recipients,
		State:       StateOpen,
	}

	payload := rideRequestPayload{
		OfferID:     offerID,
		Pickup:      pickup,
		Destination: destination,
		Fare:        fare,
		Distance:    distance,
		ExpiresIn:   int(m.ttl.Seconds()),
	}
	for _, driverID := range recipients {
		sendJSON(m.notifier, driverID.String(), eventRideRequest, payload)
	}

	m.publish(ctx, eventbus.SubjectOfferCreated, "offer.created", eventbus.OfferCreatedData{
		OfferID:    offerID,
		RideID:     offerID,
		DriverID:   uuid.Nil,
		RiderID:    riderID,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
	})

	return offer, nil
}

// AcceptOffer implements spec.md's acceptOffer contract: the first-
// writer-wins CAS is the critical correctness point of the system.
func (m *Manager) AcceptOffer(ctx context.Context, offerID, driverID uuid.UUID) (*Offer, error) {
	now := time.Now().UTC()
	res, err := resilience.Retry(ctx, m.retry, func(ctx context.Context) (interface{}, error) {
		return acceptOfferScript.Run(ctx, m.redis.Client, []string{offerKey(offerID.String())},
			driverID.String(), strconv.FormatInt(now.Unix(), 10)).Result()
	})
	if err != nil {
		return nil, common.NewTransientStoreError("acceptOffer: store unavailable", err)
	}

	won, _ := res.(int64)
	if won != 1 {
		return nil, common.NewConflictError("accept_failed: expired_or_gone")
	}

	offer, err := m.loadOffer(ctx, offerID)
	if err != nil {
		// State transition already committed; a load failure here must not
		// roll it back. Return a minimal offer so the caller can still act.
		logger.WarnContext(ctx, "acceptOffer: offer loaded after accept failed", zap.Error(err))
		offer = &Offer{OfferID: offerID, RideID: offerID, State: StateAccepted, Winner: &driverID}
	}

	m.removeFromExpiry(ctx, offerID)

	if err := m.positions.MarkUnavailable(ctx, driverID); err != nil {
		logger.WarnContext(ctx, "acceptOffer: failed to mark driver unavailable", zap.String("driver_id", driverID.String()), zap.Error(err))
	}

	var driverName string
	if m.names != nil {
		if name, err := m.names.DriverName(ctx, driverID); err != nil {
			logger.WarnContext(ctx, "acceptOffer: failed to resolve driver name", zap.String("driver_id", driverID.String()), zap.Error(err))
		} else {
			driverName = name
		}
	}

	sendJSON(m.notifier, offer.RiderID.String(), eventRideAccepted, rideAcceptedPayload{
		OfferID:    offerID,
		DriverID:   driverID,
		DriverName: driverName,
		Message:    "your ride has been accepted",
	})
	sendJSON(m.notifier, driverID.String(), eventRideAcceptSuccess, acceptSuccessPayload{OfferID: offerID, RideDetails: offer})
	for _, other := range offer.Recipients {
		if other == driverID {
			continue
		}
		sendJSON(m.notifier, other.String(), eventRideRequestCancelled, cancelledPayload{OfferID: offerID, Reason: "accepted_by_other"})
	}

	m.publish(ctx, eventbus.SubjectOfferAccepted, "offer.accepted", eventbus.OfferAcceptedData{
		OfferID:    offerID,
		RideID:     offerID,
		DriverID:   driverID,
		RiderID:    offer.RiderID,
		AcceptedAt: now,
	})

	offer.State = StateAccepted
	offer.Winner = &driverID
	return offer, nil
}

// RejectOffer implements spec.md's rejectOffer contract: removes the
// driver from the recipient set without touching state. A rejection by
// the last remaining recipient does not early-expire the offer.
func (m *Manager) RejectOffer(ctx context.Context, offerID, driverID uuid.UUID) error {
	if err := m.redis.SRem(ctx, recipientsKey(offerID.String()), driverID.String()).Err(); err != nil {
		return common.NewTransientStoreError("rejectOffer: store unavailable", err)
	}
	m.publish(ctx, eventbus.SubjectOfferRejected, "offer.rejected", eventbus.OfferRejectedData{
		OfferID:    offerID,
		RideID:     offerID,
		DriverID:   driverID,
		RejectedAt: time.Now().UTC(),
	})
	return nil
}

// CancelOffer implements spec.md's cancelOffer contract: only the
// originating rider may cancel, and only while state=OPEN.
func (m *Manager) CancelOffer(ctx context.Context, offerID, byRider uuid.UUID) error {
	offer, err := m.loadOffer(ctx, offerID)
	if err != nil {
		return common.NewNotFoundError("offer not found", err)
	}
	if offer.RiderID != byRider {
		return common.NewForbiddenError("only the originating rider may cancel this offer")
	}

	now := time.Now().UTC()
	res, err := expireOfferScript.Run(ctx, m.redis.Client, []string{offerKey(offerID.String())}, strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		return common.NewTransientStoreError("cancelOffer: store unavailable", err)
	}
	if changed, _ := res.(int64); changed != 1 {
		return common.NewPreconditionFailedError("offer is no longer open")
	}

	m.removeFromExpiry(ctx, offerID)

	for _, driverID := range offer.Recipients {
		sendJSON(m.notifier, driverID.String(), eventRideRequestCancelled, cancelledPayload{OfferID: offerID, Reason: "rider_cancelled"})
	}

	m.publish(ctx, eventbus.SubjectOfferCancelled, "offer.cancelled", eventbus.OfferCancelledData{
		OfferID:     offerID,
		RideID:      offerID,
		Reason:      "rider_cancelled",
		CancelledAt: now,
	})
	return nil
}

func (m *Manager) removeFromExpiry(ctx context.Context, offerID uuid.UUID) {
	if err := m.redis.ZRem(ctx, offerExpiryZSetKey, offerID.String()).Err(); err != nil {
		logger.WarnContext(ctx, "failed to remove offer from expiry schedule", zap.String("offer_id", offerID.String()), zap.Error(err))
	}
}

func (m *Manager) loadOffer(ctx context.Context, offerID uuid.UUID) (*Offer, error) {
	fields, err := m.redis.HGetAll(ctx, offerKey(offerID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load offer %s: %w", offerID, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("offer %s not found", offerID)
	}

	recipientStrs, err := m.redis.SMembers(ctx, recipientsKey(offerID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("load recipients for offer %s: %w", offerID, err)
	}
	recipients := make([]uuid.UUID, 0, len(recipientStrs))
	for _, r := range recipientStrs {
		if id, err := uuid.Parse(r); err == nil {
			recipients = append(recipients, id)
		}
	}

	riderID, _ := uuid.Parse(fields["rider_id"])
	fare, _ := strconv.ParseFloat(fields["fare"], 64)
	distance, _ := strconv.ParseFloat(fields["distance"], 64)
	pickupLat, _ := strconv.ParseFloat(fields["pickup_lat"], 64)
	pickupLng, _ := strconv.ParseFloat(fields["pickup_lng"], 64)
	destLat, _ := strconv.ParseFloat(fields["dest_lat"], 64)
	destLng, _ := strconv.ParseFloat(fields["dest_lng"], 64)
	createdAtSecs, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	expiresAtSecs, _ := strconv.ParseInt(fields["expires_at"], 10, 64)

	offer := &Offer{
		OfferID:     offerID,
		RideID:      offerID,
		RiderID:     riderID,
		Pickup:      geocell.LatLng{Lat: pickupLat, Lng: pickupLng},
		Destination: geocell.LatLng{Lat: destLat, Lng: destLng},
		Fare:        fare,
		Distance:    distance,
		CreatedAt:   time.Unix(createdAtSecs, 0).UTC(),
		ExpiresAt:   time.Unix(expiresAtSecs, 0).UTC(),
		Recipients:  recipients,
		State:       State(fields["state"]),
	}
	if winner, err := uuid.Parse(fields["winner"]); err == nil {
		offer.Winner = &winner
	}
	return offer, nil
}
