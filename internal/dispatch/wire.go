package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/websocket"
	"go.uber.org/zap"
)

// Outbound event names from spec.md §6's closed wire event set that the
// Offer Manager and its expiry reaper emit. user:registered is emitted by
// internal/realtime instead, on channel attach.
const (
	eventRideRequest          = "ride:request"
	eventRideAccepted         = "ride:accepted"
	eventRideAcceptSuccess    = "ride:accept:success"
	eventRideAcceptFailed     = "ride:accept:failed"
	eventRideRequestCancelled = "ride:request:cancelled"
	eventRideRequestExpired   = "ride:request:expired"
)

// Wire payload JSON keys follow spec.md §6's literal names (requestId,
// driverId, ...) even where the Go-side field keeps the domain's own
// name (OfferID): the wire format is the client contract, the Go field
// name is this module's internal naming for the same value.
type rideRequestPayload struct {
	OfferID     uuid.UUID      `json:"requestId"`
	Pickup      geocell.LatLng `json:"pickup"`
	Destination geocell.LatLng `json:"destination"`
	Fare        float64        `json:"fare"`
	Distance    float64        `json:"distance"`
	ExpiresIn   int            `json:"expiresIn"`
}

type rideAcceptedPayload struct {
	OfferID    uuid.UUID `json:"requestId"`
	DriverID   uuid.UUID `json:"driverId"`
	DriverName string    `json:"driverName"`
	Message    string    `json:"message"`
}

type acceptSuccessPayload struct {
	OfferID     uuid.UUID `json:"requestId"`
	RideDetails *Offer    `json:"rideDetails"`
}

type cancelledPayload struct {
	OfferID uuid.UUID `json:"requestId"`
	Reason  string    `json:"reason"`
}

type expiredPayload struct {
	OfferID uuid.UUID `json:"requestId"`
	Message string    `json:"message"`
}

// sendJSON marshals payload and delivers it to identity's live channel
// under event. A nil notifier or absent channel is a silent no-op: spec's
// failure semantics treat notification delivery as best-effort, never
// something that should roll back a state transition.
func sendJSON(n Notifier, identity, event string, payload interface{}) {
	if n == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Get().Warn("dispatch: failed to marshal wire payload", zap.String("event", event), zap.Error(err))
		return
	}
	n.Notify(identity, &websocket.Message{Event: event, Data: raw, Timestamp: time.Now().UTC()})
}
