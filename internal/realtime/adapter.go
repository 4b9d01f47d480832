// Package realtime implements the Ingress/Egress Adapters (component G):
// the wire boundary that demultiplexes inbound frames on a registered
// channel into core operations, and serializes core state transitions
// back out as outbound frames. It owns no state of its own — every
// operation delegates to the Connection Registry, the Driver Position
// Store or the Offer Manager — mirroring the teacher's realtime
// service, which was itself a thin dispatcher over the hub and a
// handful of collaborators.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/dispatch"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/internal/registry"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/websocket"
	"go.uber.org/zap"
)

// Inbound event names from spec.md §6's closed wire event set.
const (
	eventUserRegister   = "user:register"
	eventLocationUpdate = "location:update"
	eventRideAccept     = "ride:accept"
	eventRideReject     = "ride:reject"
)

// eventUserRegistered acknowledges the inbound handshake. Channel
// attachment to the Connection Registry itself already happened at
// HTTP-upgrade time, using the role carried by the JWT — this event
// never changes that; it only lets a driver announce an initial fix
// in the same round trip as the handshake.
const eventUserRegistered = "user:registered"

// eventRideAcceptFailed mirrors the name internal/dispatch uses for its own
// outbound frame; the adapter sends its own copy here because the accept
// attempt can fail before the Offer Manager ever loads the offer (a bad
// payload, an unparseable identity) and has nothing to notify from.
const eventRideAcceptFailed = "ride:accept:failed"

type acceptFailedReply struct {
	OfferID uuid.UUID `json:"requestId"`
	Message string    `json:"message"`
}

type userRegisterPayload struct {
	Coordinates *geocell.LatLng `json:"coordinates,omitempty"`
}

type locationUpdatePayload struct {
	Coordinates geocell.LatLng `json:"coordinates"`
	Available   *bool          `json:"available,omitempty"`
}

type rideAcceptPayload struct {
	OfferID uuid.UUID `json:"requestId"`
}

type rideRejectPayload struct {
	OfferID uuid.UUID `json:"requestId"`
}

type registeredPayload struct {
	Success   bool   `json:"success"`
	ChannelID string `json:"channelId"`
}

// Adapter wires pkg/websocket.Hub's handler table to the domain. It
// holds no channel-specific state: every inbound frame carries its own
// identity via the Client the hub passes to each handler.
type Adapter struct {
	hub       *websocket.Hub
	positions *geo.PositionStore
	offers    *dispatch.Manager
}

// NewAdapter registers every inbound handler on hub and returns the
// adapter. Channel attach/detach bookkeeping belongs to
// internal/registry, wired separately against the same hub — the
// adapter only demultiplexes frames, it never touches presence itself.
// positions may be nil when driver location isn't tracked (e.g. a
// rider-only deployment), in which case location:update is ignored and
// no reply is sent.
func NewAdapter(hub *websocket.Hub, positions *geo.PositionStore, offers *dispatch.Manager) *Adapter {
	a := &Adapter{hub: hub, positions: positions, offers: offers}
	hub.RegisterHandler(eventUserRegister, a.handleUserRegister)
	hub.RegisterHandler(eventLocationUpdate, a.handleLocationUpdate)
	hub.RegisterHandler(eventRideAccept, a.handleRideAccept)
	hub.RegisterHandler(eventRideReject, a.handleRideReject)
	return a
}

// handleUserRegister is the post-attach handshake: the channel is
// already live in the Connection Registry by the time any frame can
// arrive, so this only optionally seeds an initial position and
// acknowledges with success and the channel's identity as channelId.
func (a *Adapter) handleUserRegister(c *websocket.Client, msg *websocket.Message) {
	var payload userRegisterPayload
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			logger.Get().Warn("realtime: malformed user:register payload", zap.String("identity", c.ID), zap.Error(err))
		}
	}

	if c.Role == registry.RoleDriver && payload.Coordinates != nil && a.positions != nil {
		a.upsertDriverPosition(c, *payload.Coordinates, true, true)
	}

	a.reply(c, eventUserRegistered, registeredPayload{Success: true, ChannelID: c.ID})
}

// handleLocationUpdate upserts a driver's Position Record. Non-driver
// channels and absent position stores are silent no-ops: a rider has
// no Position Record to update.
func (a *Adapter) handleLocationUpdate(c *websocket.Client, msg *websocket.Message) {
	if c.Role != registry.RoleDriver || a.positions == nil {
		return
	}
	var payload locationUpdatePayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		logger.Get().Warn("realtime: malformed location:update payload", zap.String("identity", c.ID), zap.Error(err))
		return
	}
	available := true
	if payload.Available != nil {
		available = *payload.Available
	}
	a.upsertDriverPosition(c, payload.Coordinates, true, available)
}

func (a *Adapter) upsertDriverPosition(c *websocket.Client, coords geocell.LatLng, online, available bool) {
	driverID, err := uuid.Parse(c.ID)
	if err != nil {
		logger.Get().Warn("realtime: non-uuid driver identity", zap.String("identity", c.ID))
		return
	}
	cell, err := geocell.CellOf(coords.Lat, coords.Lng)
	if err != nil {
		logger.Get().Warn("realtime: invalid coordinates", zap.String("identity", c.ID), zap.Error(err))
		return
	}
	if err := a.positions.Upsert(context.Background(), driverID, driverID, coords.Lat, coords.Lng, cell, online, available); err != nil {
		logger.Get().Warn("realtime: position upsert failed", zap.String("driver_id", c.ID), zap.Error(err))
	}
}

// handleRideAccept demuxes into the Offer Manager's first-accept-wins
// CAS and replies with either ride:accept:success or
// ride:accept:failed — it never mutates state itself.
func (a *Adapter) handleRideAccept(c *websocket.Client, msg *websocket.Message) {
	var payload rideAcceptPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		logger.Get().Warn("realtime: malformed ride:accept payload", zap.String("identity", c.ID), zap.Error(err))
		return
	}
	driverID, err := uuid.Parse(c.ID)
	if err != nil {
		logger.Get().Warn("realtime: non-uuid driver identity on accept", zap.String("identity", c.ID))
		return
	}
	if _, err := a.offers.AcceptOffer(context.Background(), payload.OfferID, driverID); err != nil {
		a.reply(c, eventRideAcceptFailed, acceptFailedReply{OfferID: payload.OfferID, Message: err.Error()})
	}
	// On success the Offer Manager itself notifies the winner, the
	// rider, and the losing recipients — the adapter sends nothing
	// further here.
}

// handleRideReject demuxes into the Offer Manager's recipient removal.
// Rejection carries no failure reply: a driver declining an offer
// simply drops out of the candidate set.
func (a *Adapter) handleRideReject(c *websocket.Client, msg *websocket.Message) {
	var payload rideRejectPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		logger.Get().Warn("realtime: malformed ride:reject payload", zap.String("identity", c.ID), zap.Error(err))
		return
	}
	driverID, err := uuid.Parse(c.ID)
	if err != nil {
		logger.Get().Warn("realtime: non-uuid driver identity on reject", zap.String("identity", c.ID))
		return
	}
	if err := a.offers.RejectOffer(context.Background(), payload.OfferID, driverID); err != nil {
		logger.Get().Warn("realtime: reject offer failed", zap.String("offer_id", payload.OfferID.String()), zap.Error(err))
	}
}

func (a *Adapter) reply(c *websocket.Client, event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Get().Warn("realtime: failed to marshal reply", zap.String("event", event), zap.Error(err))
		return
	}
	a.hub.SendToUser(c.ID, &websocket.Message{Event: event, Data: raw, Timestamp: time.Now().UTC()})
}
