// Package registry is the Connection Registry: the authoritative map from a
// driver or rider identity to its single live bidirectional channel. It wraps
// pkg/websocket.Hub, which already owns last-wins re-registration and
// backpressure-close, and layers driver-specific bookkeeping on top: a
// driver's live connection handle is mirrored into the Driver Position Store
// so its Position Record shows whether the driver has a live channel.
package registry

import (
	"context"

	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/websocket"
	"go.uber.org/zap"
)

// RoleDriver and RoleRider are the identity roles the registry understands.
// RoleAdmin channels pass through untouched (no position bookkeeping).
const (
	RoleDriver = "driver"
	RoleRider  = "rider"
)

// Registry is component C. It does not own a goroutine: the hub's Run loop
// drives attach/detach, and the registry reacts synchronously via
// pkg/websocket.Hub.OnPresenceChange.
type Registry struct {
	hub       *websocket.Hub
	positions *geo.PositionStore
}

// NewRegistry wires itself into hub's presence-change hook. positions may be
// nil for a registry that only needs to track rider channels.
func NewRegistry(hub *websocket.Hub, positions *geo.PositionStore) *Registry {
	r := &Registry{hub: hub, positions: positions}
	hub.OnPresenceChange(r.onAttach, r.onDetach)
	return r
}

// onAttach runs on the hub's run loop when a channel registers (first
// connect or reconnect). Must not block.
func (r *Registry) onAttach(c *websocket.Client) {
	if c.Role != RoleDriver || r.positions == nil {
		return
	}
	driverID, err := uuid.Parse(c.ID)
	if err != nil {
		logger.Get().Warn("registry: non-uuid driver identity on attach", zap.String("id", c.ID))
		return
	}
	ctx := context.Background()
	if err := r.positions.SetConnection(ctx, driverID, c.ID); err != nil {
		logger.Get().Warn("registry: setConnection failed", zap.String("driver_id", c.ID), zap.Error(err))
	}
}

// onDetach runs when a channel unregisters, whether by clean disconnect or
// backpressure-close. The Position Record is left untouched: a driver may
// reconnect and its last known location is still useful until TTL expiry.
func (r *Registry) onDetach(c *websocket.Client) {
	if c.Role != RoleDriver || r.positions == nil {
		return
	}
	driverID, err := uuid.Parse(c.ID)
	if err != nil {
		return
	}
	ctx := context.Background()
	if err := r.positions.ClearOnDisconnect(ctx, driverID); err != nil {
		logger.Get().Warn("registry: clearOnDisconnect failed", zap.String("driver_id", c.ID), zap.Error(err))
	}
}

// IsReachable reports whether identity currently has a live channel.
func (r *Registry) IsReachable(identity string) bool {
	_, ok := r.hub.GetClient(identity)
	return ok
}

// Notify delivers msg to identity's live channel, if any. A disconnected
// identity silently drops the notification: spec treats an undelivered
// notification to an absent channel as expected, not an error (see the
// rider-reconnect-reconciliation open question).
func (r *Registry) Notify(identity string, msg *websocket.Message) {
	r.hub.SendToUser(identity, msg)
}

// Broadcast fans msg out to every live channel, regardless of role.
func (r *Registry) Broadcast(msg *websocket.Message) {
	r.hub.SendToAll(msg)
}

// ConnectedCount returns the number of live channels, driver and rider alike.
func (r *Registry) ConnectedCount() int {
	return r.hub.GetClientCount()
}
