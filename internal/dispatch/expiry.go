package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/richxcame/dispatch-core/pkg/eventbus"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"go.uber.org/zap"
)

// ExpiryReaper drives the Offer Manager's bounded-delay expiry sweep:
// spec.md requires no offer remain OPEN past expiresAt+2s. Styled on the
// teacher's internal/geo/location_buffer.go ticker+stop-channel shape,
// but driving an entirely different cycle: a periodic scan of a Redis
// sorted set scored by expiresAt, rather than a batched write-back.
type ExpiryReaper struct {
	manager  *Manager
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewExpiryReaper builds a reaper over manager. interval should be well
// under the 2s tolerance spec.md allows — 1s keeps worst-case lateness
// under the bound with margin for scan/script latency.
func NewExpiryReaper(manager *Manager, interval time.Duration) *ExpiryReaper {
	if interval <= 0 {
		interval = time.Second
	}
	return &ExpiryReaper{
		manager:  manager,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called. Intended to run in its
// own goroutine for the lifetime of the process.
func (r *ExpiryReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweepOnce(ctx)
		}
	}
}

// Stop signals the loop to exit and blocks until it has.
func (r *ExpiryReaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *ExpiryReaper) sweepOnce(ctx context.Context) {
	now := time.Now().UTC()
	due, err := r.manager.redis.ZRangeByScore(ctx, offerExpiryZSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		logger.WarnContext(ctx, "expiry reaper: scan failed", zap.Error(err))
		return
	}
	for _, idStr := range due {
		offerID, err := uuid.Parse(idStr)
		if err != nil {
			r.manager.redis.ZRem(ctx, offerExpiryZSetKey, idStr)
			continue
		}
		r.expireOne(ctx, offerID)
	}
}

func (r *ExpiryReaper) expireOne(ctx context.Context, offerID uuid.UUID) {
	offer, err := r.manager.loadOffer(ctx, offerID)
	if err != nil {
		// Record already gone (TTL'd out or never existed); just drop the
		// stale expiry-schedule entry.
		r.manager.removeFromExpiry(ctx, offerID)
		return
	}

	now := time.Now().UTC()
	res, err := expireOfferScript.Run(ctx, r.manager.redis.Client, []string{offerKey(offerID.String())}, strconv.FormatInt(now.Unix(), 10)).Result()
	if err != nil {
		logger.WarnContext(ctx, "expiry reaper: transition failed", zap.String("offer_id", offerID.String()), zap.Error(err))
		return
	}
	r.manager.removeFromExpiry(ctx, offerID)

	changed, _ := res.(int64)
	if changed != 1 {
		// Already ACCEPTED or expired by a concurrent sweep; nothing to notify.
		return
	}

	sendJSON(r.manager.notifier, offer.RiderID.String(), eventRideRequestExpired, expiredPayload{OfferID: offerID, Message: "expired"})
	r.manager.publish(ctx, eventbus.SubjectOfferExpired, "offer.expired", eventbus.OfferExpiredData{
		OfferID:   offerID,
		RideID:    offerID,
		ExpiredAt: now,
	})
}
