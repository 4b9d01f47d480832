// Package syncworker implements the Location Sync Worker (component F):
// the periodic two-phase migration of position updates from the
// ephemeral store to the durable store. Grounded stylistically on the
// teacher's internal/geo/location_buffer.go (ticker + mutex + stop
// channel), reimplemented around the five-phase snapshot / gather /
// persist / reconcile / recover algorithm against internal/durable.Store
// instead of a batched Redis write.
package syncworker

import (
	_ "embed"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/richxcame/dispatch-core/internal/durable"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/pkg/logger"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"go.uber.org/zap"
)

//go:embed scripts/snapshot.lua
var snapshotScriptSrc string

//go:embed scripts/reconcile.lua
var reconcileScriptSrc string

var (
	snapshotScript  = redis.NewScript(snapshotScriptSrc)
	reconcileScript = redis.NewScript(reconcileScriptSrc)
)

// DefaultInterval is spec.md's default sync cadence.
const DefaultInterval = 5 * time.Minute

// DefaultPersistConcurrency bounds how many durable-store writes a
// single run issues at once — persist-phase updates are independent
// per spec.md, but an unbounded fan-out would let one run exhaust the
// pgx pool.
const DefaultPersistConcurrency = 16

// Result summarizes one completed run, surfaced through Status for an
// admin endpoint to poll.
type Result struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Snapshot   int
	Persisted  int
	Failed     int
	Err        error
}

// Worker owns the run loop. It holds no long-lived lock beyond the
// single-flight guard: every phase reads and writes through
// PositionStore/Store, never caching state of its own.
type Worker struct {
	redis       *dispatchredis.Client
	positions   *geo.PositionStore
	durable     *durable.Store
	interval    time.Duration
	concurrency int

	trigger chan struct{}
	stop    chan struct{}

	runMu   sync.Mutex // single-flight: at most one run in flight
	statMu  sync.RWMutex
	lastRun Result
}

// NewWorker builds a worker against its collaborators. Call Start to
// run it on its own goroutine.
func NewWorker(client *dispatchredis.Client, positions *geo.PositionStore, store *durable.Store) *Worker {
	return &Worker{
		redis:       client,
		positions:   positions,
		durable:     store,
		interval:    DefaultInterval,
		concurrency: DefaultPersistConcurrency,
		trigger:     make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

// SetInterval overrides the default 5-minute cadence, mainly for tests.
func (w *Worker) SetInterval(d time.Duration) { w.interval = d }

// Start runs the fatal-recovery pass once, then drives the ticker loop
// until ctx is cancelled or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	w.recoverCrashedRun(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.runOnce(ctx)
		case <-w.trigger:
			w.runOnce(ctx)
		}
	}
}

// Stop ends the run loop. Safe to call once; Start returns shortly after.
func (w *Worker) Stop() {
	close(w.stop)
}

// TriggerNow requests an out-of-cadence run. A pending trigger is
// coalesced: if one is already queued, this is a no-op.
func (w *Worker) TriggerNow() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Status returns the outcome of the most recently completed run.
func (w *Worker) Status() Result {
	w.statMu.RLock()
	defer w.statMu.RUnlock()
	return w.lastRun
}

// recoverCrashedRun implements spec's fatal-recovery phase: on start,
// whatever is still sitting in the Processing Set belongs to a run
// that never reached reconcile, so it's merged back into Active-Dirty
// under the same newer-wins policy reconcile itself applies.
func (w *Worker) recoverCrashedRun(ctx context.Context) {
	ids, err := w.redis.SMembers(ctx, geo.ProcessingKey).Result()
	if err != nil {
		logger.WarnContext(ctx, "syncworker: failed to read processing set on recovery", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}
	if err := w.reconcile(ctx, nil, ids); err != nil {
		logger.WarnContext(ctx, "syncworker: crashed-run recovery failed", zap.Error(err))
		return
	}
	logger.Get().Info("syncworker: recovered processing entries from a crashed run", zap.Int("count", len(ids)))
}

// runOnce executes one pass of the five-phase algorithm. At most one
// call runs at a time; an overlapping trigger while a run is already
// in flight is simply dropped once runMu is released — the next tick
// or trigger will pick up whatever's dirty by then.
func (w *Worker) runOnce(ctx context.Context) {
	if !w.runMu.TryLock() {
		logger.Get().Info("syncworker: run already in flight, skipping")
		return
	}
	defer w.runMu.Unlock()

	result := Result{StartedAt: time.Now().UTC()}
	defer func() {
		result.FinishedAt = time.Now().UTC()
		w.statMu.Lock()
		w.lastRun = result
		w.statMu.Unlock()
	}()

	snapshotSize, err := w.snapshot(ctx)
	if err != nil {
		result.Err = err
		logger.WarnContext(ctx, "syncworker: snapshot phase failed", zap.Error(err))
		return
	}
	result.Snapshot = snapshotSize
	if snapshotSize == 0 {
		return
	}

	ids, err := w.redis.SMembers(ctx, geo.ProcessingKey).Result()
	if err != nil {
		result.Err = err
		logger.WarnContext(ctx, "syncworker: failed to read processing set", zap.Error(err))
		return
	}

	gathered, expired, unread := w.gather(ctx, ids)
	persisted, failed := w.persist(ctx, gathered)
	result.Persisted = len(persisted)
	result.Failed = len(failed)

	// Ids whose record could not be read go back with the failed persists,
	// so the next snapshot's RENAME cannot overwrite them in processing.
	failed = append(failed, unread...)

	// Entries whose record expired between snapshot and gather have
	// nothing left to persist; they're dropped from processing outright,
	// same as a successful persist, rather than merged back as failed —
	// there's no newer position to retry, and a reconnecting driver will
	// land back in active-dirty on its next upsert regardless.
	drop := append(persisted, expired...)

	if err := w.reconcile(ctx, drop, failed); err != nil {
		result.Err = err
		logger.WarnContext(ctx, "syncworker: reconcile phase failed", zap.Error(err))
	}
}

// snapshot is the atomic active-dirty -> processing move (step 1).
func (w *Worker) snapshot(ctx context.Context) (int, error) {
	res, err := snapshotScript.Run(ctx, w.redis.Client, []string{geo.ActiveDirtyKey, geo.ProcessingKey}).Result()
	if err != nil {
		return 0, err
	}
	count, _ := res.(int64)
	return int(count), nil
}

// gather reads the current Position Record for each processing id,
// separating entries whose record expired between snapshot and read
// (step 2). A read failure (not an absent record) is returned in unread,
// which runOnce merges back into active-dirty with the failed persists.
func (w *Worker) gather(ctx context.Context, ids []string) (records []*geo.Position, expired, unread []string) {
	for _, raw := range ids {
		driverID, err := uuid.Parse(raw)
		if err != nil {
			logger.WarnContext(ctx, "syncworker: non-uuid id in processing set", zap.String("id", raw))
			continue
		}
		pos, err := w.positions.Get(ctx, driverID)
		if err != nil {
			logger.WarnContext(ctx, "syncworker: failed to read position during gather", zap.String("driver_id", raw), zap.Error(err))
			unread = append(unread, raw)
			continue
		}
		if pos == nil {
			expired = append(expired, raw)
			continue
		}
		records = append(records, pos)
	}
	return records, expired, unread
}

// persist issues one idempotent durable update per gathered record, in
// parallel bounded by w.concurrency (step 3). Returns the driverIds
// that succeeded and the ones that failed, as strings ready for the
// reconcile script's ARGV.
func (w *Worker) persist(ctx context.Context, records []*geo.Position) (persisted, failed []string) {
	if len(records) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, pos := range records {
		wg.Add(1)
		sem <- struct{}{}
		go func(pos *geo.Position) {
			defer wg.Done()
			defer func() { <-sem }()

			err := w.durable.UpdateDriverPosition(ctx, durable.PositionUpdate{
				DriverID:    pos.DriverID,
				Latitude:    pos.Lat,
				Longitude:   pos.Lng,
				IsOnline:    pos.IsOnline,
				IsAvailable: pos.IsAvailable,
				LastSeenAt:  pos.LastSeenAt,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.WarnContext(ctx, "syncworker: persist failed", zap.String("driver_id", pos.DriverID.String()), zap.Error(err))
				failed = append(failed, pos.DriverID.String())
			} else {
				persisted = append(persisted, pos.DriverID.String())
			}
		}(pos)
	}
	wg.Wait()
	return persisted, failed
}

// reconcile implements step 4 (and, reused, step 5's recovery merge):
// persisted ids are dropped from processing outright; failed ids are
// merged back into active-dirty unless a newer write already landed
// there during the run, in which case the stale copy is discarded.
func (w *Worker) reconcile(ctx context.Context, persisted, failed []string) error {
	argv := make([]interface{}, 0, 1+len(persisted)+len(failed))
	argv = append(argv, len(persisted))
	for _, id := range persisted {
		argv = append(argv, id)
	}
	for _, id := range failed {
		argv = append(argv, id)
	}
	_, err := reconcileScript.Run(ctx, w.redis.Client, []string{geo.ActiveDirtyKey, geo.ProcessingKey}, argv...).Result()
	return err
}
