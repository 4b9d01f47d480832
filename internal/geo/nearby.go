package geo

import (
	"context"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/durable"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/internal/routing"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"go.uber.org/zap"
)

// Constraints narrows a nearby-driver search. Defaults match spec's
// findNearby(lat,lng,constraints) contract.
type Constraints struct {
	MaxRings      int
	MinCount      int
	OnlyOnline    bool
	OnlyAvailable bool
	OnlyVerified  bool
	OnlyUnblocked bool
}

// DefaultConstraints matches spec §4.D's defaults.
func DefaultConstraints() Constraints {
	return Constraints{
		MaxRings:      5,
		MinCount:      1,
		OnlyOnline:    true,
		OnlyAvailable: true,
		OnlyVerified:  true,
		OnlyUnblocked: true,
	}
}

// Candidate is one surviving driver annotated with distance/ETA.
type Candidate struct {
	DriverID       uuid.UUID
	Position       *Position
	StraightLineKm float64
	ETAMinutes     float64
	RouteMeters    float64
	ETAFallback    bool
}

// Result is findNearby's return value.
type Result struct {
	Candidates   []Candidate
	SearchRadius int
}

// NearbyQuery is component D: the expanding-ring search over the
// Driver Position Store, ranked by ETA then distance.
type NearbyQuery struct {
	positions *PositionStore
	durable   *durable.Store
	router    routing.Provider
	maxRings  int
}

// NewNearbyQuery wires the Position Store, durable store (for the
// blocked/unverified gate) and routing collaborator together.
func NewNearbyQuery(positions *PositionStore, durableStore *durable.Store, router routing.Provider, maxRings int) *NearbyQuery {
	if maxRings <= 0 {
		maxRings = 5
	}
	return &NearbyQuery{positions: positions, durable: durableStore, router: router, maxRings: maxRings}
}

// FindNearby runs the expanding-ring scan of spec §4.D: ring k=0 first,
// growing one ring at a time, stopping as soon as MinCount survivors
// are found (or maxRings is exhausted).
func (q *NearbyQuery) FindNearby(ctx context.Context, lat, lng float64, constraints Constraints) (Result, error) {
	maxRings := constraints.MaxRings
	if maxRings <= 0 || maxRings > q.maxRings {
		maxRings = q.maxRings
	}
	minCount := constraints.MinCount
	if minCount <= 0 {
		minCount = 1
	}

	center, err := geocell.CellOf(lat, lng)
	if err != nil {
		return Result{}, err
	}
	pickup := geocell.LatLng{Lat: lat, Lng: lng}

	var survivors []Candidate
	for k := 0; k <= maxRings; k++ {
		ring, err := geocell.RingAt(center, k)
		if err != nil {
			return Result{}, err
		}

		driverIDs, err := q.positions.MembersOfCells(ctx, ring)
		if err != nil {
			return Result{}, err
		}

		for _, driverID := range driverIDs {
			if alreadySeen(survivors, driverID) {
				continue
			}
			candidate, ok, err := q.evaluate(ctx, driverID, pickup, constraints)
			if err != nil {
				logger.WarnContext(ctx, "skipping candidate after evaluation error",
					zap.String("driver_id", driverID.String()), zap.Error(err))
				continue
			}
			if ok {
				survivors = append(survivors, candidate)
			}
		}

		if len(survivors) >= minCount {
			sortByETAThenDistance(survivors)
			return Result{Candidates: survivors, SearchRadius: k}, nil
		}
	}

	sortByETAThenDistance(survivors)
	return Result{Candidates: survivors, SearchRadius: maxRings}, nil
}

func (q *NearbyQuery) evaluate(ctx context.Context, driverID uuid.UUID, pickup geocell.LatLng, c Constraints) (Candidate, bool, error) {
	pos, err := q.positions.Get(ctx, driverID)
	if err != nil {
		return Candidate{}, false, err
	}
	if pos == nil {
		return Candidate{}, false, nil // position expired between scan and load — P3
	}
	if c.OnlyOnline && !pos.IsOnline {
		return Candidate{}, false, nil
	}
	if c.OnlyAvailable && !pos.IsAvailable {
		return Candidate{}, false, nil
	}

	if (c.OnlyVerified || c.OnlyUnblocked) && q.durable != nil {
		driver, err := q.durable.GetDriverByID(ctx, driverID)
		if err != nil {
			return Candidate{}, false, nil // unknown durable record: treat as unverified, not a hard error
		}
		if c.OnlyVerified && !driver.IsVerified {
			return Candidate{}, false, nil
		}
		if c.OnlyUnblocked && driver.IsBlocked {
			return Candidate{}, false, nil
		}
	}

	driverPoint := geocell.LatLng{Lat: pos.Lat, Lng: pos.Lng}
	straightKm := geocell.Haversine(pickup, driverPoint)

	candidate := Candidate{
		DriverID:       driverID,
		Position:       pos,
		StraightLineKm: straightKm,
	}

	if q.router != nil {
		route, err := q.router.Route(ctx, pickup, driverPoint)
		if err == nil {
			candidate.ETAMinutes = route.DurationSeconds / 60
			candidate.RouteMeters = route.DistanceMeters
			candidate.ETAFallback = route.Fallback
		} else {
			candidate.ETAMinutes = math.Round(straightKm / 30 * 60)
			candidate.ETAFallback = true
		}
	} else {
		candidate.ETAMinutes = math.Round(straightKm / 30 * 60)
		candidate.ETAFallback = true
	}

	return candidate, true, nil
}

func alreadySeen(existing []Candidate, id uuid.UUID) bool {
	for _, c := range existing {
		if c.DriverID == id {
			return true
		}
	}
	return false
}

func sortByETAThenDistance(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ETAMinutes != candidates[j].ETAMinutes {
			return candidates[i].ETAMinutes < candidates[j].ETAMinutes
		}
		return candidates[i].StraightLineKm < candidates[j].StraightLineKm
	})
}
