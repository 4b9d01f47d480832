// Package routing is the Routing Collaborator client named in spec §6:
// an external HTTP provider for route(duration,distance), guarded by a
// circuit breaker and a best-effort contract — failure never propagates
// as an error to the Nearby-Driver Query, it falls back to a haversine
// ETA estimate.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/pkg/httpclient"
	"github.com/richxcame/dispatch-core/pkg/logger"
	"github.com/richxcame/dispatch-core/pkg/resilience"
	"go.uber.org/zap"
)

// Result is the outcome of a route lookup.
type Result struct {
	DurationSeconds float64
	DistanceMeters  float64
	Fallback        bool // true if haversine was used instead of the provider
}

// Provider computes an ETA between two points. Implementations never
// return an error for a routing-provider failure — they fall back.
type Provider interface {
	Route(ctx context.Context, from, to geocell.LatLng) (Result, error)
}

// HTTPProvider calls an external routing service over HTTP, wrapped in
// a circuit breaker, falling back to an assumed-speed haversine
// estimate when the breaker is open or the call fails or times out.
type HTTPProvider struct {
	client      *httpclient.Client
	breaker     *resilience.CircuitBreaker
	assumedKmh  float64
	callTimeout time.Duration
}

// NewHTTPProvider builds a provider against a routing service base URL.
// assumedKmh feeds the haversine fallback's ETA formula (§4.D step d).
func NewHTTPProvider(baseURL string, callTimeout time.Duration, assumedKmh float64, breaker *resilience.CircuitBreaker) *HTTPProvider {
	return &HTTPProvider{
		client:      httpclient.NewClient(baseURL, callTimeout),
		breaker:     breaker,
		assumedKmh:  assumedKmh,
		callTimeout: callTimeout,
	}
}

type routeResponse struct {
	DurationSec    float64 `json:"duration_sec"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Route calls the routing provider; on any failure it returns a
// haversine-derived estimate with Fallback=true instead of an error,
// matching the "routing_unavailable is not an error" contract of §7.
func (p *HTTPProvider) Route(ctx context.Context, from, to geocell.LatLng) (Result, error) {
	straightKm := geocell.Haversine(from, to)
	fallback := p.haversineFallback(straightKm)

	if p.client == nil {
		return fallback, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.callTimeout)
	defer cancel()

	path := fmt.Sprintf("/route?from_lat=%f&from_lng=%f&to_lat=%f&to_lng=%f",
		from.Lat, from.Lng, to.Lat, to.Lng)

	call := func(ctx context.Context) (interface{}, error) {
		return p.client.Get(ctx, path, nil)
	}

	var body []byte
	var err error
	if p.breaker != nil {
		var result interface{}
		result, err = p.breaker.Execute(ctx, call)
		if err == nil {
			body = result.([]byte)
		}
	} else {
		body, err = p.client.Get(ctx, path, nil)
	}

	if err != nil {
		logger.WarnContext(ctx, "routing provider unavailable, using haversine fallback", zap.Error(err))
		return fallback, nil
	}

	var resp routeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		logger.WarnContext(ctx, "routing provider returned malformed response, using haversine fallback", zap.Error(err))
		return fallback, nil
	}

	return Result{DurationSeconds: resp.DurationSec, DistanceMeters: resp.DistanceMeters}, nil
}

func (p *HTTPProvider) haversineFallback(straightKm float64) Result {
	kmh := p.assumedKmh
	if kmh <= 0 {
		kmh = 30
	}
	durationSec := (straightKm / kmh) * 3600
	return Result{
		DurationSeconds: durationSec,
		DistanceMeters:  straightKm * 1000,
		Fallback:        true,
	}
}
