package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_Route_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"duration_sec": 120, "distance_meters": 900}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, 30, nil)

	result, err := provider.Route(context.Background(), geocell.LatLng{Lat: 1, Lng: 1}, geocell.LatLng{Lat: 1.01, Lng: 1.01})
	require.NoError(t, err)
	assert.False(t, result.Fallback)
	assert.Equal(t, 120.0, result.DurationSeconds)
	assert.Equal(t, 900.0, result.DistanceMeters)
}

func TestHTTPProvider_Route_FallsBackOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(srv.URL, time.Second, 30, nil)

	from := geocell.LatLng{Lat: 37.7749, Lng: -122.4194}
	to := geocell.LatLng{Lat: 37.7849, Lng: -122.4294}

	result, err := provider.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.True(t, result.Fallback)
	assert.Greater(t, result.DurationSeconds, 0.0)
}

func TestHTTPProvider_Route_NilClientUsesFallback(t *testing.T) {
	provider := &HTTPProvider{assumedKmh: 30, callTimeout: time.Second}

	from := geocell.LatLng{Lat: 0, Lng: 0}
	to := geocell.LatLng{Lat: 0.01, Lng: 0.01}

	result, err := provider.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.True(t, result.Fallback)
}
