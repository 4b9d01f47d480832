package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// NewEvent
// ---------------------------------------------------------------------------

func TestNewEvent_Success(t *testing.T) {
	data := map[string]string{"offer_id": "abc"}

	event, err := NewEvent("offers.created", "dispatch-core", data)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "offers.created", event.Type)
	assert.Equal(t, "dispatch-core", event.Source)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	// ID should be a valid UUID
	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)

	// Data should be valid JSON
	var decoded map[string]string
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "abc", decoded["offer_id"])
}

func TestNewEvent_NilData(t *testing.T) {
	event, err := NewEvent("test.event", "test-source", nil)
	require.NoError(t, err)
	assert.Equal(t, json.RawMessage("null"), event.Data)
}

func TestNewEvent_ComplexData(t *testing.T) {
	data := OfferCreatedData{
		OfferID:    uuid.New(),
		RideID:     uuid.New(),
		DriverID:   uuid.New(),
		RiderID:    uuid.New(),
		PickupCell: "8928308280fffff",
		ExpiresAt:  time.Now().Add(15 * time.Second),
		CreatedAt:  time.Now(),
	}

	event, err := NewEvent(SubjectOfferCreated, "dispatch-core", data)
	require.NoError(t, err)

	// Deserialize and verify
	var decoded OfferCreatedData
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, data.OfferID, decoded.OfferID)
	assert.Equal(t, data.RideID, decoded.RideID)
	assert.Equal(t, data.DriverID, decoded.DriverID)
	assert.Equal(t, data.RiderID, decoded.RiderID)
	assert.Equal(t, data.PickupCell, decoded.PickupCell)
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	// Channels cannot be marshaled to JSON
	event, err := NewEvent("test", "src", make(chan int))
	assert.Error(t, err)
	assert.Nil(t, event)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	ids := make(map[string]bool)
	for i := 0; i < 100; i++ {
		event, err := NewEvent("test", "src", nil)
		require.NoError(t, err)
		assert.False(t, ids[event.ID], "duplicate event ID generated")
		ids[event.ID] = true
	}
}

func TestNewEvent_TimestampIsUTC(t *testing.T) {
	event, err := NewEvent("test", "src", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
}

// ---------------------------------------------------------------------------
// Event JSON serialization round-trip
// ---------------------------------------------------------------------------

func TestEvent_JSONRoundTrip(t *testing.T) {
	original, err := NewEvent("offers.accepted", "dispatch-core", map[string]int{"drivers_synced": 25})
	require.NoError(t, err)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var restored Event
	err = json.Unmarshal(data, &restored)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Source, restored.Source)
	assert.JSONEq(t, string(original.Data), string(restored.Data))
}

// ---------------------------------------------------------------------------
// Subject constants
// ---------------------------------------------------------------------------

func TestSubjectConstants(t *testing.T) {
	tests := []struct {
		name     string
		subject  string
		expected string
	}{
		{"OfferCreated", SubjectOfferCreated, "offers.created"},
		{"OfferAccepted", SubjectOfferAccepted, "offers.accepted"},
		{"OfferExpired", SubjectOfferExpired, "offers.expired"},
		{"OfferRejected", SubjectOfferRejected, "offers.rejected"},
		{"OfferCancelled", SubjectOfferCancelled, "offers.cancelled"},
		{"DriverLocationUpdated", SubjectDriverLocationUpdated, "drivers.location.updated"},
		{"DriverConnected", SubjectDriverConnected, "drivers.connected"},
		{"DriverDisconnected", SubjectDriverDisconnected, "drivers.disconnected"},
		{"SyncCompleted", SubjectSyncCompleted, "sync.completed"},
		{"SyncFailed", SubjectSyncFailed, "sync.failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.subject)
		})
	}
}

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	assert.Equal(t, "dispatch-core", cfg.Name)
	assert.Equal(t, "DISPATCH", cfg.StreamName)
}

// ---------------------------------------------------------------------------
// Config struct
// ---------------------------------------------------------------------------

func TestConfig_Fields(t *testing.T) {
	cfg := Config{
		URL:        "nats://custom:4222",
		Name:       "my-service",
		StreamName: "MYSTREAM",
	}

	assert.Equal(t, "nats://custom:4222", cfg.URL)
	assert.Equal(t, "my-service", cfg.Name)
	assert.Equal(t, "MYSTREAM", cfg.StreamName)
}

// ---------------------------------------------------------------------------
// HandlerFunc type
// ---------------------------------------------------------------------------

func TestHandlerFunc_Invocation(t *testing.T) {
	var called bool
	var receivedEvent *Event

	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		called = true
		receivedEvent = event
		return nil
	})

	event, _ := NewEvent("test.event", "test", map[string]string{"key": "value"})
	err := handler(context.Background(), event)

	assert.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, event.ID, receivedEvent.ID)
}

func TestHandlerFunc_ReturnsError(t *testing.T) {
	handler := HandlerFunc(func(ctx context.Context, event *Event) error {
		return assert.AnError
	})

	event, _ := NewEvent("test", "src", nil)
	err := handler(context.Background(), event)

	assert.ErrorIs(t, err, assert.AnError)
}

// ---------------------------------------------------------------------------
// Event data types – serialization
// ---------------------------------------------------------------------------

func TestOfferCreatedData_Serialization(t *testing.T) {
	data := OfferCreatedData{
		OfferID:    uuid.New(),
		RideID:     uuid.New(),
		DriverID:   uuid.New(),
		RiderID:    uuid.New(),
		PickupCell: "8928308280fffff",
		ExpiresAt:  time.Now().Add(15 * time.Second).UTC().Truncate(time.Millisecond),
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded OfferCreatedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.OfferID, decoded.OfferID)
	assert.Equal(t, data.RideID, decoded.RideID)
	assert.Equal(t, data.DriverID, decoded.DriverID)
	assert.Equal(t, data.RiderID, decoded.RiderID)
	assert.Equal(t, data.PickupCell, decoded.PickupCell)
	assert.Equal(t, data.ExpiresAt, decoded.ExpiresAt)
	assert.Equal(t, data.CreatedAt, decoded.CreatedAt)
}

func TestOfferAcceptedData_Serialization(t *testing.T) {
	data := OfferAcceptedData{
		OfferID:    uuid.New(),
		RideID:     uuid.New(),
		DriverID:   uuid.New(),
		RiderID:    uuid.New(),
		AcceptedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded OfferAcceptedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.OfferID, decoded.OfferID)
	assert.Equal(t, data.DriverID, decoded.DriverID)
}

func TestOfferExpiredData_Serialization(t *testing.T) {
	data := OfferExpiredData{
		OfferID:   uuid.New(),
		RideID:    uuid.New(),
		DriverID:  uuid.New(),
		ExpiredAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded OfferExpiredData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.OfferID, decoded.OfferID)
	assert.Equal(t, data.DriverID, decoded.DriverID)
}

func TestOfferRejectedData_Serialization(t *testing.T) {
	data := OfferRejectedData{
		OfferID:    uuid.New(),
		RideID:     uuid.New(),
		DriverID:   uuid.New(),
		RejectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded OfferRejectedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.OfferID, decoded.OfferID)
}

func TestOfferCancelledData_Serialization(t *testing.T) {
	data := OfferCancelledData{
		OfferID:     uuid.New(),
		RideID:      uuid.New(),
		Reason:      "rider cancelled",
		CancelledAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded OfferCancelledData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.Reason, decoded.Reason)
}

func TestDriverLocationUpdatedData_Serialization(t *testing.T) {
	data := DriverLocationUpdatedData{
		DriverID:  uuid.New(),
		Latitude:  37.7749,
		Longitude: -122.4194,
		Heading:   90.0,
		Speed:     35.5,
		H3Cell:    "8928308280fffff",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded DriverLocationUpdatedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.H3Cell, decoded.H3Cell)
	assert.Equal(t, data.Speed, decoded.Speed)
	assert.Equal(t, data.Heading, decoded.Heading)
}

func TestDriverConnectedData_Serialization(t *testing.T) {
	data := DriverConnectedData{
		DriverID:    uuid.New(),
		ConnectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded DriverConnectedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.DriverID, decoded.DriverID)
	assert.Equal(t, data.ConnectedAt, decoded.ConnectedAt)
}

func TestDriverDisconnectedData_Serialization(t *testing.T) {
	data := DriverDisconnectedData{
		DriverID:       uuid.New(),
		DisconnectedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded DriverDisconnectedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.DriverID, decoded.DriverID)
}

func TestSyncCompletedData_Serialization(t *testing.T) {
	data := SyncCompletedData{
		DriversSynced: 42,
		Duration:      1.25,
		CompletedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded SyncCompletedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.DriversSynced, decoded.DriversSynced)
	assert.Equal(t, data.Duration, decoded.Duration)
}

func TestSyncFailedData_Serialization(t *testing.T) {
	data := SyncFailedData{
		Reason:   "redis scan timed out",
		FailedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	b, err := json.Marshal(data)
	require.NoError(t, err)

	var decoded SyncFailedData
	err = json.Unmarshal(b, &decoded)
	require.NoError(t, err)

	assert.Equal(t, data.Reason, decoded.Reason)
}

// ---------------------------------------------------------------------------
// NewEvent with each event data type – integration
// ---------------------------------------------------------------------------

func TestNewEvent_WithOfferAcceptedData(t *testing.T) {
	data := OfferAcceptedData{
		OfferID:    uuid.New(),
		RideID:     uuid.New(),
		DriverID:   uuid.New(),
		RiderID:    uuid.New(),
		AcceptedAt: time.Now().UTC(),
	}

	event, err := NewEvent(SubjectOfferAccepted, "dispatch-core", data)
	require.NoError(t, err)
	assert.Equal(t, SubjectOfferAccepted, event.Type)

	var decoded OfferAcceptedData
	err = json.Unmarshal(event.Data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, data.OfferID, decoded.OfferID)
}

// ---------------------------------------------------------------------------
// Bus struct – nil-safety of Connected()
// ---------------------------------------------------------------------------

func TestBus_Connected_NilConn(t *testing.T) {
	bus := &Bus{}
	assert.False(t, bus.Connected())
}

// ---------------------------------------------------------------------------
// Bus struct – Close with empty subs
// ---------------------------------------------------------------------------

func TestBus_Close_NoSubs(t *testing.T) {
	bus := &Bus{}
	// Should not panic
	bus.Close()
}

// ---------------------------------------------------------------------------
// Event struct – zero value
// ---------------------------------------------------------------------------

func TestEvent_ZeroValue(t *testing.T) {
	var event Event
	assert.Empty(t, event.ID)
	assert.Empty(t, event.Type)
	assert.Empty(t, event.Source)
	assert.True(t, event.Timestamp.IsZero())
	assert.Nil(t, event.Data)
}
