package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/geo"
	"github.com/richxcame/dispatch-core/internal/geocell"
	"github.com/richxcame/dispatch-core/pkg/common"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	client := &dispatchredis.Client{Client: db}
	positions := geo.NewPositionStore(client, 300*time.Second)
	m := NewManager(client, positions, nil, nil, nil)
	m.SetTTL(15 * time.Second)
	return m, mock
}

var pickup = geocell.LatLng{Lat: 37.7749, Lng: -122.4194}
var destination = geocell.LatLng{Lat: 37.7849, Lng: -122.4294}

func TestManager_OpenOffer_RejectsEmptyRecipients(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.OpenOffer(context.Background(), uuid.New(), pickup, destination, nil, 12.5, 3.2)
	require.Error(t, err)
}

func TestManager_OpenOffer_Success(t *testing.T) {
	m, mock := newTestManager(t)
	riderID := uuid.New()
	driverID := uuid.New()
	offerID := uuid.New()
	m.newOfferID = func() uuid.UUID { return offerID }

	mock.Regexp().ExpectEvalSha(".*", []string{offerKey(offerID.String()), recipientsKey(offerID.String())}).SetVal(int64(1))
	mock.Regexp().ExpectZAdd(offerExpiryZSetKey).SetVal(1)

	offer, err := m.OpenOffer(context.Background(), riderID, pickup, destination, []uuid.UUID{driverID}, 12.5, 3.2)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, offer.State)
	assert.Equal(t, riderID, offer.RiderID)
	assert.Len(t, offer.Recipients, 1)
	assert.WithinDuration(t, offer.CreatedAt.Add(15*time.Second), offer.ExpiresAt, time.Second)
}

func TestManager_AcceptOffer_WinnerSucceeds(t *testing.T) {
	m, mock := newTestManager(t)
	offerID := uuid.New()
	riderID := uuid.New()
	driverID := uuid.New()

	mock.Regexp().ExpectEvalSha(".*", []string{offerKey(offerID.String())}).SetVal(int64(1))
	mock.ExpectHGetAll(offerKey(offerID.String())).SetVal(map[string]string{
		"rider_id":    riderID.String(),
		"fare":        "12.5",
		"distance":    "3.2",
		"pickup_lat":  "37.7749",
		"pickup_lng":  "-122.4194",
		"dest_lat":    "37.7849",
		"dest_lng":    "-122.4294",
		"created_at":  "1700000000",
		"expires_at":  "1700000015",
		"state":       "ACCEPTED",
		"winner":      driverID.String(),
	})
	mock.ExpectSMembers(recipientsKey(offerID.String())).SetVal([]string{driverID.String()})
	mock.ExpectZRem(offerExpiryZSetKey, offerID.String()).SetVal(1)
	mock.ExpectHSet(geo.PositionKey(driverID.String()), "is_available", "0").SetVal(1)

	offer, err := m.AcceptOffer(context.Background(), offerID, driverID)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, offer.State)
	require.NotNil(t, offer.Winner)
	assert.Equal(t, driverID, *offer.Winner)
}

func TestManager_AcceptOffer_LoserGetsConflict(t *testing.T) {
	m, mock := newTestManager(t)
	offerID := uuid.New()
	driverID := uuid.New()

	mock.Regexp().ExpectEvalSha(".*", []string{offerKey(offerID.String())}).SetVal(int64(0))

	_, err := m.AcceptOffer(context.Background(), offerID, driverID)
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeConflict, appErr.ErrorCode)
}

func TestManager_RejectOffer_RemovesRecipient(t *testing.T) {
	m, mock := newTestManager(t)
	offerID := uuid.New()
	driverID := uuid.New()

	mock.ExpectSRem(recipientsKey(offerID.String()), driverID.String()).SetVal(1)

	err := m.RejectOffer(context.Background(), offerID, driverID)
	assert.NoError(t, err)
}

func TestManager_CancelOffer_ForbidsNonOwningRider(t *testing.T) {
	m, mock := newTestManager(t)
	offerID := uuid.New()
	riderID := uuid.New()
	impostor := uuid.New()

	mock.ExpectHGetAll(offerKey(offerID.String())).SetVal(map[string]string{
		"rider_id":   riderID.String(),
		"state":      "OPEN",
		"created_at": "1700000000",
		"expires_at": "1700000015",
	})
	mock.ExpectSMembers(recipientsKey(offerID.String())).SetVal([]string{})

	err := m.CancelOffer(context.Background(), offerID, impostor)
	require.Error(t, err)
	appErr, ok := err.(*common.AppError)
	require.True(t, ok)
	assert.Equal(t, common.ErrCodeForbidden, appErr.ErrorCode)
}

func TestManager_CancelOffer_RiderCancelsOpenOffer(t *testing.T) {
	m, mock := newTestManager(t)
	offerID := uuid.New()
	riderID := uuid.New()

	mock.ExpectHGetAll(offerKey(offerID.String())).SetVal(map[string]string{
		"rider_id":   riderID.String(),
		"state":      "OPEN",
		"created_at": "1700000000",
		"expires_at": "1700000015",
	})
	mock.ExpectSMembers(recipientsKey(offerID.String())).SetVal([]string{})
	mock.Regexp().ExpectEvalSha(".*", []string{offerKey(offerID.String())}).SetVal(int64(1))
	mock.ExpectZRem(offerExpiryZSetKey, offerID.String()).SetVal(1)

	err := m.CancelOffer(context.Background(), offerID, riderID)
	assert.NoError(t, err)
}
