package geo

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/geocell"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPositionStore(t *testing.T) (*PositionStore, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	client := &dispatchredis.Client{Client: db}
	return NewPositionStore(client, 300*time.Second), mock
}

func TestPositionStore_Upsert_RunsScript(t *testing.T) {
	store, mock := newMockPositionStore(t)
	ctx := context.Background()

	driverID := uuid.New()
	userID := uuid.New()
	cell, err := geocell.CellOf(37.7749, -122.4194)
	require.NoError(t, err)

	mock.Regexp().ExpectEvalSha(".*", []string{PositionKey(driverID.String()), ActiveDirtyKey}).SetVal(int64(1))

	err = store.Upsert(ctx, driverID, userID, 37.7749, -122.4194, cell, true, true)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPositionStore_Get_Absent(t *testing.T) {
	store, mock := newMockPositionStore(t)
	ctx := context.Background()
	driverID := uuid.New()

	mock.ExpectHGetAll(PositionKey(driverID.String())).SetVal(map[string]string{})

	pos, err := store.Get(ctx, driverID)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestPositionStore_Get_Found(t *testing.T) {
	store, mock := newMockPositionStore(t)
	ctx := context.Background()
	driverID := uuid.New()
	userID := uuid.New()

	mock.ExpectHGetAll(PositionKey(driverID.String())).SetVal(map[string]string{
		"user_id":      userID.String(),
		"lat":          "37.7749",
		"lng":          "-122.4194",
		"cell":         "8928308280fffff",
		"last_seen_at": "1700000000",
		"is_online":    "1",
		"is_available": "1",
	})

	pos, err := store.Get(ctx, driverID)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, userID, pos.UserID)
	assert.True(t, pos.IsOnline)
	assert.True(t, pos.IsAvailable)
}

func TestPositionStore_SetConnection(t *testing.T) {
	store, mock := newMockPositionStore(t)
	ctx := context.Background()
	driverID := uuid.New()

	mock.Regexp().ExpectEvalSha(".*", []string{PositionKey(driverID.String())}).SetVal(int64(1))

	err := store.SetConnection(ctx, driverID, "conn-1")
	assert.NoError(t, err)
}

func TestPositionStore_ClearOnDisconnect(t *testing.T) {
	store, mock := newMockPositionStore(t)
	ctx := context.Background()
	driverID := uuid.New()

	mock.ExpectHDel(PositionKey(driverID.String()), "connection_handle").SetVal(1)

	err := store.ClearOnDisconnect(ctx, driverID)
	assert.NoError(t, err)
}

func TestPositionStore_MembersOfCells_Empty(t *testing.T) {
	store, _ := newMockPositionStore(t)
	ctx := context.Background()

	ids, err := store.MembersOfCells(ctx, nil)
	assert.NoError(t, err)
	assert.Nil(t, ids)
}
