package registry

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/richxcame/dispatch-core/internal/geo"
	dispatchredis "github.com/richxcame/dispatch-core/pkg/redis"
	"github.com/richxcame/dispatch-core/pkg/websocket"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry(t *testing.T) (*Registry, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	client := &dispatchredis.Client{Client: db}
	positions := geo.NewPositionStore(client, 300*time.Second)
	hub := websocket.NewHub()
	return NewRegistry(hub, positions), mock
}

func TestRegistry_OnAttach_DriverSetsConnection(t *testing.T) {
	r, mock := newTestRegistry(t)
	driverID := uuid.New()

	mock.Regexp().ExpectEvalSha(".*", []string{geo.PositionKey(driverID.String())}).SetVal(int64(1))

	r.onAttach(&websocket.Client{ID: driverID.String(), Role: RoleDriver})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_OnAttach_RiderSkipsPositionStore(t *testing.T) {
	r, mock := newTestRegistry(t)

	r.onAttach(&websocket.Client{ID: uuid.New().String(), Role: RoleRider})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_OnDetach_DriverClearsConnectionOnly(t *testing.T) {
	r, mock := newTestRegistry(t)
	driverID := uuid.New()

	mock.ExpectHDel(geo.PositionKey(driverID.String()), "connection_handle").SetVal(1)

	r.onDetach(&websocket.Client{ID: driverID.String(), Role: RoleDriver})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_OnAttach_NonUUIDIdentityIgnored(t *testing.T) {
	r, mock := newTestRegistry(t)

	r.onAttach(&websocket.Client{ID: "not-a-uuid", Role: RoleDriver})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegistry_IsReachable_UnknownIdentity(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.False(t, r.IsReachable(uuid.New().String()))
}

func TestRegistry_ConnectedCount_Empty(t *testing.T) {
	r, _ := newTestRegistry(t)
	assert.Equal(t, 0, r.ConnectedCount())
}
