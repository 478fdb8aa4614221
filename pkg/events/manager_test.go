package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parceltrace/parceltrace/pkg/models"
)

// fakeConn scripts the client side of a WebSocket connection.
type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	out    [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16)}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, errors.New("connection closed")
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// frames decodes everything written to the connection so far.
func (f *fakeConn) frames(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, raw := range f.out {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeConn) send(t *testing.T, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- data
}

// hasFrame polls until a frame with the given type arrives.
func (f *fakeConn) hasFrame(t *testing.T, frameType string) map[string]interface{} {
	t.Helper()
	var found map[string]interface{}
	require.Eventually(t, func() bool {
		for _, fr := range f.frames(t) {
			if fr["type"] == frameType {
				found = fr
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected frame %q", frameType)
	return found
}

// allowAll authorizes every delivery subscription.
type allowAll struct{}

func (allowAll) CanSubscribeDelivery(context.Context, string, string) error { return nil }

// denyAll rejects every delivery subscription.
type denyAll struct{}

func (denyAll) CanSubscribeDelivery(context.Context, string, string) error {
	return errors.New("NOT_AUTHORIZED: not involved")
}

func startConn(t *testing.T, m *ConnectionManager, userID string, role models.Role) (*fakeConn, func()) {
	t.Helper()
	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.HandleConnection(context.Background(), conn, userID, role)
	}()
	conn.hasFrame(t, TypeConnectionEstablished)
	return conn, func() {
		close(conn.in)
		<-done
	}
}

func TestSubscribeDeliveryAndBroadcast(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-AAAAAAAA"})
	conn.hasFrame(t, TypeSubscriptionConfirmed)

	m.Broadcast(DeliveryChannel("DEL-20260101-AAAAAAAA"), []byte(`{"type":"delivery:statusChanged"}`))
	conn.hasFrame(t, "delivery:statusChanged")

	// Unrelated channels do not reach the connection.
	m.Broadcast(DeliveryChannel("DEL-20260101-BBBBBBBB"), []byte(`{"type":"delivery:created"}`))
	time.Sleep(20 * time.Millisecond)
	for _, fr := range conn.frames(t) {
		assert.NotEqual(t, "delivery:created", fr["type"])
	}
}

func TestSubscribeDeliveryDenied(t *testing.T) {
	m := NewConnectionManager(denyAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-AAAAAAAA"})
	fr := conn.hasFrame(t, TypeSystemError)
	assert.Equal(t, CodeNotAuthorized, fr["code"])
	assert.Equal(t, 0, m.subscriberCount(DeliveryChannel("DEL-20260101-AAAAAAAA")))
}

func TestSubscribeUserSelfOnly(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionSubscribeUser, UserID: "u2"})
	fr := conn.hasFrame(t, TypeSystemError)
	assert.Equal(t, CodeNotAuthorized, fr["code"])

	conn.send(t, ClientMessage{Action: ActionSubscribeUser, UserID: "u1"})
	conn.hasFrame(t, TypeSubscriptionConfirmed)
}

func TestAdminMayFollowAnyUser(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "admin-1", models.RoleAdmin)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionSubscribeUser, UserID: "u2"})
	conn.hasFrame(t, TypeSubscriptionConfirmed)
}

func TestSubscriptionCeiling(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 2, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	for i := 0; i < 2; i++ {
		conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: fmt.Sprintf("DEL-20260101-0000000%d", i)})
	}
	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-00000009"})

	fr := conn.hasFrame(t, TypeSystemError)
	assert.Equal(t, CodeSubscriptionLimit, fr["code"])
	assert.Equal(t, 0, m.subscriberCount(DeliveryChannel("DEL-20260101-00000009")))
}

func TestUnsubscribeFreesBudget(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 1, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-AAAAAAAA"})
	conn.hasFrame(t, TypeSubscriptionConfirmed)

	conn.send(t, ClientMessage{Action: ActionUnsubscribe, DeliveryID: "DEL-20260101-AAAAAAAA"})
	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-BBBBBBBB"})

	require.Eventually(t, func() bool {
		return m.subscriberCount(DeliveryChannel("DEL-20260101-BBBBBBBB")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.subscriberCount(DeliveryChannel("DEL-20260101-AAAAAAAA")))
}

func TestDisconnectCleansUp(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)

	conn.send(t, ClientMessage{Action: ActionSubscribeDelivery, DeliveryID: "DEL-20260101-AAAAAAAA"})
	conn.hasFrame(t, TypeSubscriptionConfirmed)
	require.Equal(t, 1, m.ActiveConnections())

	stop()

	assert.Equal(t, 0, m.ActiveConnections())
	assert.Equal(t, 0, m.subscriberCount(DeliveryChannel("DEL-20260101-AAAAAAAA")))
	conn.mu.Lock()
	defer conn.mu.Unlock()
	assert.True(t, conn.closed)
}

func TestPing(t *testing.T) {
	m := NewConnectionManager(allowAll{}, 8, time.Second)
	conn, stop := startConn(t, m, "u1", models.RoleCustomer)
	defer stop()

	conn.send(t, ClientMessage{Action: ActionPing})
	conn.hasFrame(t, TypePong)
}
