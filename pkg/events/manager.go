package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/parceltrace/parceltrace/pkg/models"
)

// SubscriptionAuthorizer decides whether a user may subscribe to one
// delivery's events. The delivery service implements this by evaluating
// ReadDelivery under the subscriber's own identity, so the contract
// remains the authority on involvement.
type SubscriptionAuthorizer interface {
	CanSubscribeDelivery(ctx context.Context, userID string, deliveryID string) error
}

// wsConn is the slice of *websocket.Conn the manager uses. Tests plug
// in fakes.
type wsConn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// ConnectionManager tracks WebSocket connections and their channel
// subscriptions, enforcing the per-user subscription ceiling.
type ConnectionManager struct {
	authorizer SubscriptionAuthorizer

	// Active connections: connection id → *Connection
	mu          sync.RWMutex
	connections map[string]*Connection

	// Channel subscriptions: channel → set of connection ids
	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	// Live subscription count per user id, across all connections.
	userSubs map[string]int

	maxSubsPerUser int
	writeTimeout   time.Duration
}

// Connection is one authenticated WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen
// on the goroutine that owns the connection (HandleConnection's read
// loop and its deferred cleanup).
type Connection struct {
	ID            string
	UserID        string
	Role          models.Role
	conn          wsConn
	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates a ConnectionManager.
func NewConnectionManager(authorizer SubscriptionAuthorizer, maxSubsPerUser int, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		authorizer:     authorizer,
		connections:    make(map[string]*Connection),
		channels:       make(map[string]map[string]bool),
		userSubs:       make(map[string]int),
		maxSubsPerUser: maxSubsPerUser,
		writeTimeout:   writeTimeout,
	}
}

// HandleConnection runs the lifecycle of one authenticated connection.
// Blocks until the connection closes; a client disconnect cancels the
// fan-out stream for this connection only.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn wsConn, userID string, role models.Role) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:            connID,
		UserID:        userID,
		Role:          role,
		conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":         TypeConnectionEstablished,
		"connectionId": connID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendError(c, CodeInvalidMessage, "malformed message")
			continue
		}
		m.handleClientMessage(ctx, c, &msg)
	}
}

// handleClientMessage dispatches one client message.
func (m *ConnectionManager) handleClientMessage(ctx context.Context, c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case ActionSubscribeDelivery:
		if msg.DeliveryID == "" {
			m.sendError(c, CodeInvalidMessage, "deliveryId is required")
			return
		}
		if m.authorizer != nil {
			if err := m.authorizer.CanSubscribeDelivery(ctx, c.UserID, msg.DeliveryID); err != nil {
				m.sendError(c, CodeNotAuthorized, "not authorized for this delivery")
				return
			}
		}
		m.subscribe(c, DeliveryChannel(msg.DeliveryID))

	case ActionSubscribeUser:
		if msg.UserID == "" {
			m.sendError(c, CodeInvalidMessage, "userId is required")
			return
		}
		// Only the user themselves — or an admin — may follow a user's
		// event stream.
		if msg.UserID != c.UserID && c.Role != models.RoleAdmin {
			m.sendError(c, CodeNotAuthorized, "not authorized for this user stream")
			return
		}
		m.subscribe(c, UserChannel(msg.UserID))

	case ActionUnsubscribe:
		switch {
		case msg.DeliveryID != "":
			m.unsubscribe(c, DeliveryChannel(msg.DeliveryID))
		case msg.UserID != "":
			m.unsubscribe(c, UserChannel(msg.UserID))
		default:
			m.sendError(c, CodeInvalidMessage, "deliveryId or userId is required")
		}

	case ActionPing:
		m.sendJSON(c, map[string]string{"type": TypePong})

	default:
		m.sendError(c, CodeInvalidMessage, "unknown action")
	}
}

// subscribe adds the connection to a channel, enforcing the per-user
// ceiling.
func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	if c.subscriptions[channel] {
		m.confirm(c, channel)
		return
	}

	m.channelMu.Lock()
	if m.userSubs[c.UserID] >= m.maxSubsPerUser {
		m.channelMu.Unlock()
		m.sendError(c, CodeSubscriptionLimit, "subscription limit reached")
		return
	}
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.userSubs[c.UserID]++
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
	m.confirm(c, channel)
}

// unsubscribe removes the connection from a channel.
func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	if !c.subscriptions[channel] {
		return
	}
	delete(c.subscriptions, channel)

	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	if m.userSubs[c.UserID] > 0 {
		m.userSubs[c.UserID]--
	}
	if m.userSubs[c.UserID] == 0 {
		delete(m.userSubs, c.UserID)
	}
	m.channelMu.Unlock()
}

// Broadcast sends a payload to every connection subscribed to the
// channel.
func (m *ConnectionManager) Broadcast(channel string, payload []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot connection pointers, then send without holding any lock
	// (each send may take up to writeTimeout).
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, payload); err != nil {
			slog.Warn("Failed to push event to WebSocket client",
				"connection_id", conn.ID, "channel", channel, "error", err)
		}
	}
}

// ActiveConnections returns the number of open connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// subscriberCount reports a channel's subscriber count (tests).
func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) confirm(c *Connection, channel string) {
	m.sendJSON(c, map[string]string{
		"type":    TypeSubscriptionConfirmed,
		"channel": channel,
	})
}

func (m *ConnectionManager) sendError(c *Connection, code, message string) {
	m.sendJSON(c, map[string]interface{}{
		"type":    TypeSystemError,
		"success": false,
		"code":    code,
		"message": message,
	})
}

func (m *ConnectionManager) sendJSON(c *Connection, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}
