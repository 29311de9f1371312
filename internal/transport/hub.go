// ABOUTME: In-memory connection hub fanning event envelopes out to channel subscribers
// ABOUTME: Sends never block the publisher; slow consumers drop, counted and logged

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/netra-systems/zenbridge/internal/bridge"
	"github.com/netra-systems/zenbridge/internal/events"
)

const (
	// defaultBufferSize is the outbound queue per connection (64 envelopes).
	defaultBufferSize = 64
)

// ErrHubClosed is returned for operations on a closed hub
var ErrHubClosed = errors.New("transport hub closed")

// Hub owns the live client connections and routes envelopes to the
// connections subscribed to a channel. One hub per process; the write pumps
// in the WebSocket layer drain each connection's queue.
type Hub struct {
	mu       sync.RWMutex
	closed   bool
	conns    map[string]*Conn            // connID -> conn
	users    map[string]map[string]*Conn // userID -> connID -> conn
	channels map[string]map[string]*Conn // channelID -> connID -> conn

	bufferSize int
	logger     *slog.Logger
	dropped    atomic.Int64
}

// NewHub creates a hub. bufferSize <= 0 uses the default; pass nil logger
// for the process default.
func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:      make(map[string]*Conn),
		users:      make(map[string]map[string]*Conn),
		channels:   make(map[string]map[string]*Conn),
		bufferSize: bufferSize,
		logger:     logger.With("component", "transport"),
	}
}

// Conn is one client connection's view of the hub: an identifier and a
// buffered outbound queue. The transport layer (or a test) drains Out.
type Conn struct {
	id     string
	userID string
	out    chan []byte

	closeOnce sync.Once
}

// ID returns the connection identifier assigned at attach.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated user this connection belongs to.
func (c *Conn) UserID() string { return c.userID }

// Out is the connection's outbound queue. It is closed when the connection
// detaches.
func (c *Conn) Out() <-chan []byte { return c.out }

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.out) })
}

// Attach registers a connection for a user and returns it. The connection is
// automatically detached when ctx is cancelled.
func (h *Hub) Attach(ctx context.Context, userID string) (*Conn, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	conn := &Conn{
		id:     uuid.New().String(),
		userID: userID,
		out:    make(chan []byte, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.conns[conn.id] = conn
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[string]*Conn)
	}
	h.users[userID][conn.id] = conn
	h.mu.Unlock()

	h.logger.Debug("connection attached", "conn_id", conn.id, "user_id", userID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Detach(conn.id)
	}()

	return conn, nil
}

// Detach removes a connection from the hub, all its channel subscriptions,
// and closes its outbound queue.
func (h *Hub) Detach(connID string) {
	h.mu.Lock()
	conn, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, connID)

	if userConns, ok := h.users[conn.userID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(h.users, conn.userID)
		}
	}
	for channelID, subs := range h.channels {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.channels, channelID)
		}
	}
	h.mu.Unlock()

	conn.close()
	h.logger.Debug("connection detached", "conn_id", connID, "user_id", conn.userID)
}

// Subscribe adds a connection to a channel's delivery set.
func (h *Hub) Subscribe(connID, channelID string) error {
	if channelID == "" {
		return errors.New("channel id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	conn, ok := h.conns[connID]
	if !ok {
		return fmt.Errorf("unknown connection %q", connID)
	}
	if _, ok := h.channels[channelID]; !ok {
		h.channels[channelID] = make(map[string]*Conn)
	}
	h.channels[channelID][connID] = conn

	h.logger.Debug("subscribed", "conn_id", connID, "channel_id", channelID)
	return nil
}

// Unsubscribe removes a connection from a channel's delivery set.
func (h *Hub) Unsubscribe(connID, channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.channels[channelID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.channels, channelID)
	}
}

// Deliver fans an envelope out to every connection subscribed to the channel.
// A channel with no subscribers is a successful no-op: clients come and go,
// and an empty room is not a transport fault. Queues that are full drop the
// envelope for that connection only.
func (h *Hub) Deliver(ctx context.Context, channelID string, env *events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrHubClosed
	}
	subs := h.channels[channelID]
	// Copy targets under read lock to avoid holding it during sends
	targets := make([]*Conn, 0, len(subs))
	for _, conn := range subs {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		h.send(conn, channelID, payload)
	}
	return nil
}

func (h *Hub) send(conn *Conn, channelID string, payload []byte) {
	select {
	case conn.out <- payload:
	default:
		h.dropped.Add(1)
		h.logger.Debug("dropped envelope for slow connection",
			"conn_id", conn.id, "channel_id", channelID)
	}
}

// IsReachable reports whether the hub accepts deliveries.
func (h *Hub) IsReachable() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return !h.closed
}

// Dropped returns how many envelopes were dropped for slow connections.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// ConnectionCount returns the number of attached connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// SubscriberCount returns the number of connections subscribed to a channel.
func (h *Hub) SubscriberCount(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channelID])
}

// ScopedHandle returns a delivery handle restricted to one user's
// connections, or to a single connection when connectionID is non-empty.
func (h *Hub) ScopedHandle(userID, connectionID string) (bridge.TransportHandle, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	return &scopedHandle{hub: h, userID: userID, connectionID: connectionID}, nil
}

// Close detaches every connection and rejects further deliveries.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[string]*Conn)
	h.users = make(map[string]map[string]*Conn)
	h.channels = make(map[string]map[string]*Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
	h.logger.Debug("hub closed")
}
