// Package session implements per-connection socket state (component H):
// identity, the endpoint this connection defaults its requests to, the set
// of terminal names it has joined, and a registry indexed by user id so
// disconnectOtherSocketClients can find a user's other live connections.
// Grounded on original_source/src/socket_handlers/helpers.rs's per-socket
// SocketState map, reworked from a global HashMap<socket_id, SocketState>
// into a struct owned by the connection itself plus a small Registry for
// the one cross-session lookup (by user id) the wire protocol needs.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/composeforge/composeforge/internal/terminal"
	"github.com/composeforge/composeforge/internal/wire"
)

// Session is one connected client's state. The zero value is not usable;
// construct with New.
type Session struct {
	id   string
	conn *wire.Conn

	mu            sync.RWMutex
	authenticated bool
	userID        uint
	username      string
	endpoint      string
	subscriptions map[string]struct{}
}

// New wraps an upgraded connection in a fresh, unauthenticated session.
func New(conn *wire.Conn) *Session {
	return &Session{
		id:            uuid.NewString(),
		conn:          conn,
		subscriptions: make(map[string]struct{}),
	}
}

// ID returns the session's stable identifier. It also serves as the
// terminal.Subscriber ID for every terminal this session joins, so
// terminal.Registry.RemoveSubscriberEverywhere(session.ID()) scrubs it
// from all of them in one call.
func (s *Session) ID() string { return s.id }

// Conn returns the underlying wire connection, for handlers that need to
// push server-initiated events (stackList, agentStatus, info, ...).
func (s *Session) Conn() *wire.Conn { return s.conn }

// Authenticate marks the session as belonging to userID/username.
func (s *Session) Authenticate(userID uint, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = true
	s.userID = userID
	s.username = username
}

// IsAuthenticated reports whether Authenticate has been called.
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// UserID returns the authenticated user's id, or 0 if unauthenticated.
func (s *Session) UserID() uint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Username returns the authenticated user's username, or "" if
// unauthenticated.
func (s *Session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

// Endpoint returns the endpoint tag this connection defaults its stack and
// terminal requests to (empty string for local).
func (s *Session) Endpoint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endpoint
}

// SetEndpoint records the endpoint tag supplied at connection time.
func (s *Session) SetEndpoint(endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = endpoint
}

// TrackSubscription records that this session has joined terminal name.
func (s *Session) TrackSubscription(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[name] = struct{}{}
}

// UntrackSubscription records that this session has left terminal name.
func (s *Session) UntrackSubscription(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, name)
}

// Subscriptions returns the terminal names this session currently has
// joined.
func (s *Session) Subscriptions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subscriptions))
	for name := range s.subscriptions {
		out = append(out, name)
	}
	return out
}

// Subscriber returns a terminal.Subscriber bound to a specific terminal
// name; each terminal join gets its own, but all share this session's ID
// so cleanup keys on one identity across every terminal the session has
// joined. Also records the subscription for bookkeeping.
func (s *Session) Subscriber(terminalName string) terminal.Subscriber {
	s.TrackSubscription(terminalName)
	return &subscriberHandle{session: s, terminalName: terminalName}
}

// Disconnected reports whether the underlying transport has closed.
func (s *Session) Disconnected() bool {
	return s.conn.Closed()
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// subscriberHandle adapts a Session to terminal.Subscriber for one
// specific terminal name; the terminal package invokes SendWrite/SendExit
// without a name argument, so each join gets its own closure over which
// terminal it belongs to.
type subscriberHandle struct {
	session      *Session
	terminalName string
}

func (h *subscriberHandle) ID() string { return h.session.ID() }

func (h *subscriberHandle) SendSnapshot(buf []byte) error {
	return h.session.conn.Push("terminalWrite", h.terminalName, string(buf))
}

func (h *subscriberHandle) SendWrite(data []byte) error {
	return h.session.conn.Push("terminalWrite", h.terminalName, string(data))
}

func (h *subscriberHandle) SendExit(code int) error {
	return h.session.conn.Push("terminalExit", h.terminalName, code)
}

func (h *subscriberHandle) Disconnected() bool {
	return h.session.Disconnected()
}
