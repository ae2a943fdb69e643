// Package agent implements composeforge's federation manager (component
// K): one Manager per authenticated session, holding outbound connections
// to remote composeforge instances ("agents") so a single operator console
// can drive several hosts. Grounded on
// original_source/src/agent_manager.rs's AgentManager — reworked from a
// rust-socketio client onto composeforge's own wire protocol dialed with
// gorilla/websocket, and from a process-wide HashMap<socket_id, AgentManager>
// into a Manager value owned directly by internal/session.Session, per
// composeforge's "one set of runtime handles per session" rule.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/crypto"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/wire"
)

// Status is a federation peer's connection state.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
)

const (
	dialTimeout    = 10 * time.Second
	readyWindow    = 10 * time.Second
	readyPollEvery = 1 * time.Second
)

// Pusher delivers events back to the owning session's own client, for
// agentStatus pushes, the forwarded agentList and proxied "agent" frames.
// Satisfied by *wire.Conn; kept as an interface so tests don't need a real
// websocket.
type Pusher interface {
	Push(event string, args ...any) error
}

// peer is one live outbound connection to a remote composeforge instance.
type peer struct {
	conn     *websocket.Conn
	endpoint string

	mu       sync.Mutex
	loggedIn bool
}

// Manager owns a session's outbound federation connections. The zero value
// is not usable; construct with New.
type Manager struct {
	db        *gorm.DB
	encSecret string
	push      Pusher
	logger    *slog.Logger
	endpoint  string // this session's own endpoint, "" if not itself an agent

	mu           sync.RWMutex
	peers        map[string]*peer
	firstConnect time.Time
}

// New constructs a Manager for one session. push delivers agentStatus,
// agentList and proxied agent events back to that session's own
// connection; ownEndpoint is the endpoint header the session itself
// connected with (non-empty only when this session IS another instance's
// agent connection, in which case connectAll is a no-op per spec).
func New(db *gorm.DB, encryptionSecret string, push Pusher, ownEndpoint string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		db:           db,
		encSecret:    encryptionSecret,
		push:         push,
		logger:       logger,
		endpoint:     ownEndpoint,
		peers:        make(map[string]*peer),
		firstConnect: time.Now(),
	}
}

// endpointOf extracts "host[:port]" from a composeforge agent URL.
func endpointOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid agent url: %w", err)
	}
	if u.Host == "" {
		return "", errors.New("invalid agent url: no host")
	}
	return u.Host, nil
}

// Test dials url and attempts a login with username/password, returning an
// error if either fails. It always disconnects afterward; it never
// registers a live peer.
func (m *Manager) Test(ctx context.Context, rawURL, username, password string) error {
	endpoint, err := endpointOf(rawURL)
	if err != nil {
		return err
	}

	m.mu.RLock()
	_, exists := m.peers[endpoint]
	m.mu.RUnlock()
	if exists {
		return fmt.Errorf("agent %s is already connected", endpoint)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	conn, err := dial(ctx, rawURL, endpoint)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", endpoint, err)
	}
	defer conn.Close()

	if err := loginOnce(conn, username, password); err != nil {
		return err
	}
	return nil
}

// Add persists a new agent row, password encrypted at rest.
func (m *Manager) Add(ctx context.Context, rawURL, username, password string) (*model.Agent, error) {
	encrypted, err := crypto.Encrypt(password, m.encSecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt agent password: %w", err)
	}
	row := &model.Agent{URL: rawURL, Username: username, Password: encrypted, Active: true}
	if err := m.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return row, nil
}

// Remove disconnects from and deletes the agent at rawURL.
func (m *Manager) Remove(ctx context.Context, rawURL string) error {
	var row model.Agent
	if err := m.db.WithContext(ctx).Where("url = ?", rawURL).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("agent not found")
		}
		return fmt.Errorf("query agent: %w", err)
	}

	endpoint, err := endpointOf(rawURL)
	if err == nil {
		m.Disconnect(endpoint)
	}

	if err := m.db.WithContext(ctx).Delete(&model.Agent{}, row.ID).Error; err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	m.SendAgentList(ctx)
	return nil
}

// Connect dials a remote instance in the background and, once logged in,
// marks it online. It is idempotent: a second call while already
// connected to the same endpoint is a no-op.
func (m *Manager) Connect(rawURL, username, password string) {
	endpoint, err := endpointOf(rawURL)
	if err != nil {
		m.logger.Error("invalid agent url", "url", rawURL, "error", err)
		return
	}

	m.mu.RLock()
	_, exists := m.peers[endpoint]
	m.mu.RUnlock()
	if exists {
		return
	}

	m.emitStatus(endpoint, StatusConnecting, "")
	go m.connectBackground(rawURL, endpoint, username, password)
}

func (m *Manager) connectBackground(rawURL, endpoint, username, password string) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := dial(ctx, rawURL, endpoint)
	if err != nil {
		m.logger.Error("agent connect failed", "endpoint", endpoint, "error", err)
		m.emitStatus(endpoint, StatusOffline, "")
		return
	}

	p := &peer{conn: conn, endpoint: endpoint}
	m.mu.Lock()
	m.peers[endpoint] = p
	m.mu.Unlock()

	go m.readPeer(p)

	if err := loginOnce(conn, username, password); err != nil {
		m.logger.Warn("agent login failed", "endpoint", endpoint, "error", err)
		m.emitStatus(endpoint, StatusOffline, "")
		return
	}

	p.mu.Lock()
	p.loggedIn = true
	p.mu.Unlock()
	m.emitStatus(endpoint, StatusOnline, "")
}

// readPeer drains info/agent pushes from a connected peer until it closes,
// then tears it down. info carries the peer's version, gated at
// composeconst.MinAgentVersion; agent carries proxied federation replies
// forwarded back to this manager's own session.
func (m *Manager) readPeer(p *peer) {
	defer m.teardown(p.endpoint)

	for {
		var msg wire.ServerMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Event {
		case "info":
			m.handleInfo(p, msg.Args)
		case "agent":
			_ = m.push.Push("agent", rawArgs(msg.Args)...)
		}
	}
}

func (m *Manager) handleInfo(p *peer, args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	var info struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(args[0], &info); err != nil || info.Version == "" {
		return
	}

	older, err := versionLess(info.Version, composeconst.MinAgentVersion)
	if err != nil {
		m.logger.Warn("agent sent unparseable version", "endpoint", p.endpoint, "version", info.Version)
		return
	}
	if older {
		m.logger.Warn("agent version too old", "endpoint", p.endpoint, "version", info.Version)
		m.emitStatus(p.endpoint, StatusOffline, fmt.Sprintf("%s: unsupported version %s", p.endpoint, info.Version))
		_ = p.conn.Close()
	}
}

func (m *Manager) teardown(endpoint string) {
	m.mu.Lock()
	delete(m.peers, endpoint)
	m.mu.Unlock()
	m.emitStatus(endpoint, StatusOffline, "")
}

// Disconnect closes and forgets the connection to endpoint, if any.
func (m *Manager) Disconnect(endpoint string) {
	m.mu.Lock()
	p, ok := m.peers[endpoint]
	delete(m.peers, endpoint)
	m.mu.Unlock()
	if ok {
		_ = p.conn.Close()
	}
}

// DisconnectAll closes every peer connection, used when the owning session
// disconnects.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	peers := m.peers
	m.peers = make(map[string]*peer)
	m.mu.Unlock()
	for _, p := range peers {
		_ = p.conn.Close()
	}
}

// ConnectAll connects to every active agent row, unless this session is
// itself an agent connection (non-empty endpoint), matching
// agent_manager.rs's connect_all short-circuit.
func (m *Manager) ConnectAll(ctx context.Context) {
	m.mu.Lock()
	m.firstConnect = time.Now()
	m.mu.Unlock()

	if m.endpoint != "" {
		return
	}

	var rows []model.Agent
	if err := m.db.WithContext(ctx).Where("active = ?", true).Find(&rows).Error; err != nil {
		m.logger.Error("list agents for connectAll", "error", err)
		return
	}
	for _, row := range rows {
		password, err := crypto.Decrypt(row.Password, m.encSecret)
		if err != nil {
			m.logger.Error("decrypt agent password", "url", row.URL, "error", err)
			continue
		}
		m.Connect(row.URL, row.Username, password)
	}
}

// EmitToEndpoint proxies event/args to the peer at endpoint, retrying for
// up to readyWindow if the connection hasn't finished logging in yet.
func (m *Manager) EmitToEndpoint(endpoint, event string, args any) error {
	m.mu.RLock()
	p, ok := m.peers[endpoint]
	firstConnect := m.firstConnect
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no connection to endpoint %s", endpoint)
	}

	if !p.isLoggedIn() {
		elapsed := time.Since(firstConnect)
		if elapsed >= readyWindow {
			return fmt.Errorf("%s: not connected", endpoint)
		}
		deadline := time.Now().Add(readyWindow - elapsed)
		for time.Now().Before(deadline) {
			time.Sleep(readyPollEvery)
			if p.isLoggedIn() {
				break
			}
		}
		if !p.isLoggedIn() {
			return fmt.Errorf("%s: not connected after retries", endpoint)
		}
	}

	wrapped := []any{endpoint, event, args}
	return p.conn.WriteJSON(wire.ClientMessage{Event: "agent", Args: marshalAll(wrapped)})
}

// EmitToAll proxies event/args to every currently connected peer,
// collecting and logging (but not failing on) individual errors.
func (m *Manager) EmitToAll(event string, args any) {
	m.mu.RLock()
	endpoints := make([]string, 0, len(m.peers))
	for ep := range m.peers {
		endpoints = append(endpoints, ep)
	}
	m.mu.RUnlock()

	for _, ep := range endpoints {
		if err := m.EmitToEndpoint(ep, event, args); err != nil {
			m.logger.Warn("emit to endpoint failed", "endpoint", ep, "error", err)
		}
	}
}

// SendAgentList pushes the current agentList snapshot back to the owning
// session: "" (self) plus every persisted agent row, keyed by endpoint.
func (m *Manager) SendAgentList(ctx context.Context) {
	var rows []model.Agent
	if err := m.db.WithContext(ctx).Find(&rows).Error; err != nil {
		m.logger.Error("list agents", "error", err)
		return
	}

	list := map[string]any{
		"": map[string]any{"url": "", "username": "", "endpoint": ""},
	}
	for _, row := range rows {
		endpoint, err := endpointOf(row.URL)
		if err != nil {
			continue
		}
		list[endpoint] = map[string]any{
			"url":      row.URL,
			"username": row.Username,
			"endpoint": endpoint,
		}
	}

	_ = m.push.Push("agentList", map[string]any{"ok": true, "agentList": list})
}

func (m *Manager) emitStatus(endpoint string, status Status, msg string) {
	payload := map[string]any{"endpoint": endpoint, "status": status}
	if msg != "" {
		payload["msg"] = msg
	}
	_ = m.push.Push("agentStatus", payload)
}

func (p *peer) isLoggedIn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loggedIn
}

// dial opens a raw websocket to a composeforge instance's wire endpoint,
// tagging the opening request with the endpoint header so the remote side
// knows this connection is itself a federated agent rather than a browser
// client.
func dial(ctx context.Context, rawURL, endpoint string) (*websocket.Conn, error) {
	wsURL := toWebsocketURL(rawURL)
	header := map[string][]string{"X-Composeforge-Endpoint": {endpoint}}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	return conn, err
}

func toWebsocketURL(rawURL string) string {
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		return "wss://" + strings.TrimPrefix(rawURL, "https://") + "/socket"
	case strings.HasPrefix(rawURL, "http://"):
		return "ws://" + strings.TrimPrefix(rawURL, "http://") + "/socket"
	default:
		return rawURL
	}
}

// loginOnce sends a login request and waits for its ack, discarding any
// pushes the remote sends ahead of it, returning an error if the write,
// the read, or the remote login itself fails.
func loginOnce(conn *websocket.Conn, username, password string) error {
	ack := uint64(1)
	req := wire.ClientMessage{
		Event: "login",
		Args:  marshalAll([]any{map[string]any{"username": username, "password": password}}),
		AckID: &ack,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send login: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	var reply wire.ServerMessage
	for {
		reply = wire.ServerMessage{}
		if err := conn.ReadJSON(&reply); err != nil {
			return fmt.Errorf("read login reply: %w", err)
		}
		if reply.AckID != nil && *reply.AckID == ack {
			break
		}
	}
	_ = conn.SetReadDeadline(time.Time{})

	var parsed struct {
		OK  bool   `json:"ok"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(reply.Payload, &parsed); err != nil {
		return fmt.Errorf("parse login reply: %w", err)
	}
	if !parsed.OK {
		if parsed.Msg == "" {
			parsed.Msg = "login failed"
		}
		return errors.New(parsed.Msg)
	}
	return nil
}

func marshalAll(args []any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

// versionLess reports whether a < b for dotted "major.minor.patch"
// version strings, comparing numerically component by component. Missing
// trailing components compare as 0.
func versionLess(a, b string) (bool, error) {
	av, err := parseVersion(a)
	if err != nil {
		return false, err
	}
	bv, err := parseVersion(b)
	if err != nil {
		return false, err
	}
	for i := 0; i < 3; i++ {
		if av[i] != bv[i] {
			return av[i] < bv[i], nil
		}
	}
	return false, nil
}

func parseVersion(v string) ([3]int, error) {
	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n := 0
		for _, c := range parts[i] {
			if c < '0' || c > '9' {
				return out, fmt.Errorf("invalid version segment %q in %q", parts[i], v)
			}
			n = n*10 + int(c-'0')
		}
		out[i] = n
	}
	return out, nil
}

func rawArgs(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
