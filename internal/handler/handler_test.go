package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/config"
	"github.com/composeforge/composeforge/internal/database"
	"github.com/composeforge/composeforge/internal/scheduler"
	"github.com/composeforge/composeforge/internal/service"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
	"github.com/composeforge/composeforge/internal/wire"
)

// testHandlers wires a full Handlers value against an in-memory database
// and a throwaway stacks directory, mirroring scheduler_test.go's
// database.Init(":memory:") pattern.
func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	db, err := database.Init(":memory:")
	if err != nil {
		t.Fatalf("database.Init: %v", err)
	}
	store := settings.New(db, nil)
	sessions := session.NewRegistry()
	terminals := terminal.NewRegistry(nil)
	engine := stack.NewEngine(terminals)
	totpSvc := service.NewTOTPService(db, store)
	limiters := auth.NewLimiters()
	cfg := &config.Config{StacksDir: t.TempDir(), EnableConsole: false}
	sched := scheduler.New(sessions, terminals, store, cfg.StacksDir, cfg.GlobalEnvPath(), nil)
	return New(db, store, sessions, terminals, engine, totpSvc, limiters, cfg, sched, nil)
}

// dialHandler upgrades a websocket connection routed through dispatch,
// returning a live *session.Session plus the client side for writing
// frames, following router_test.go's newWiredConn helper.
func dialHandler(t *testing.T, h *Handlers, dispatch func(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn)) (*session.Session, *websocket.Conn) {
	t.Helper()
	sessCh := make(chan *session.Session, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := wire.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := wire.NewConn(ws, nil)
		sess := session.New(c)
		h.sessions.Add(sess)
		sessCh <- sess

		ctx := context.Background()
		go func() { _ = c.WriteLoop(ctx) }()
		_ = c.ReadLoop(ctx, func(ctx context.Context, msg wire.ClientMessage, conn *wire.Conn) {
			dispatch(ctx, sess, msg, conn)
		})
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return <-sessCh, client
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func unmarshalPayload(payload json.RawMessage, v any) error {
	return json.Unmarshal(payload, v)
}

func sendAndAwaitReply(t *testing.T, client *websocket.Conn, event string, ackID uint64, args ...json.RawMessage) wire.ServerMessage {
	t.Helper()
	if err := client.WriteJSON(wire.ClientMessage{Event: event, Args: args, AckID: &ackID}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
	for {
		var reply wire.ServerMessage
		if err := client.ReadJSON(&reply); err != nil {
			t.Fatalf("read reply for %s: %v", event, err)
		}
		if reply.AckID != nil && *reply.AckID == ackID {
			return reply
		}
	}
}
