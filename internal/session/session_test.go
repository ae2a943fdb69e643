package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/composeforge/composeforge/internal/wire"
)

func dialSession(t *testing.T) (*Session, func()) {
	t.Helper()
	var srvConn *wire.Conn
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := wire.Upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		srvConn = wire.NewConn(ws, nil)
		close(ready)
		ctx := context.Background()
		go func() { _ = srvConn.WriteLoop(ctx) }()
		_ = srvConn.ReadLoop(ctx, func(context.Context, wire.ClientMessage, *wire.Conn) {})
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientWS, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-ready

	s := New(srvConn)
	cleanup := func() {
		_ = clientWS.Close()
		srv.Close()
	}
	return s, cleanup
}

func TestSessionIDStableAcrossSubscribers(t *testing.T) {
	s, cleanup := dialSession(t)
	defer cleanup()

	subA := s.Subscriber("term-a")
	subB := s.Subscriber("term-b")

	if subA.ID() != s.ID() || subB.ID() != s.ID() {
		t.Fatalf("subscriber IDs must match the owning session ID")
	}
	if subA.ID() != subB.ID() {
		t.Fatalf("subscriber handles for the same session must share one ID")
	}
}

func TestSessionAuthenticate(t *testing.T) {
	s, cleanup := dialSession(t)
	defer cleanup()

	if s.IsAuthenticated() {
		t.Fatalf("new session must start unauthenticated")
	}
	s.Authenticate(42, "alice")
	if !s.IsAuthenticated() {
		t.Fatalf("expected authenticated after Authenticate")
	}
	if s.UserID() != 42 || s.Username() != "alice" {
		t.Fatalf("unexpected identity: userID=%d username=%s", s.UserID(), s.Username())
	}
}

func TestSessionSubscriptionTracking(t *testing.T) {
	s, cleanup := dialSession(t)
	defer cleanup()

	s.Subscriber("web")
	s.Subscriber("db")
	subs := s.Subscriptions()
	if len(subs) != 2 {
		t.Fatalf("expected 2 tracked subscriptions, got %d", len(subs))
	}

	s.UntrackSubscription("web")
	subs = s.Subscriptions()
	if len(subs) != 1 || subs[0] != "db" {
		t.Fatalf("expected only 'db' tracked after untracking 'web', got %v", subs)
	}
}

func TestSubscriberHandlePushesTerminalWrite(t *testing.T) {
	s, cleanup := dialSession(t)
	defer cleanup()

	sub := s.Subscriber("web")
	if err := sub.SendWrite([]byte("hello")); err != nil {
		t.Fatalf("SendWrite: %v", err)
	}
	if err := sub.SendExit(0); err != nil {
		t.Fatalf("SendExit: %v", err)
	}
}

func TestRegistryOthersForUserExcludesSelf(t *testing.T) {
	r := NewRegistry()
	s1, cleanup1 := dialSession(t)
	defer cleanup1()
	s2, cleanup2 := dialSession(t)
	defer cleanup2()

	s1.Authenticate(1, "alice")
	s2.Authenticate(1, "alice")
	r.Add(s1)
	r.Add(s2)
	r.MarkAuthenticated(s1)
	r.MarkAuthenticated(s2)

	others := r.OthersForUser(1, s1.ID())
	if len(others) != 1 || others[0].ID() != s2.ID() {
		t.Fatalf("expected exactly s2 as the other session, got %v", others)
	}
}

func TestRegistryRemoveClearsBothIndexes(t *testing.T) {
	r := NewRegistry()
	s, cleanup := dialSession(t)
	defer cleanup()

	s.Authenticate(7, "bob")
	r.Add(s)
	r.MarkAuthenticated(s)
	if r.Count() != 1 {
		t.Fatalf("expected 1 session registered")
	}

	r.Remove(s)
	if r.Count() != 0 {
		t.Fatalf("expected registry empty after Remove")
	}
	if others := r.OthersForUser(7, ""); len(others) != 0 {
		t.Fatalf("expected no sessions left for user 7, got %v", others)
	}
}

func TestRegistryAuthenticatedOnlyListsAuthenticated(t *testing.T) {
	r := NewRegistry()
	s1, cleanup1 := dialSession(t)
	defer cleanup1()
	s2, cleanup2 := dialSession(t)
	defer cleanup2()

	r.Add(s1)
	r.Add(s2)
	s2.Authenticate(3, "carol")
	r.MarkAuthenticated(s2)

	auth := r.Authenticated()
	if len(auth) != 1 || auth[0].ID() != s2.ID() {
		t.Fatalf("expected only s2 in Authenticated(), got %v", auth)
	}
}
