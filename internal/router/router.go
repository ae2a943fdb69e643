// Package router dispatches decoded wire frames to named event handlers
// (component I). Grounded on the teacher's plugin.EventBus — a
// mutex-guarded map keyed by event name with panic-recovered dispatch —
// narrowed from EventBus's fan-out-to-many-subscribers model to
// one-handler-per-event-name, since every composeforge wire event has
// exactly one owner and (usually) an ack reply to fill.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/wire"
)

// Handler processes one decoded event for a specific session. It replies
// via c.Reply itself (using wire.OK/wire.Fail to shape the payload); the
// router does not touch acks on its behalf, since some handlers (progress
// events, fire-and-forget pushes) have nothing useful to ack.
type Handler func(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn)

// entry pairs a handler with whether the router must reject it for an
// unauthenticated session before ever invoking it.
type entry struct {
	handler      Handler
	requiresAuth bool
}

// Router maps event names to handlers. The zero value is not usable;
// construct with New.
type Router struct {
	mu      sync.RWMutex
	entries map[string]entry
	logger  *slog.Logger
}

// New constructs an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		entries: make(map[string]entry),
		logger:  logger,
	}
}

// Handle registers handler for event, requiring the session to already be
// authenticated before it runs.
func (r *Router) Handle(event string, handler Handler) {
	r.register(event, handler, true)
}

// HandlePublic registers handler for event without the authentication
// gate — used for setup, login, loginByToken and needSetup, the only
// events the wire protocol accepts before a session has logged in.
func (r *Router) HandlePublic(event string, handler Handler) {
	r.register(event, handler, false)
}

func (r *Router) register(event string, handler Handler, requiresAuth bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[event] = entry{handler: handler, requiresAuth: requiresAuth}
}

// Dispatch looks up msg.Event and invokes its handler, recovering from any
// panic so one misbehaving handler can never take down the connection's
// read loop. Unknown events and auth-gated events hit by an
// unauthenticated session reply with a Fail ack and are otherwise ignored.
func (r *Router) Dispatch(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	r.mu.RLock()
	e, ok := r.entries[msg.Event]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("dispatch: unknown event", "event", msg.Event)
		_ = c.Reply(msg.AckID, wire.Fail("unknown event: "+msg.Event))
		return
	}

	if e.requiresAuth && !sess.IsAuthenticated() {
		_ = c.Reply(msg.AckID, wire.Fail("not logged in"))
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("handler panicked", "event", msg.Event, "panic", rec)
			_ = c.Reply(msg.AckID, wire.Fail("internal error"))
		}
	}()
	e.handler(ctx, sess, msg, c)
}
