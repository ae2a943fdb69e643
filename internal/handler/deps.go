// Package handler implements every named wire event composeforge's control
// channel accepts (spec §6), wired against the shared component set built
// up in internal/{session,router,stack,terminal,agent,settings,auth,
// service,crypto}. Grounded on
// original_source/src/socket_handlers/{auth,settings,stack_management,
// terminal,agent}.rs for exact per-event argument shapes and reply
// contracts, reworked from Rust's per-socket closures into methods on a
// single Handlers value shared by every connection.
package handler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gorm.io/gorm"

	"github.com/composeforge/composeforge/internal/agent"
	"github.com/composeforge/composeforge/internal/auth"
	"github.com/composeforge/composeforge/internal/config"
	"github.com/composeforge/composeforge/internal/scheduler"
	"github.com/composeforge/composeforge/internal/service"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
)

// Handlers holds every dependency the wire event handlers need, plus the
// one piece of genuinely per-session runtime state a handler package must
// own itself: each session's federation manager (component K states one
// Manager per session, not one per process).
type Handlers struct {
	db        *gorm.DB
	settings  *settings.Store
	sessions  *session.Registry
	terminals *terminal.Registry
	engine    *stack.Engine
	totp      *service.TOTPService
	limiters  *auth.Limiters
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	mu     sync.Mutex
	agents map[string]*agent.Manager
}

// New constructs a Handlers value wired to the given shared components.
func New(
	db *gorm.DB,
	settingsStore *settings.Store,
	sessions *session.Registry,
	terminals *terminal.Registry,
	engine *stack.Engine,
	totp *service.TOTPService,
	limiters *auth.Limiters,
	cfg *config.Config,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		db:        db,
		settings:  settingsStore,
		sessions:  sessions,
		terminals: terminals,
		engine:    engine,
		totp:      totp,
		limiters:  limiters,
		cfg:       cfg,
		scheduler: sched,
		logger:    logger,
		agents:    make(map[string]*agent.Manager),
	}
}

// agentManagerFor returns sess's federation manager, constructing one on
// first use. encSecret is read fresh from settings each time a manager is
// created since it may not have existed yet at process boot in a very
// unusual restart-mid-setup race.
func (h *Handlers) agentManagerFor(sess *session.Session, encSecret string) *agent.Manager {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.agents[sess.ID()]; ok {
		return m
	}
	m := agent.New(h.db, encSecret, sess.Conn(), sess.Endpoint(), h.logger)
	h.agents[sess.ID()] = m
	return m
}

// DropSession tears down a disconnected session's federation manager and
// scrubs it from every terminal it had joined. Call from the connection's
// close path.
func (h *Handlers) DropSession(sess *session.Session) {
	h.mu.Lock()
	m, ok := h.agents[sess.ID()]
	delete(h.agents, sess.ID())
	h.mu.Unlock()

	if ok {
		m.DisconnectAll()
	}
	h.terminals.RemoveSubscriberEverywhere(sess.ID())
	h.sessions.Remove(sess)
}

// requireSetting loads a setting that must already exist (seeded at first
// boot by internal/database.Init), returning an error if it is somehow
// missing rather than silently treating it as empty.
func (h *Handlers) requireSetting(ctx context.Context, key string) (string, error) {
	v, ok, err := h.settings.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("required setting %s is missing", key)
	}
	return v, nil
}
