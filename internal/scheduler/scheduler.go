// Package scheduler runs composeforge's four independent periodic
// broadcast tasks (component J, spec §4.8): a stack-list push, a
// version-check poll, a settings-cache sweep, and a terminal-registry
// cleanup tick. Grounded on the teacher's choice of
// github.com/robfig/cron/v3 for periodic work (carried indirect in its
// go.mod for scheduling elsewhere in that codebase) — one cron entry per
// task instead of four hand-rolled time.Ticker loops, each independently
// scheduled so a slow tick delays but never skews another task's period.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
)

const versionFetchTimeout = 4 * time.Second

// Scheduler owns the cron runner and the shared state its four tasks read
// from and write to.
type Scheduler struct {
	cron *cron.Cron

	sessions      *session.Registry
	terminals     *terminal.Registry
	settingsStore *settings.Store
	httpClient    *http.Client
	logger        *slog.Logger

	stacksDir     string
	globalEnvPath string
}

// New constructs a Scheduler wired to the shared registries/stores but
// does not start it; call Start.
func New(sessions *session.Registry, terminals *terminal.Registry, settingsStore *settings.Store, stacksDir, globalEnvPath string, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:          cron.New(),
		sessions:      sessions,
		terminals:     terminals,
		settingsStore: settingsStore,
		httpClient:    &http.Client{Timeout: versionFetchTimeout},
		logger:        logger,
		stacksDir:     stacksDir,
		globalEnvPath: globalEnvPath,
	}
}

// Start registers the four periodic entries and starts the cron runner in
// its own goroutine. ctx's cancellation does not stop the runner directly
// — callers should call Stop from the same shutdown path that cancels ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every 10s", func() { s.pushStackList(ctx) }); err != nil {
		return fmt.Errorf("schedule stack-list push: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 48h", func() { s.checkVersion(ctx) }); err != nil {
		return fmt.Errorf("schedule version check: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 60s", func() { s.sweepSettingsCache() }); err != nil {
		return fmt.Errorf("schedule settings sweep: %w", err)
	}
	if _, err := s.cron.AddFunc("@every 60s", func() { s.terminals.CleanupTick() }); err != nil {
		return fmt.Errorf("schedule terminal cleanup: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight task to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// pushStackList computes the local stack list and pushes it to every
// authenticated session, matching spec's "push stackList to every
// authenticated session (only)".
func (s *Scheduler) pushStackList(ctx context.Context) {
	sessions := s.sessions.Authenticated()
	if len(sessions) == 0 {
		return
	}

	list, err := stack.GetStackList(ctx, s.stacksDir, s.globalEnvPath, "")
	if err != nil {
		s.logger.Warn("scheduler: stack list push failed", "error", err)
		return
	}
	simple := make(map[string]stack.SimpleJSON, len(list))
	for name, st := range list {
		simple[name] = st.ToSimpleJSON()
	}

	for _, sess := range sessions {
		if err := sess.Conn().Push("stackList", map[string]any{"ok": true, "stackList": simple}); err != nil {
			s.logger.Debug("scheduler: stack list push to session failed", "session", sess.ID(), "error", err)
		}
	}
}

type versionDocument struct {
	Version string `json:"version"`
}

// checkVersion fetches the latest-version document with a short timeout,
// persists it to settings, and pushes it to every authenticated session
// inside the normal info payload. A failed fetch is logged and ignored,
// per spec's transient-failure-is-silent error policy.
func (s *Scheduler) checkVersion(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, versionFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, composeconst.VersionCheckURL, nil)
	if err != nil {
		s.logger.Warn("scheduler: build version check request", "error", err)
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug("scheduler: version check failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Debug("scheduler: version check non-200", "status", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		s.logger.Debug("scheduler: read version check body", "error", err)
		return
	}

	var doc versionDocument
	if err := json.Unmarshal(body, &doc); err != nil || doc.Version == "" {
		s.logger.Debug("scheduler: parse version check body", "error", err)
		return
	}

	if err := s.settingsStore.Set(ctx, settings.LatestVersion, doc.Version, model.SettingTypeString); err != nil {
		s.logger.Warn("scheduler: persist latest version", "error", err)
		return
	}

	for _, sess := range s.sessions.Authenticated() {
		_ = sess.Conn().Push("info", map[string]any{
			"version":       composeconst.Version,
			"latestVersion": doc.Version,
		})
	}
}

// sweepSettingsCache evicts expired entries from the in-process settings
// cache tier.
func (s *Scheduler) sweepSettingsCache() {
	s.settingsStore.Sweep()
}
