package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/composeforge/composeforge/internal/database"
	"github.com/composeforge/composeforge/internal/model"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/terminal"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	db, err := database.Init(":memory:")
	if err != nil {
		t.Fatalf("database.Init: %v", err)
	}
	store := settings.New(db, nil)
	sessions := session.NewRegistry()
	terminals := terminal.NewRegistry(nil)
	return New(sessions, terminals, store, t.TempDir(), "", nil)
}

func TestPushStackListSkipsWhenNoAuthenticatedSessions(t *testing.T) {
	s := newTestScheduler(t)
	// Nothing registered; this must not panic or touch the filesystem in a
	// way that errors.
	s.pushStackList(context.Background())
}

func TestSweepSettingsCacheDelegates(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()
	if err := s.settingsStore.Set(ctx, settings.CheckUpdate, "true", model.SettingTypeBool); err != nil {
		t.Fatalf("seed setting: %v", err)
	}
	// Sweep must not error or panic even with nothing expired yet.
	s.sweepSettingsCache()
}

// TestVersionDocumentParsesServerResponse exercises the same decode step
// checkVersion performs against a real HTTP response, since checkVersion
// itself always targets the fixed composeconst.VersionCheckURL and isn't
// parameterized for a test server.
func TestVersionDocumentParsesServerResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": "9.9.9"})
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Body.Close()

	var doc versionDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Version != "9.9.9" {
		t.Fatalf("expected version 9.9.9, got %s", doc.Version)
	}

	s := newTestScheduler(t)
	if err := s.settingsStore.Set(context.Background(), settings.LatestVersion, doc.Version, model.SettingTypeString); err != nil {
		t.Fatalf("persist latest version: %v", err)
	}
	got, ok, err := s.settingsStore.Get(context.Background(), settings.LatestVersion)
	if err != nil || !ok || got != "9.9.9" {
		t.Fatalf("expected latestVersion=9.9.9, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestSchedulerStartRegistersAllFourTasks(t *testing.T) {
	s := newTestScheduler(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	entries := s.cron.Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 scheduled entries, got %d", len(entries))
	}
}
