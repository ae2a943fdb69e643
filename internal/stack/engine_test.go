package stack

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/composeforge/composeforge/internal/terminal"
)

type fakeSubscriber struct {
	id string
}

func newFakeSubscriber(id string) *fakeSubscriber           { return &fakeSubscriber{id: id} }
func (f *fakeSubscriber) ID() string                        { return f.id }
func (f *fakeSubscriber) SendSnapshot(buf []byte) error     { return nil }
func (f *fakeSubscriber) SendWrite(data []byte) error       { return nil }
func (f *fakeSubscriber) SendExit(code int) error           { return nil }
func (f *fakeSubscriber) Disconnected() bool                { return false }

func TestExecReturnsExitCode(t *testing.T) {
	e := NewEngine(terminal.NewRegistry(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := e.exec(ctx, "exec-test-ok", "sh", []string{"-c", "exit 0"}, ".", nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if code != 0 {
		t.Fatalf("code = %d, want 0", code)
	}
}

func TestExecReturnsNonZeroExitCode(t *testing.T) {
	e := NewEngine(terminal.NewRegistry(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	code, err := e.exec(ctx, "exec-test-fail", "sh", []string{"-c", "exit 7"}, ".", nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if code != 7 {
		t.Fatalf("code = %d, want 7", code)
	}
}

func TestExecAttachesToInFlightOperationUnderSameName(t *testing.T) {
	registry := terminal.NewRegistry(nil)
	e := NewEngine(registry)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "exec-test-attach"
	firstDone := make(chan int, 1)
	go func() {
		code, err := e.exec(ctx, name, "sh", []string{"-c", "sleep 0.3; exit 5"}, ".", nil)
		if err != nil {
			t.Errorf("first exec: %v", err)
		}
		firstDone <- code
	}()

	time.Sleep(100 * time.Millisecond)

	// A second call for the same name should attach to the still-running
	// terminal rather than spawn a second subprocess, so it observes the
	// same exit code the first command produces.
	secondCode, err := e.exec(ctx, name, "sh", []string{"-c", "exit 0"}, ".", nil)
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if secondCode != 5 {
		t.Fatalf("second exec code = %d, want 5 (attached to first command's exit)", secondCode)
	}
	if firstCode := <-firstDone; firstCode != 5 {
		t.Fatalf("first exec code = %d, want 5", firstCode)
	}
	if registry.Len() != 1 {
		t.Fatalf("registry.Len() = %d, want 1 (no duplicate terminal spawned)", registry.Len())
	}
}

func TestExecReplacesDrainedTerminalUnderSameName(t *testing.T) {
	registry := terminal.NewRegistry(nil)
	e := NewEngine(registry)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	name := "exec-test-replace"
	if code, err := e.exec(ctx, name, "sh", []string{"-c", "exit 3"}, ".", nil); err != nil || code != 3 {
		t.Fatalf("first exec: code=%d err=%v", code, err)
	}

	// The first command has already drained. A new verb issued under the
	// same name must not hang waiting for the terminal to be reachable
	// again — it should get a fresh terminal and actually run.
	code, err := e.exec(ctx, name, "sh", []string{"-c", "exit 9"}, ".", nil)
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if code != 9 {
		t.Fatalf("second exec code = %d, want 9 (fresh terminal ran the new command)", code)
	}
}

func TestFilterPortMappingsKeepsOnlyPublished(t *testing.T) {
	ports := "0.0.0.0:8080->80/tcp, 443/tcp"
	got := filterPortMappings(ports)
	if len(got) != 1 || got[0] != "0.0.0.0:8080->80/tcp" {
		t.Fatalf("filterPortMappings(%q) = %v", ports, got)
	}
}

func TestFilterPortMappingsEmptyWhenNonePublished(t *testing.T) {
	got := filterPortMappings("80/tcp")
	if len(got) != 0 {
		t.Fatalf("expected no published ports, got %v", got)
	}
}

func TestJoinCombinedTerminalIsKeepAlive(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available in PATH")
	}
	dir := t.TempDir()
	s := New(dir, "", "web", "")
	registry := terminal.NewRegistry(nil)
	e := NewEngine(registry)

	sub := newFakeSubscriber("s1")
	if _, err := e.JoinCombinedTerminal(s, sub); err != nil {
		t.Fatalf("JoinCombinedTerminal: %v", err)
	}

	name := terminal.CombinedName(s.Endpoint, s.Name)
	term, ok := registry.Get(name)
	if !ok {
		t.Fatal("expected the combined terminal to be registered")
	}
	if term.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", term.SubscriberCount())
	}

	e.LeaveCombinedTerminal(s, sub.ID())
	if term.SubscriberCount() != 0 {
		t.Fatalf("SubscriberCount after leave = %d, want 0", term.SubscriberCount())
	}

	registry.CleanupTick()
	registry.CleanupTick()
	if _, ok := registry.Get(name); !ok {
		t.Fatal("expected the keep-alive combined terminal to survive cleanup ticks with no subscribers")
	}
}
