package terminal

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"sync"
)

// Registry is the process-wide name -> terminal map. Names are unique; a
// second GetOrCreate with a name already present returns the existing
// terminal and ignores the requested kind.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*Terminal
	logger *slog.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Terminal),
		logger: logger,
	}
}

// Get returns the terminal registered under name, if any.
func (r *Registry) Get(name string) (*Terminal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byName[name]
	return t, ok
}

// GetOrCreate returns the existing terminal for name, or constructs one of
// the given kind via New and registers it. New is only invoked when no
// terminal exists for name yet.
func (r *Registry) GetOrCreate(name string, kind Kind) *Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.byName[name]; ok {
		return t
	}
	t := New(name, kind, r.logger)
	r.byName[name] = t
	return t
}

// ReplaceDrained returns the terminal registered for name if it has not
// yet exited — callers should attach to it rather than spawn a second
// subprocess, matching the invariant that a second get_or_create for an
// in-flight name returns the existing terminal. If the registered entry
// has already exited, it is evicted immediately and a fresh terminal of
// the given kind takes its place, so a new operation issued under the
// same name (e.g. running `stop` after an earlier `deploy` drained)
// doesn't have to wait for the next cleanup tick to get a live terminal.
func (r *Registry) ReplaceDrained(name string, kind Kind) (t *Terminal, reused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		if _, exited := existing.ExitCode(); !exited {
			return existing, true
		}
		delete(r.byName, name)
	}

	t = New(name, kind, r.logger)
	r.byName[name] = t
	return t, false
}

// remove drops a terminal from the registry. Only the cleanup tick may
// call this, per the registry's concurrency contract.
func (r *Registry) remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// snapshot returns every currently registered terminal.
func (r *Registry) snapshot() []*Terminal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Terminal, 0, len(r.byName))
	for _, t := range r.byName {
		out = append(out, t)
	}
	return out
}

// CleanupTick runs one pass of the registry-wide maintenance cycle: prune
// disconnected subscribers from every terminal, then reclaim any terminal
// that has been drained with zero subscribers for one full prior tick. A
// running subprocess is never killed here — only exit plus empty
// subscribers triggers reclamation.
func (r *Registry) CleanupTick() {
	for _, t := range r.snapshot() {
		pruned := t.PruneDisconnected()
		if pruned > 0 {
			r.logger.Debug("pruned disconnected subscribers", "terminal", t.Name, "count", pruned)
		}
		if t.reclaimable() {
			r.remove(t.Name)
			r.logger.Debug("reclaimed drained terminal", "terminal", t.Name)
		}
	}
}

// RemoveSubscriberEverywhere scrubs a subscriber ID from every registered
// terminal, used when a session disconnects.
func (r *Registry) RemoveSubscriberEverywhere(subscriberID string) {
	for _, t := range r.snapshot() {
		t.RemoveSubscriber(subscriberID)
	}
}

// ExecOneShot runs program directly as a plain subprocess (no PTY and no
// registry entry), collects combined output into an internal buffer, and
// returns the exit code once the subprocess exits. Used internally for `docker compose ls`
// and `docker compose ps`, whose output is consumed synchronously rather
// than streamed to a subscriber.
func ExecOneShot(ctx context.Context, program string, args []string, cwd string) (stdout []byte, exitCode int, err error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = cwd

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	if runErr == nil {
		return buf.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}
	return buf.Bytes(), -1, runErr
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// Len reports how many terminals are currently registered, for tests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
