// Package terminal implements the PTY terminal fabric: a named registry of
// pseudo-terminal-backed subprocesses, each with a bounded replay buffer and
// a set of subscribers that receive live output plus scrollback on join.
package terminal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/creack/pty"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/ringbuffer"
)

// Kind distinguishes the three terminal flavours.
type Kind int

const (
	// OneShot terminals accept no input; used for docker compose verbs.
	OneShot Kind = iota
	// Interactive terminals accept writes from a single session; used for
	// docker compose exec.
	Interactive
	// MainShell is like Interactive but spawns the operator's login shell.
	MainShell
)

var errNotInteractive = errors.New("not interactive")

// Subscriber is anything that can receive terminal output and be asked
// whether its transport is still alive. Implemented by the socket session
// layer; kept minimal so the terminal package has no transport dependency.
type Subscriber interface {
	ID() string
	SendSnapshot(buf []byte) error
	SendWrite(data []byte) error
	SendExit(code int) error
	Disconnected() bool
}

// Terminal is one subprocess behind a PTY, its replay buffer and its
// current subscriber set.
type Terminal struct {
	Name string
	Kind Kind

	mu           sync.Mutex
	rows, cols   int
	buffer       *ringbuffer.Buffer
	subscribers  map[string]Subscriber
	ptmx         *os.File
	cmd          *exec.Cmd
	started      bool
	drained      bool
	drainedTicks int
	exitCode     int
	lastActivity time.Time
	keepAlive    bool

	logger *slog.Logger
}

// New constructs a Terminal of the given kind and registry name. It is not
// started until Start is called.
func New(name string, kind Kind, logger *slog.Logger) *Terminal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Terminal{
		Name:         name,
		Kind:         kind,
		rows:         composeconst.TerminalRows,
		cols:         composeconst.TerminalCols,
		buffer:       ringbuffer.New(ringbuffer.DefaultCapacity, nil),
		subscribers:  make(map[string]Subscriber),
		lastActivity: time.Now(),
		logger:       logger,
	}
}

// EnableKeepAlive marks the terminal as exempt from the "drained with zero
// subscribers" reclamation rule while the flag is set (used for the
// combined log-tail terminal, which should persist across rejoins).
func (t *Terminal) EnableKeepAlive(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keepAlive = v
}

// SetDimensions sets the PTY's rows/cols. If the subprocess is already
// running, resizes it live.
func (t *Terminal) SetDimensions(rows, cols int) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("terminal dimensions must be positive, got rows=%d cols=%d", rows, cols)
	}
	t.mu.Lock()
	t.rows, t.cols = rows, cols
	ptmx := t.ptmx
	t.mu.Unlock()

	if ptmx != nil {
		return pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	}
	return nil
}

// Start spawns the subprocess under a PTY of the terminal's current
// dimensions. Calling Start on an already-started terminal is a no-op —
// callers that want to reuse an existing terminal should check
// registry.GetOrCreate's return instead of calling Start twice.
func (t *Terminal) Start(program string, args []string, cwd string) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	rows, cols := t.rows, t.cols
	t.mu.Unlock()

	cmd := exec.Command(program, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		return fmt.Errorf("spawn terminal %s: %w", t.Name, err)
	}

	t.mu.Lock()
	t.ptmx = ptmx
	t.cmd = cmd
	t.mu.Unlock()

	go t.readLoop(ptmx)
	go t.waitLoop(cmd, ptmx)

	return nil
}

func (t *Terminal) readLoop(ptmx *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			t.broadcastOutput(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug("terminal read error", "terminal", t.Name, "error", err)
			}
			return
		}
	}
}

func (t *Terminal) waitLoop(cmd *exec.Cmd, ptmx *os.File) {
	err := cmd.Wait()
	ptmx.Close()

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}

	t.mu.Lock()
	t.exitCode = code
	t.drained = true
	t.drainedTicks = 0
	subs := t.snapshotSubscribersLocked()
	t.mu.Unlock()

	for _, s := range subs {
		if err := s.SendExit(code); err != nil {
			t.logger.Debug("failed to deliver terminal-exit", "terminal", t.Name, "subscriber", s.ID(), "error", err)
		}
	}
}

// broadcastOutput pushes a chunk into the replay buffer and then fans it
// out to every current subscriber. The buffer write happens first so a
// subscriber joining concurrently either gets the chunk in its snapshot or
// as a live write, never both and never neither.
func (t *Terminal) broadcastOutput(chunk []byte) {
	t.mu.Lock()
	t.buffer.Push(chunk)
	t.lastActivity = time.Now()
	subs := t.snapshotSubscribersLocked()
	t.mu.Unlock()

	for _, s := range subs {
		if err := s.SendWrite(chunk); err != nil {
			t.logger.Debug("failed to deliver terminal-write", "terminal", t.Name, "subscriber", s.ID(), "error", err)
		}
	}
}

func (t *Terminal) snapshotSubscribersLocked() []Subscriber {
	out := make([]Subscriber, 0, len(t.subscribers))
	for _, s := range t.subscribers {
		out = append(out, s)
	}
	return out
}

// Join adds a subscriber and returns the buffer snapshot it should receive
// before any subsequent live write.
func (t *Terminal) Join(sub Subscriber) []byte {
	t.mu.Lock()
	t.subscribers[sub.ID()] = sub
	snapshot := t.buffer.Concat()
	t.mu.Unlock()
	return snapshot
}

// Leave removes a subscriber.
func (t *Terminal) Leave(subID string) {
	t.mu.Lock()
	delete(t.subscribers, subID)
	t.mu.Unlock()
}

// Write sends bytes to the subprocess's stdin (via the PTY). Rejected for
// OneShot terminals, which accept no input.
func (t *Terminal) Write(data []byte) error {
	t.mu.Lock()
	if t.Kind == OneShot {
		t.mu.Unlock()
		return errNotInteractive
	}
	ptmx := t.ptmx
	t.mu.Unlock()

	if ptmx == nil {
		return fmt.Errorf("terminal %s has no running process", t.Name)
	}
	_, err := ptmx.Write(data)
	return err
}

// Close sends an interrupt (Ctrl-C) to the subprocess.
func (t *Terminal) Close() error {
	t.mu.Lock()
	ptmx := t.ptmx
	t.mu.Unlock()
	if ptmx == nil {
		return nil
	}
	_, err := ptmx.Write([]byte{0x03})
	return err
}

// PruneDisconnected removes subscribers whose transport reports
// disconnected. Returns the number removed.
func (t *Terminal) PruneDisconnected() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, s := range t.subscribers {
		if s.Disconnected() {
			delete(t.subscribers, id)
			removed++
		}
	}
	return removed
}

// RemoveSubscriber removes a single subscriber by ID, used when a session
// disconnects and must be scrubbed from every terminal it had joined.
func (t *Terminal) RemoveSubscriber(id string) {
	t.Leave(id)
}

// SubscriberCount reports the current number of subscribers.
func (t *Terminal) SubscriberCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Reclaimable reports whether the cleanup tick may remove this terminal:
// it has exited (drained), has no subscribers, is not keep-alive, and has
// held that state for at least one full tick already.
func (t *Terminal) reclaimable() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.drained || t.keepAlive || len(t.subscribers) != 0 {
		t.drainedTicks = 0
		return false
	}
	t.drainedTicks++
	return t.drainedTicks > 1
}

// ExitCode returns the subprocess's exit code and whether it has exited.
func (t *Terminal) ExitCode() (code int, exited bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode, t.drained
}

// DefaultShell returns the operator login shell for MainShell terminals:
// bash on POSIX, PowerShell (falling back to powershell.exe) on Windows.
func DefaultShell() (program string, args []string) {
	if runtime.GOOS == "windows" {
		if p, err := exec.LookPath("pwsh.exe"); err == nil {
			return p, nil
		}
		return "powershell.exe", nil
	}
	return "bash", nil
}
