package stack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/terminal"
)

// Engine wires Stack lifecycle verbs to the terminal fabric. Each verb
// spawns a fresh one-shot terminal named after the stack, optionally joins
// the requesting session so it sees live output, and blocks until the
// subprocess exits. Callers that want an immediate request/reply (per the
// wire contract's "spawns ... and returns immediately") should invoke
// these from their own goroutine and send the ok/err reply before the
// call returns.
type Engine struct {
	registry *terminal.Registry
}

// NewEngine wraps a terminal registry with stack lifecycle operations.
func NewEngine(registry *terminal.Registry) *Engine {
	return &Engine{registry: registry}
}

// execWaiter is a terminal.Subscriber used purely to learn a one-shot
// terminal's exit code; it never forwards snapshot/write/exit to any real
// transport.
type execWaiter struct {
	id   string
	done chan int
}

func newExecWaiter() *execWaiter {
	return &execWaiter{id: "exec-" + uuid.NewString(), done: make(chan int, 1)}
}

func (w *execWaiter) ID() string                    { return w.id }
func (w *execWaiter) SendSnapshot(buf []byte) error { return nil }
func (w *execWaiter) SendWrite(data []byte) error   { return nil }
func (w *execWaiter) SendExit(code int) error {
	select {
	case w.done <- code:
	default:
	}
	return nil
}
func (w *execWaiter) Disconnected() bool { return false }

// exec spawns a one-shot compose-verb terminal and waits for it to exit.
// If a terminal is already registered under name and still running, exec
// attaches to it instead of spawning a second subprocess — two identical
// requests for the same stack verb converge on one terminal. If the
// registered terminal has already drained, it is replaced immediately so
// the new verb isn't stuck waiting for the next cleanup tick to free the
// name. join, if non-nil, is joined to the terminal too so it receives the
// streamed output live (it is left to the caller to leave that subscriber
// afterwards — exec only manages its own internal waiter).
func (e *Engine) exec(ctx context.Context, name, program string, args []string, cwd string, join terminal.Subscriber) (int, error) {
	term, reused := e.registry.ReplaceDrained(name, terminal.OneShot)
	if !reused {
		if err := term.SetDimensions(composeconst.ProgressTerminalRows, composeconst.TerminalCols); err != nil {
			return -1, err
		}
	}

	waiter := newExecWaiter()
	term.Join(waiter)
	defer term.Leave(waiter.ID())
	if join != nil {
		term.Join(join)
	}

	if err := term.Start(program, args, cwd); err != nil {
		return -1, fmt.Errorf("spawn %s: %w", name, err)
	}

	select {
	case code := <-waiter.done:
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Deploy runs `up -d --remove-orphans`. Start is the same operation under
// a different name in the operations table.
func (e *Engine) Deploy(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	code, err := e.exec(ctx, name, "docker", s.composeOptions("up", "-d", "--remove-orphans"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to deploy, please check the terminal output for more information")
	}
	return code, nil
}

// Start is an alias for Deploy.
func (e *Engine) Start(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	return e.Deploy(ctx, s, join)
}

// Stop runs `stop`.
func (e *Engine) Stop(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	code, err := e.exec(ctx, name, "docker", s.composeOptions("stop"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to stop, please check the terminal output for more information")
	}
	return code, nil
}

// Restart runs `restart`.
func (e *Engine) Restart(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	code, err := e.exec(ctx, name, "docker", s.composeOptions("restart"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to restart, please check the terminal output for more information")
	}
	return code, nil
}

// Down runs `down`.
func (e *Engine) Down(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	code, err := e.exec(ctx, name, "docker", s.composeOptions("down"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to down, please check the terminal output for more information")
	}
	return code, nil
}

// Update runs `pull`, then — only if the stack's status before the update
// was Running — follows with `up -d --remove-orphans` to bring the
// refreshed images back up.
func (e *Engine) Update(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	priorStatus := s.Status

	code, err := e.exec(ctx, name, "docker", s.composeOptions("pull"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to pull, please check the terminal output for more information")
	}

	if priorStatus != composeconst.StatusRunning {
		return code, nil
	}

	code, err = e.exec(ctx, name, "docker", s.composeOptions("up", "-d", "--remove-orphans"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to restart, please check the terminal output for more information")
	}
	return code, nil
}

// Delete runs `down --remove-orphans` and, on success, recursively removes
// the stack's directory.
func (e *Engine) Delete(ctx context.Context, s *Stack, join terminal.Subscriber) (int, error) {
	name := terminal.ComposeName(s.Endpoint, s.Name)
	code, err := e.exec(ctx, name, "docker", s.composeOptions("down", "--remove-orphans"), s.Path(), join)
	if err != nil {
		return code, err
	}
	if code != 0 {
		return code, errors.New("failed to delete, please check the terminal output for more information")
	}

	if err := os.RemoveAll(s.Path()); err != nil {
		return code, fmt.Errorf("failed to remove stack directory: %w", err)
	}
	return code, nil
}

// UpdateStatus refreshes s.Status from the daemon-wide status list.
func (e *Engine) UpdateStatus(ctx context.Context, s *Stack) error {
	statusList, err := GetStatusList(ctx)
	if err != nil {
		return err
	}
	if status, ok := statusList[s.Name]; ok {
		s.Status = status
	} else {
		s.Status = composeconst.StatusUnknown
	}
	return nil
}

// ServiceStatusList runs `ps --format json` as a one-shot helper and
// parses its line-delimited JSON into a per-service status map. Port
// entries are filtered to published mappings (those containing "->").
func (e *Engine) ServiceStatusList(ctx context.Context, s *Stack) (map[string]ServiceStatus, error) {
	result := make(map[string]ServiceStatus)
	args := s.composeOptions("ps", "--format", "json")

	stdout, code, err := terminal.ExecOneShot(ctx, "docker", args, s.Path())
	if err != nil {
		return result, fmt.Errorf("run docker compose ps: %w", err)
	}
	if code != 0 {
		return result, nil
	}

	for _, line := range splitLines(string(stdout)) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var item composePsItem
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			continue
		}
		state := item.State
		if item.Health != "" {
			state = item.Health
		}
		result[item.Service] = ServiceStatus{State: state, Ports: filterPortMappings(item.Ports)}
	}

	return result, nil
}

func filterPortMappings(ports string) []string {
	var out []string
	for _, p := range strings.Split(ports, ", ") {
		if strings.Contains(p, "->") {
			out = append(out, p)
		}
	}
	return out
}

// JoinCombinedTerminal joins sub to the stack's `logs -f --tail 100`
// terminal, creating and starting it if necessary. The combined terminal
// is keep-alive: it survives being left by every subscriber so a later
// rejoin sees continuous tail output rather than restarting it.
func (e *Engine) JoinCombinedTerminal(s *Stack, sub terminal.Subscriber) ([]byte, error) {
	name := terminal.CombinedName(s.Endpoint, s.Name)
	term := e.registry.GetOrCreate(name, terminal.OneShot)
	term.EnableKeepAlive(true)
	if err := term.SetDimensions(composeconst.CombinedTerminalRows, composeconst.CombinedTerminalCols); err != nil {
		return nil, err
	}
	snapshot := term.Join(sub)
	if err := term.Start("docker", s.composeOptions("logs", "-f", "--tail", "100"), s.Path()); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// LeaveCombinedTerminal removes subscriberID from the stack's combined
// terminal, if it currently exists.
func (e *Engine) LeaveCombinedTerminal(s *Stack, subscriberID string) {
	name := terminal.CombinedName(s.Endpoint, s.Name)
	if term, ok := e.registry.Get(name); ok {
		term.Leave(subscriberID)
	}
}

// JoinContainerTerminal joins sub to an interactive
// `exec {service} {shell}` terminal, reusing one already registered under
// the same name (endpoint+stack+service+index) or creating a new one.
func (e *Engine) JoinContainerTerminal(s *Stack, sub terminal.Subscriber, serviceName, shell string, index int) ([]byte, error) {
	name := terminal.ContainerExecName(s.Endpoint, s.Name, serviceName, index)
	term, existed := e.registry.Get(name)
	if !existed {
		term = e.registry.GetOrCreate(name, terminal.Interactive)
		if err := term.SetDimensions(composeconst.TerminalRows, composeconst.TerminalCols); err != nil {
			return nil, err
		}
	}
	snapshot := term.Join(sub)
	if err := term.Start("docker", s.composeOptions("exec", serviceName, shell), s.Path()); err != nil {
		return nil, err
	}
	return snapshot, nil
}
