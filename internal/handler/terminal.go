package handler

import (
	"context"
	"encoding/json"

	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
	"github.com/composeforge/composeforge/internal/wire"
)

// dispatchTerminalEvent handles every event in spec.md §6's Terminals
// bullet. Unlike stack events it carries no agent-wrapper qualifier, so
// register.go also wires each of these directly on the router; the agent
// proxy's local-dispatch path (federation.go) reuses this same function so
// a remote endpoint targeting itself still resolves terminal events.
func (h *Handlers) dispatchTerminalEvent(ctx context.Context, sess *session.Session, event string, args []json.RawMessage) (json.RawMessage, bool) {
	switch event {
	case "terminalInput":
		return h.terminalInput(args), true
	case "mainTerminal":
		return h.mainTerminal(sess), true
	case "checkMainTerminal":
		return h.checkMainTerminal(), true
	case "interactiveTerminal":
		return h.interactiveTerminal(ctx, sess, args), true
	case "terminalJoin":
		return h.terminalJoin(sess, args), true
	case "leaveCombinedTerminal":
		return h.leaveCombinedTerminal(ctx, sess, args), true
	case "terminalResize":
		return h.terminalResize(args), true
	default:
		return nil, false
	}
}

// TerminalInput, MainTerminal, CheckMainTerminal, InteractiveTerminal,
// TerminalJoin, LeaveCombinedTerminal, TerminalResize are the router.Handler
// entry points registered directly in register.go; each just forwards to
// dispatchTerminalEvent so the same logic serves both paths.
func (h *Handlers) TerminalInput(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) MainTerminal(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) CheckMainTerminal(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) InteractiveTerminal(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) TerminalJoin(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) LeaveCombinedTerminal(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	payload, _ := h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
	_ = c.Reply(msg.AckID, payload)
}

func (h *Handlers) TerminalResize(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	// original_source never acks terminalResize (no AckSender parameter);
	// composeforge keeps the same fire-and-forget shape.
	h.dispatchTerminalEvent(ctx, sess, msg.Event, msg.Args)
}

func (h *Handlers) terminalInput(args []json.RawMessage) json.RawMessage {
	if !requireArgs(args, 2) {
		return wire.Fail("terminalInput requires 2 arguments: terminalName, cmd")
	}
	name := argString(args, 0)
	cmd := argString(args, 1)

	term, ok := h.terminals.Get(name)
	if !ok {
		return wire.Fail("terminal not found or it is not an interactive terminal")
	}
	if term.Kind != terminal.Interactive && term.Kind != terminal.MainShell {
		return wire.Fail("not interactive")
	}
	if err := term.Write([]byte(cmd)); err != nil {
		return wire.Fail(err.Error())
	}
	return replyOK(nil)
}

func (h *Handlers) mainTerminal(sess *session.Session) json.RawMessage {
	if !h.cfg.EnableConsole {
		return wire.Fail("console is not enabled")
	}

	term, existed := h.terminals.Get(terminal.ConsoleName)
	if !existed {
		term = h.terminals.GetOrCreate(terminal.ConsoleName, terminal.MainShell)
		if err := term.SetDimensions(50, 105); err != nil {
			return wire.Fail(err.Error())
		}
		program, shellArgs := terminal.DefaultShell()
		if err := term.Start(program, shellArgs, h.cfg.StacksDir); err != nil {
			return wire.Fail(err.Error())
		}
	}

	term.Join(sess.Subscriber(terminal.ConsoleName))
	return replyOK(nil)
}

// checkMainTerminal reports console availability through ok: ok:true when
// the console is enabled, otherwise ok:false with a msg saying it is not.
func (h *Handlers) checkMainTerminal() json.RawMessage {
	if !h.cfg.EnableConsole {
		return wire.Fail("console is not enabled")
	}
	return replyOK(nil)
}

type interactiveTerminalRequest struct {
	StackName   string
	ServiceName string
	Shell       string
}

func (h *Handlers) interactiveTerminal(ctx context.Context, sess *session.Session, args []json.RawMessage) json.RawMessage {
	if !requireArgs(args, 3) {
		return wire.Fail("interactiveTerminal requires 3 arguments: stackName, serviceName, shell")
	}
	req := interactiveTerminalRequest{
		StackName:   argString(args, 0),
		ServiceName: argString(args, 1),
		Shell:       argString(args, 2),
	}

	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), req.StackName, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}

	shell := req.Shell
	if shell == "" {
		shell = "sh"
	}

	name := terminal.ContainerExecName(s.Endpoint, s.Name, req.ServiceName, 0)
	if _, err := h.engine.JoinContainerTerminal(s, sess.Subscriber(name), req.ServiceName, shell, 0); err != nil {
		return wire.Fail(err.Error())
	}
	return replyOK(nil)
}

func (h *Handlers) terminalJoin(sess *session.Session, args []json.RawMessage) json.RawMessage {
	name := argString(args, 0)

	var buffer string
	if term, ok := h.terminals.Get(name); ok {
		snapshot := term.Join(sess.Subscriber(name))
		buffer = string(snapshot)
	}
	return replyOK(map[string]any{"buffer": buffer})
}

func (h *Handlers) leaveCombinedTerminal(ctx context.Context, sess *session.Session, args []json.RawMessage) json.RawMessage {
	name := argString(args, 0)
	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), name, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}
	h.engine.LeaveCombinedTerminal(s, sess.ID())
	sess.UntrackSubscription(terminal.CombinedName(s.Endpoint, s.Name))
	return replyOK(nil)
}

func (h *Handlers) terminalResize(args []json.RawMessage) json.RawMessage {
	if !requireArgs(args, 3) {
		return wire.Fail("terminalResize requires 3 arguments: terminalName, rows, cols")
	}
	name := argString(args, 0)
	rows := argInt(args, 1)
	cols := argInt(args, 2)

	term, ok := h.terminals.Get(name)
	if !ok {
		return wire.Fail("terminal not found")
	}
	if err := term.SetDimensions(rows, cols); err != nil {
		return wire.Fail(err.Error())
	}
	return replyOK(nil)
}
