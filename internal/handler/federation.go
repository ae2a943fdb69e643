package handler

import (
	"context"
	"encoding/json"

	"github.com/composeforge/composeforge/internal/composeconst"
	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/settings"
	"github.com/composeforge/composeforge/internal/wire"
)

type addAgentRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AddAgent tests, persists and connects a remote composeforge instance.
func (h *Handlers) AddAgent(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	var req addAgentRequest
	if err := arg(msg.Args, 0, &req); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail("malformed request"))
		return
	}

	encKey, err := h.requireSetting(ctx, settings.PasswordEncryptionKey)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	mgr := h.agentManagerFor(sess, encKey)

	if err := mgr.Test(ctx, req.URL, req.Username, req.Password); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	if _, err := mgr.Add(ctx, req.URL, req.Username, req.Password); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	mgr.Connect(req.URL, req.Username, req.Password)
	mgr.SendAgentList(ctx)

	_ = c.Reply(msg.AckID, replyOK(map[string]any{"msg": "agentAddedSuccessfully", "msgi18n": true}))
}

// RemoveAgent disconnects and forgets a remote composeforge instance.
func (h *Handlers) RemoveAgent(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	url := argString(msg.Args, 0)

	encKey, err := h.requireSetting(ctx, settings.PasswordEncryptionKey)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	mgr := h.agentManagerFor(sess, encKey)

	if err := mgr.Remove(ctx, url); err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	_ = c.Reply(msg.AckID, replyOK(map[string]any{"msg": "agentRemovedSuccessfully", "msgi18n": true}))
}

// Agent proxies a stack/terminal event to a specific federation endpoint,
// every endpoint, or handles it locally, per spec.md §4.7. Args are
// [endpoint, eventName, ...eventArgs].
func (h *Handlers) Agent(ctx context.Context, sess *session.Session, msg wire.ClientMessage, c *wire.Conn) {
	if !requireArgs(msg.Args, 2) {
		_ = c.Reply(msg.AckID, wire.Fail("agent event must have at least endpoint and eventName"))
		return
	}
	endpoint := argString(msg.Args, 0)
	eventName := argString(msg.Args, 1)
	eventArgs := msg.Args[2:]

	encKey, err := h.requireSetting(ctx, settings.PasswordEncryptionKey)
	if err != nil {
		_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
		return
	}
	mgr := h.agentManagerFor(sess, encKey)

	switch {
	case endpoint == composeconst.AllEndpoints:
		payload, _ := h.dispatchLocalEvent(ctx, sess, eventName, eventArgs)
		_ = c.Reply(msg.AckID, payload)
		mgr.EmitToAll(eventName, rawArgsToAny(eventArgs))

	case endpoint == "" || endpoint == sess.Endpoint():
		payload, _ := h.dispatchLocalEvent(ctx, sess, eventName, eventArgs)
		_ = c.Reply(msg.AckID, payload)

	default:
		if err := mgr.EmitToEndpoint(endpoint, eventName, rawArgsToAny(eventArgs)); err != nil {
			_ = c.Reply(msg.AckID, wire.Fail(err.Error()))
			return
		}
		_ = c.Reply(msg.AckID, replyOK(nil))
	}
}

// dispatchLocalEvent tries the stack dispatch table first, then terminal,
// mirroring original_source's dispatch_local_event ordering.
func (h *Handlers) dispatchLocalEvent(ctx context.Context, sess *session.Session, event string, args []json.RawMessage) (json.RawMessage, bool) {
	if payload, ok := h.dispatchStackEvent(ctx, sess, event, args); ok {
		return payload, true
	}
	if payload, ok := h.dispatchTerminalEvent(ctx, sess, event, args); ok {
		return payload, true
	}
	return wire.Fail("unknown event: " + event), false
}

func rawArgsToAny(args []json.RawMessage) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = json.RawMessage(a)
	}
	return out
}
