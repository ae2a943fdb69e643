package handler

import (
	"context"
	"encoding/json"

	"github.com/composeforge/composeforge/internal/session"
	"github.com/composeforge/composeforge/internal/stack"
	"github.com/composeforge/composeforge/internal/terminal"
	"github.com/composeforge/composeforge/internal/wire"
)

// dispatchStackEvent handles every event in spec.md §6's "Stacks (via the
// agent routing wrapper)" bullet. It is never registered directly on the
// router — reachable only from the agent proxy's local-dispatch path (see
// federation.go), mirroring original_source's dispatch_stack_event.
func (h *Handlers) dispatchStackEvent(ctx context.Context, sess *session.Session, event string, args []json.RawMessage) (json.RawMessage, bool) {
	switch event {
	case "deployStack":
		return h.deployOrSaveStack(ctx, sess, args, true), true
	case "saveStack":
		return h.deployOrSaveStack(ctx, sess, args, false), true
	case "deleteStack":
		return h.deleteStack(ctx, sess, args), true
	case "getStack":
		return h.getStack(ctx, sess, args), true
	case "requestStackList":
		return h.requestStackList(ctx, sess), true
	case "startStack":
		return h.runLifecycle(ctx, sess, args, "Started", h.engine.Start, true), true
	case "stopStack":
		return h.runLifecycle(ctx, sess, args, "Stopped", h.engine.Stop, false), true
	case "restartStack":
		return h.runLifecycle(ctx, sess, args, "Restarted", h.engine.Restart, false), true
	case "updateStack":
		return h.runLifecycle(ctx, sess, args, "Updated", h.engine.Update, false), true
	case "downStack":
		return h.runLifecycle(ctx, sess, args, "Downed", h.engine.Down, false), true
	case "serviceStatusList":
		return h.serviceStatusList(ctx, sess, args), true
	case "getDockerNetworkList":
		return h.getDockerNetworkList(ctx), true
	default:
		return nil, false
	}
}

type deployStackRequest struct {
	Name        string `json:"name"`
	ComposeYAML string `json:"composeYAML"`
	ComposeENV  string `json:"composeENV"`
	IsAdd       bool   `json:"isAdd"`
}

func (h *Handlers) deployOrSaveStack(ctx context.Context, sess *session.Session, args []json.RawMessage, deploy bool) json.RawMessage {
	var req deployStackRequest
	if err := arg(args, 0, &req); err != nil {
		return wire.Fail("malformed request")
	}

	s := stack.NewWithContent(h.cfg.StacksDir, h.cfg.GlobalEnvPath(), req.Name, sess.Endpoint(), req.ComposeYAML, req.ComposeENV)
	if err := s.Save(req.IsAdd); err != nil {
		return wire.Fail(err.Error())
	}

	if !deploy {
		return replyOK(map[string]any{"msg": "Saved", "msgi18n": true})
	}

	join := sess.Subscriber(terminal.ComposeName(s.Endpoint, s.Name))
	go func() {
		_, _ = h.engine.Deploy(context.Background(), s, join)
	}()
	return replyOK(map[string]any{"msg": "Deployed", "msgi18n": true})
}

func (h *Handlers) deleteStack(ctx context.Context, sess *session.Session, args []json.RawMessage) json.RawMessage {
	name := argString(args, 0)
	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), name, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}

	join := sess.Subscriber(terminal.ComposeName(s.Endpoint, s.Name))
	go func() {
		_, _ = h.engine.Delete(context.Background(), s, join)
	}()
	return replyOK(map[string]any{"msg": "Deleted", "msgi18n": true})
}

func (h *Handlers) getStack(ctx context.Context, sess *session.Session, args []json.RawMessage) json.RawMessage {
	name := argString(args, 0)
	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), name, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}

	if s.IsManaged() {
		if _, err := h.engine.JoinCombinedTerminal(s, sess.Subscriber(terminal.CombinedName(s.Endpoint, s.Name))); err != nil {
			h.logger.Warn("join combined terminal on getStack", "stack", name, "error", err)
		}
	}

	full, err := s.ToJSON()
	if err != nil {
		return wire.Fail(err.Error())
	}
	return replyOK(map[string]any{"stack": full})
}

func (h *Handlers) requestStackList(ctx context.Context, sess *session.Session) json.RawMessage {
	list, err := stack.GetStackList(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}
	_ = sess.Conn().Push("stackList", map[string]any{"ok": true, "stackList": simplifyStackList(list)})
	return replyOK(map[string]any{"msg": "Updated", "msgi18n": true})
}

// lifecycleFunc is the shape shared by Engine.Start/Stop/Restart/Update/Down.
type lifecycleFunc func(ctx context.Context, s *stack.Stack, join terminal.Subscriber) (int, error)

// runLifecycle looks up the named stack, spawns verb in the background
// joined to the stack's compose-verb terminal, and acks immediately — the
// wire contract's "spawns ... and returns immediately" (spec §5/§7). The
// verb's own terminalWrite/terminalExit events are tagged with
// terminal.ComposeName, matching spec.md §8 scenario 2 verbatim.
// joinCombined controls whether the caller is also attached, under its own
// subscriber, to the combined-log terminal (startStack resumes following
// logs; the others only need their own exec output).
func (h *Handlers) runLifecycle(ctx context.Context, sess *session.Session, args []json.RawMessage, successMsg string, verb lifecycleFunc, joinCombined bool) json.RawMessage {
	name := argString(args, 0)
	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), name, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}

	composeJoin := sess.Subscriber(terminal.ComposeName(s.Endpoint, s.Name))
	go func() {
		_, _ = verb(context.Background(), s, composeJoin)
	}()
	if joinCombined {
		combinedJoin := sess.Subscriber(terminal.CombinedName(s.Endpoint, s.Name))
		if _, err := h.engine.JoinCombinedTerminal(s, combinedJoin); err != nil {
			h.logger.Warn("join combined terminal on lifecycle verb", "stack", name, "error", err)
		}
	}
	return replyOK(map[string]any{"msg": successMsg, "msgi18n": true})
}

func (h *Handlers) serviceStatusList(ctx context.Context, sess *session.Session, args []json.RawMessage) json.RawMessage {
	name := argString(args, 0)
	s, err := stack.GetStack(ctx, h.cfg.StacksDir, h.cfg.GlobalEnvPath(), name, sess.Endpoint())
	if err != nil {
		return wire.Fail(err.Error())
	}
	statusList, err := h.engine.ServiceStatusList(ctx, s)
	if err != nil {
		return wire.Fail(err.Error())
	}
	return replyOK(map[string]any{"serviceStatusList": statusList})
}

func (h *Handlers) getDockerNetworkList(ctx context.Context) json.RawMessage {
	stdout, code, err := terminal.ExecOneShot(ctx, "docker", []string{"network", "ls", "--format", "{{.Name}}"}, "")
	if err != nil || code != 0 {
		return wire.Fail("failed to get docker network list")
	}
	var networks []string
	for _, line := range splitNonEmptyLines(string(stdout)) {
		networks = append(networks, line)
	}
	return replyOK(map[string]any{"dockerNetworkList": networks})
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

func simplifyStackList(list map[string]*stack.Stack) map[string]stack.SimpleJSON {
	out := make(map[string]stack.SimpleJSON, len(list))
	for name, s := range list {
		out[name] = s.ToSimpleJSON()
	}
	return out
}
