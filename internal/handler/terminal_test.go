package handler

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/composeforge/composeforge/internal/router"
	"github.com/composeforge/composeforge/internal/terminal"
)

func TestCheckMainTerminalReflectsConfig(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{
		"checkMainTerminal": h.CheckMainTerminal,
	}))

	reply := sendAndAwaitReply(t, client, "checkMainTerminal", 1)
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected checkMainTerminal to fail when the console is disabled, got %s", reply.Payload)
	}

	h.cfg.EnableConsole = true
	reply = sendAndAwaitReply(t, client, "checkMainTerminal", 2)
	if !strings.Contains(string(reply.Payload), `"ok":true`) {
		t.Fatalf("expected checkMainTerminal to succeed once the console is enabled, got %s", reply.Payload)
	}
}

func TestTerminalInputRejectsUnknownTerminal(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{
		"terminalInput": h.TerminalInput,
	}))

	reply := sendAndAwaitReply(t, client, "terminalInput", 1, rawJSON(t, "no-such-terminal"), rawJSON(t, "echo hi\n"))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected terminalInput against an unknown terminal to fail, got %s", reply.Payload)
	}
}

func TestTerminalInputRejectsOneShotTerminal(t *testing.T) {
	h := testHandlers(t)
	h.terminals.GetOrCreate("one-shot-term", terminal.OneShot)

	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{
		"terminalInput": h.TerminalInput,
	}))

	reply := sendAndAwaitReply(t, client, "terminalInput", 1, rawJSON(t, "one-shot-term"), rawJSON(t, "echo hi\n"))
	if !strings.Contains(string(reply.Payload), `"not interactive"`) {
		t.Fatalf("expected terminalInput against a one-shot terminal to report not interactive, got %s", reply.Payload)
	}
}

func TestTerminalJoinReturnsEmptyBufferForUnknownTerminal(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{
		"terminalJoin": h.TerminalJoin,
	}))

	reply := sendAndAwaitReply(t, client, "terminalJoin", 1, rawJSON(t, "no-such-terminal"))
	if !strings.Contains(string(reply.Payload), `"ok":true`) {
		t.Fatalf("expected terminalJoin on a missing terminal to still ack ok, got %s", reply.Payload)
	}
	if !strings.Contains(string(reply.Payload), `"buffer":""`) {
		t.Fatalf("expected an empty buffer for a missing terminal, got %s", reply.Payload)
	}
}

func TestTerminalResizeRejectsUnknownTerminal(t *testing.T) {
	h := testHandlers(t)

	payload := h.terminalResize([]json.RawMessage{
		rawJSON(t, "no-such-terminal"), rawJSON(t, 10), rawJSON(t, 80),
	})
	if !strings.Contains(string(payload), `"ok":false`) {
		t.Fatalf("expected terminalResize against an unknown terminal to fail, got %s", payload)
	}
}
