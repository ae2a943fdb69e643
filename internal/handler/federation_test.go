package handler

import (
	"strings"
	"testing"

	"github.com/composeforge/composeforge/internal/router"
)

func TestAddAgentFailsForUnreachableURL(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{"addAgent": h.AddAgent}))

	reply := sendAndAwaitReply(t, client, "addAgent", 1, rawJSON(t, map[string]any{
		"url":      "http://127.0.0.1:1/",
		"username": "nobody",
		"password": "nothing",
	}))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected addAgent against an unreachable endpoint to fail, got %s", reply.Payload)
	}
}

func TestRemoveAgentFailsForUnknownURL(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{"removeAgent": h.RemoveAgent}))

	reply := sendAndAwaitReply(t, client, "removeAgent", 1, rawJSON(t, "http://nowhere.invalid/"))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected removeAgent for an agent that was never added to fail, got %s", reply.Payload)
	}
}

func TestAgentProxyRejectsTooFewArgs(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{"agent": h.Agent}))

	reply := sendAndAwaitReply(t, client, "agent", 1, rawJSON(t, "endpoint-only"))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected the agent proxy to reject a call missing eventName, got %s", reply.Payload)
	}
}

func TestAgentProxyDispatchesLocallyForOwnEndpoint(t *testing.T) {
	h := testHandlers(t)
	_, client := dialHandler(t, h, dispatchStandalone(h, map[string]router.Handler{
		"agent":     h.Agent,
		"needSetup": h.NeedSetup,
	}))

	// An empty endpoint means "this instance" per spec §4.7; dispatchLocalEvent
	// tries the stack table, then terminal, then falls through unknown —
	// needSetup belongs to neither, so the proxy's own fallback reply
	// confirms it reached dispatchLocalEvent rather than forwarding remotely.
	reply := sendAndAwaitReply(t, client, "agent", 1, rawJSON(t, ""), rawJSON(t, "needSetup"))
	if !strings.Contains(string(reply.Payload), `"ok":false`) {
		t.Fatalf("expected an event outside the stack/terminal tables to report unknown, got %s", reply.Payload)
	}
}
