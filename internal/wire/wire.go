// Package wire implements the socket.io-compatible framing used by
// composeforge's bidirectional control channel: every client frame carries
// an event name, a positional argument vector, and an optional ack id;
// every reply to an acked frame is shaped {ok:true, ...data} or
// {ok:false, msg}; server-initiated pushes carry an event name and
// arguments with no ack id at all.
package wire

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufferSize = 256
)

// Upgrader is the shared websocket.Upgrader for the control channel.
// CheckOrigin accepts a request with no Origin header (non-browser
// clients); otherwise the Origin's host must match the request's own host.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return strings.HasSuffix(origin, "://"+r.Host)
	},
}

// ClientMessage is a single frame received from a client. AckID is present
// when the client registered a reply slot for this event; Args are left as
// raw JSON so each event handler decodes only the shape it expects.
type ClientMessage struct {
	Event string            `json:"event"`
	Args  []json.RawMessage `json:"args,omitempty"`
	AckID *uint64           `json:"ackId,omitempty"`
}

// ServerMessage is a single frame sent to a client: either a reply to an
// earlier ClientMessage (AckID and Payload set) or a server-initiated push
// (Event and Args set, no AckID).
type ServerMessage struct {
	Event   string            `json:"event,omitempty"`
	Args    []json.RawMessage `json:"args,omitempty"`
	AckID   *uint64           `json:"ackId,omitempty"`
	Payload json.RawMessage   `json:"payload,omitempty"`
}

// OK builds the reply payload shape for a successful ack: {ok:true,
// ...data}. data's own fields (it must marshal to a JSON object, or be
// nil) are merged alongside "ok" so handlers can pass a plain struct or
// map without embedding an OK bool themselves.
func OK(data any) (json.RawMessage, error) {
	fields := map[string]any{"ok": true}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal ok payload: %w", err)
		}
		var extra map[string]any
		if err := json.Unmarshal(raw, &extra); err != nil {
			return nil, fmt.Errorf("ok payload must marshal to a JSON object: %w", err)
		}
		for k, v := range extra {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// Fail builds the reply payload shape for a failed ack: {ok:false, msg}.
func Fail(msg string) json.RawMessage {
	raw, err := json.Marshal(map[string]any{"ok": false, "msg": msg})
	if err != nil {
		// map[string]any with only string/bool values never fails to marshal.
		panic(err)
	}
	return raw
}
