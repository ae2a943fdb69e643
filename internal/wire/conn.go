package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Handler processes one decoded client frame. Implementations call
// c.Reply to satisfy msg's ack slot, if any; msg.AckID is nil when the
// client didn't register one, in which case Reply is a no-op.
type Handler func(ctx context.Context, msg ClientMessage, c *Conn)

// Conn wraps a single upgraded websocket connection with a buffered write
// loop, ping/pong keepalive, and the ack-correlated reply/push helpers.
// Grounded on the read-loop/write-loop/send-channel split used for the
// JSON-RPC websocket transport in the retrieval pack, adapted to
// composeforge's named-event/ack framing instead of JSON-RPC envelopes.
type Conn struct {
	ws     *websocket.Conn
	sendCh chan []byte
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewConn wraps an already-upgraded websocket connection.
func NewConn(ws *websocket.Conn, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	ws.SetReadLimit(maxMessageSize)
	return &Conn{
		ws:     ws,
		sendCh: make(chan []byte, sendBufferSize),
		logger: logger,
	}
}

// ReadLoop decodes frames until the connection errors, the client closes
// it, or ctx is cancelled, dispatching each to handle. It always closes
// the connection before returning.
func (c *Conn) ReadLoop(ctx context.Context, handle Handler) error {
	defer c.Close()

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				return fmt.Errorf("read control channel: %w", err)
			}
			return nil
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("dropping unparseable control frame", "error", err)
			continue
		}
		handle(ctx, msg, c)
	}
}

// WriteLoop drains queued frames to the socket and sends periodic pings
// until ctx is cancelled or the connection is closed.
func (c *Conn) WriteLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case data, ok := <-c.sendCh:
			if !ok {
				return nil
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("write control channel: %w", err)
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("ping control channel: %w", err)
			}
		}
	}
}

// Reply sends a correlated ack for a client frame that carried an AckID.
// It is a no-op when ackID is nil, since a frame without one occupied no
// reply slot on the client's side.
func (c *Conn) Reply(ackID *uint64, payload json.RawMessage) error {
	if ackID == nil {
		return nil
	}
	frame, err := json.Marshal(ServerMessage{AckID: ackID, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return c.enqueue(frame)
}

// Push sends a server-initiated named event with no ack expected —
// terminalWrite, stackList, agentStatus, and the rest of the
// server-to-client broadcast events. Each arg is marshaled independently
// so callers can mix scalar and structured arguments freely.
func (c *Conn) Push(event string, args ...any) error {
	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal push arg for %s: %w", event, err)
		}
		rawArgs = append(rawArgs, raw)
	}
	frame, err := json.Marshal(ServerMessage{Event: event, Args: rawArgs})
	if err != nil {
		return fmt.Errorf("marshal push for %s: %w", event, err)
	}
	return c.enqueue(frame)
}

func (c *Conn) enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.sendCh <- frame:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Closed reports whether the connection has already been closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying socket and stops the write loop. Safe to
// call more than once and from multiple goroutines.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.sendCh)
	c.mu.Unlock()
	return c.ws.Close()
}
