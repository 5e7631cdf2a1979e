// Package ws implements the WebSocket broadcast adapter streaming pipeline
// events to connected clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/chainwright/chainwright/internal/domain/event"
)

// sendBuffer is the per-connection outbound queue. A client that cannot
// drain it loses events rather than stalling the pipeline.
const sendBuffer = 32

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn wraps a single WebSocket connection with its outbound queue.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts pipeline
// events to them.
type Hub struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	conns   map[*conn]struct{}
	dropped atomic.Int64
}

// NewHub creates a WebSocket hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		logger: log,
		conns:  make(map[*conn]struct{}),
	}
}

// HandleWS upgrades the request to a WebSocket connection and registers it
// with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: ws, send: make(chan []byte, sendBuffer), cancel: cancel}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("websocket connected", "remote", r.RemoteAddr)

	// Writer drains the outbound queue for this connection.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data := <-c.send:
				if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
					h.remove(c)
					return
				}
			}
		}
	}()

	// Reader detects disconnects and consumes pings.
	go func() {
		defer func() {
			h.remove(c)
			_ = ws.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Broadcast fans a pipeline event out to every connected client. The event
// type doubles as the message type, so clients can filter without parsing
// payloads. Queues that are full drop the event.
func (h *Hub) Broadcast(_ context.Context, ev event.PipelineEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("websocket marshal event failed", "type", ev.Type, "error", err)
		return
	}
	data, err := json.Marshal(Message{Type: string(ev.Type), Payload: payload})
	if err != nil {
		h.logger.Error("websocket marshal envelope failed", "type", ev.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// DroppedCount returns the number of events dropped on full client queues.
func (h *Hub) DroppedCount() int64 {
	return h.dropped.Load()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		h.logger.Info("websocket disconnected")
	}
}
