package operator

import (
	"context"
	"sync"

	"goagent.dev/mobileagent/telemetry"
)

// Hub manages connected operator clients and fans out broadcast frames to
// all of them. Unlike a multi-tenant workflow server, one
// controller instance runs at most one goal at a time, so there
// is no per-goal subscription topology to index: every connected peer
// receives every broadcast frame.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Envelope

	logger telemetry.Logger

	sinkMu sync.RWMutex
	sink   func(*Envelope)
}

// NewHub constructs a Hub. Call Run in its own goroutine before accepting
// connections.
func NewHub(logger telemetry.Logger) *Hub {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Envelope, 256),
		logger:     logger,
	}
}

// Run is the hub's event loop; it must run in its own goroutine for the
// lifetime of the process.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug(ctx, "operator client registered", "client_id", c.id, "total", len(h.clients))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug(ctx, "operator client unregistered", "client_id", c.id)
		case env := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- env:
				default:
					h.logger.Warn(ctx, "operator client buffer full, dropping frame", "client_id", c.id, "type", env.Type)
				}
			}
			h.mu.RUnlock()
			h.sinkMu.RLock()
			sink := h.sink
			h.sinkMu.RUnlock()
			if sink != nil {
				sink(env)
			}
		}
	}
}

// Broadcast enqueues env for delivery to every connected client.
func (h *Hub) Broadcast(env *Envelope) {
	h.broadcast <- env
}

// SetSink registers an additional out-of-process forwarding function invoked
// for every broadcast frame, alongside the in-process websocket fan-out
// (e.g. operator/stream.Publisher.Publish, for Pulse/Redis-backed
// observability consumers). A nil fn disables it.
func (h *Hub) SetSink(fn func(*Envelope)) {
	h.sinkMu.Lock()
	defer h.sinkMu.Unlock()
	h.sink = fn
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// publish is a small helper shared by the typed Publish* methods below: it
// builds an envelope and broadcasts it, swallowing marshal errors into a
// log line since a malformed outgoing frame must never block the control
// loop that triggered it.
func (h *Hub) publish(typ string, payload any) {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		h.logger.Error(context.Background(), "operator: failed to marshal outgoing frame", "type", typ, "error", err)
		return
	}
	h.Broadcast(env)
}

// PublishStatus broadcasts a state transition; a peer sees a run end as a
// transition into stopped.
func (h *Hub) PublishStatus(p StatusPayload) { h.publish(MsgStatus, p) }

// PublishProgress broadcasts a per-step progress frame.
func (h *Hub) PublishProgress(p ProgressPayload) { h.publish(MsgProgress, p) }

// PublishScreen broadcasts a bounded screen rendering.
func (h *Hub) PublishScreen(p ScreenPayload) { h.publish(MsgScreen, p) }

// PublishPlan broadcasts the current flattened task tree.
func (h *Hub) PublishPlan(p PlanPayload) { h.publish(MsgPlan, p) }

// PublishThinking broadcasts the model's reasoning text for the current step.
func (h *Hub) PublishThinking(p ThinkingPayload) { h.publish(MsgThinking, p) }

// PublishResult broadcasts a goal run's terminal outcome.
func (h *Hub) PublishResult(p ResultPayload) { h.publish(MsgResult, p) }

// PublishError broadcasts an out-of-band diagnostic error frame.
func (h *Hub) PublishError(p ErrorPayload) { h.publish(MsgError, p) }

// PublishLog broadcasts a free-form diagnostic log line.
func (h *Hub) PublishLog(p LogPayload) { h.publish(MsgLog, p) }
