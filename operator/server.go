package operator

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"goagent.dev/mobileagent/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades HTTP requests to operator-protocol websocket
// connections and registers each resulting Client with a Hub.
type Handler struct {
	hub    *Hub
	ctrl   Controller
	logger telemetry.Logger
}

// NewHandler constructs a Handler serving connections against ctrl.
func NewHandler(hub *Hub, ctrl Controller, logger telemetry.Logger) *Handler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Handler{hub: hub, ctrl: ctrl, logger: logger}
}

// ServeHTTP upgrades the connection, emits the welcome frame required on
// accept, and starts the client's read/write pumps.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error(r.Context(), "operator websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	clientID := uuid.New().String()
	client := NewClient(clientID, h.hub, h.ctrl, conn, h.logger)

	h.logger.Info(r.Context(), "operator client connected", "client_id", clientID, "remote_addr", r.RemoteAddr)

	h.hub.register <- client
	client.sendDirect(MsgWelcome, WelcomePayload{ClientID: clientID, ServerTime: time.Now().UnixMilli()})

	go client.writePump()
	go client.readPump(context.Background())
}
