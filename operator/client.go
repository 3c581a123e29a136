package operator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"goagent.dev/mobileagent/telemetry"
)

const (
	// writeWait bounds how long a single write to the peer may take.
	writeWait = 10 * time.Second
	// pongWait bounds how long we wait for a pong before considering the
	// peer dead.
	pongWait = 60 * time.Second
	// pingPeriod must stay below pongWait so a ping always lands before the
	// read deadline expires.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize bounds one incoming frame; operator commands are small.
	maxMessageSize = 8192
	// sendBufferSize bounds how many outgoing frames may queue for a slow
	// peer before PublishX drops frames for it.
	sendBufferSize = 64
)

// Client represents one connected operator peer.
type Client struct {
	id   string
	hub  *Hub
	ctrl Controller
	conn *websocket.Conn
	send chan *Envelope

	logger telemetry.Logger
}

// NewClient constructs a Client bound to one websocket connection.
func NewClient(id string, hub *Hub, ctrl Controller, conn *websocket.Conn, logger telemetry.Logger) *Client {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Client{
		id:     id,
		hub:    hub,
		ctrl:   ctrl,
		conn:   conn,
		send:   make(chan *Envelope, sendBufferSize),
		logger: logger,
	}
}

// readPump pumps incoming frames from the websocket connection to the
// dispatcher. It must run in its own goroutine; it returns when the
// connection closes or a fatal read error occurs.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn(ctx, "operator websocket unexpected close", "client_id", c.id, "error", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "malformed envelope"})
			continue
		}
		c.dispatch(ctx, &env)
	}
}

// writePump pumps frames queued on c.send to the websocket connection and
// keeps the connection alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendDirect delivers a frame to this client only, bypassing the hub's
// broadcast (used for query responses and per-command errors).
func (c *Client) sendDirect(typ string, payload any) {
	env, err := newEnvelope(typ, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- env:
	default:
		c.logger.Warn(context.Background(), "operator client send buffer full, dropping direct frame", "client_id", c.id, "type", typ)
	}
}

// dispatch routes one incoming envelope to the appropriate handler.
func (c *Client) dispatch(ctx context.Context, env *Envelope) {
	switch env.Type {
	case MsgGoal:
		c.handleGoal(ctx, env)
	case MsgCommand:
		c.handleCommand(ctx, env)
	case MsgQuery:
		c.handleQuery(ctx, env)
	default:
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "unknown message type: " + env.Type})
	}
}

func (c *Client) handleGoal(ctx context.Context, env *Envelope) {
	var p GoalPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Description == "" {
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "goal requires a description"})
		return
	}
	goalID, err := c.ctrl.ExecuteGoal(ctx, p)
	if err != nil {
		c.sendDirect(MsgError, ErrorPayload{Code: ErrGoalFailed, Message: err.Error()})
		return
	}
	c.sendDirect(MsgStatus, StatusPayload{State: "executing", GoalID: goalID})
}

func (c *Client) handleCommand(ctx context.Context, env *Envelope) {
	var p CommandPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "malformed command payload"})
		return
	}
	switch p.Command {
	case CmdStart:
		// "start" resumes or re-arms an already-submitted goal; submitting
		// a new goal is done via a "goal" message, not this command.
		c.replyControl(c.ctrl.Resume())
	case CmdPause:
		c.replyControl(c.ctrl.Pause())
	case CmdResume:
		c.replyControl(c.ctrl.Resume())
	case CmdStop:
		c.replyControl(c.ctrl.Stop())
	case CmdGetStatus:
		c.sendDirect(MsgStatus, c.ctrl.Status())
	case CmdGetScreen, CmdScreenshot:
		screen, err := c.ctrl.CurrentScreen(ctx)
		if err != nil {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: err.Error()})
			return
		}
		c.sendDirect(MsgScreen, screen)
	case CmdTap, CmdSwipe, CmdInput, CmdPressKey:
		res, err := c.ctrl.DispatchTool(ctx, toolNameFor(p.Command), p.Params)
		if err != nil {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: err.Error()})
			return
		}
		c.sendDirect(MsgResult, ResultPayload{Success: res.Success})
	case CmdAnalyzeScreen, CmdGenerateScript:
		// Both need a model round-trip the controller does not expose
		// outside of a goal run; answer with a definite error instead of
		// leaving the peer waiting.
		c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: "command not supported: " + p.Command})
	default:
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "unknown command: " + p.Command})
	}
}

// toolNameFor maps a wire command onto its registry tool name; the wire
// protocol abbreviates "input_text" to "input", the rest match directly.
func toolNameFor(cmd string) string {
	if cmd == CmdInput {
		return "input_text"
	}
	return cmd
}

func (c *Client) replyControl(err error) {
	if err != nil {
		c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: err.Error()})
		return
	}
	c.sendDirect(MsgStatus, c.ctrl.Status())
}

func (c *Client) handleQuery(ctx context.Context, env *Envelope) {
	var p QueryPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "malformed query payload"})
		return
	}
	switch p.QueryType {
	case QueryStatus:
		c.sendDirect(MsgStatus, c.ctrl.Status())
	case QueryScreen:
		screen, err := c.ctrl.CurrentScreen(ctx)
		if err != nil {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: err.Error()})
			return
		}
		c.sendDirect(MsgScreen, screen)
	case QueryPlan:
		plan, ok := c.ctrl.CurrentPlan()
		if !ok {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrUnknown, Message: "no active plan"})
			return
		}
		c.sendDirect(MsgPlan, plan)
	case QueryHistory:
		history, err := c.ctrl.History(ctx, p.GoalID)
		if err != nil {
			c.sendDirect(MsgError, ErrorPayload{Code: ErrToolError, Message: err.Error()})
			return
		}
		c.sendDirect(MsgLog, LogPayload{Level: "info", Message: formatHistory(history)})
	case QueryStats:
		c.sendDirect(MsgLog, LogPayload{Level: "info", Message: formatStats(c.ctrl.Stats())})
	default:
		c.sendDirect(MsgError, ErrorPayload{Code: ErrInvalidMessage, Message: "unknown query type: " + p.QueryType})
	}
}

func formatHistory(entries []ActionLogView) string {
	raw, _ := json.Marshal(entries)
	return string(raw)
}

func formatStats(s StatsView) string {
	raw, _ := json.Marshal(s)
	return string(raw)
}
