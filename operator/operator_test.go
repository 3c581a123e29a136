package operator_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goagent.dev/mobileagent/operator"
)

type fakeController struct {
	state  string
	goalID string
}

func (f *fakeController) ExecuteGoal(ctx context.Context, goal operator.GoalPayload) (string, error) {
	f.goalID = "g1"
	f.state = "executing"
	return f.goalID, nil
}
func (f *fakeController) Pause() error  { f.state = "paused"; return nil }
func (f *fakeController) Resume() error { f.state = "executing"; return nil }
func (f *fakeController) Stop() error   { f.state = "stopped"; return nil }
func (f *fakeController) DispatchTool(ctx context.Context, tool string, params map[string]any) (operator.ToolResult, error) {
	return operator.ToolResult{Success: true}, nil
}
func (f *fakeController) Status() operator.StatusPayload {
	return operator.StatusPayload{State: f.state, GoalID: f.goalID}
}
func (f *fakeController) CurrentScreen(ctx context.Context) (operator.ScreenPayload, error) {
	return operator.ScreenPayload{Package: "com.test.app"}, nil
}
func (f *fakeController) CurrentPlan() (operator.PlanPayload, bool) {
	return operator.PlanPayload{GoalID: f.goalID}, f.goalID != ""
}
func (f *fakeController) History(ctx context.Context, goalID string) ([]operator.ActionLogView, error) {
	return nil, nil
}
func (f *fakeController) Stats() operator.StatsView { return operator.StatsView{} }

func newTestServer(t *testing.T, ctrl operator.Controller) (*operator.Hub, string) {
	t.Helper()
	hub := operator.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	handler := operator.NewHandler(hub, ctrl, nil)
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWelcomeFrameSentOnConnect(t *testing.T) {
	_, wsURL := newTestServer(t, &fakeController{state: "idle"})

	ws, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var env operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&env))
	assert.Equal(t, operator.MsgWelcome, env.Type)
}

func TestGoalMessageStartsExecution(t *testing.T) {
	ctrl := &fakeController{state: "idle"}
	_, wsURL := newTestServer(t, ctrl)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var welcome operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&welcome))

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type": operator.MsgGoal,
		"payload": operator.GoalPayload{
			Description: "打开微信并发送'早安'给张三",
			MaxSteps:    20,
		},
	}))

	var status operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, operator.MsgStatus, status.Type)
	assert.Equal(t, "executing", ctrl.state)
}

func TestCommandPauseResumeStop(t *testing.T) {
	ctrl := &fakeController{state: "executing", goalID: "g1"}
	_, wsURL := newTestServer(t, ctrl)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var welcome operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&welcome))

	for _, cmd := range []string{operator.CmdPause, operator.CmdResume, operator.CmdStop} {
		require.NoError(t, ws.WriteJSON(map[string]any{
			"type":    operator.MsgCommand,
			"payload": operator.CommandPayload{Command: cmd},
		}))
		var status operator.Envelope
		ws.SetReadDeadline(time.Now().Add(time.Second))
		require.NoError(t, ws.ReadJSON(&status))
		assert.Equal(t, operator.MsgStatus, status.Type)
	}
	assert.Equal(t, "stopped", ctrl.state)
}

func TestUnsupportedCommandReturnsToolError(t *testing.T) {
	_, wsURL := newTestServer(t, &fakeController{state: "idle"})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var welcome operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&welcome))

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    operator.MsgCommand,
		"payload": operator.CommandPayload{Command: operator.CmdGenerateScript},
	}))

	var errFrame operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&errFrame))
	assert.Equal(t, operator.MsgError, errFrame.Type)
}

func TestQueryStatusAndPlan(t *testing.T) {
	ctrl := &fakeController{state: "executing", goalID: "g1"}
	_, wsURL := newTestServer(t, ctrl)

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var welcome operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&welcome))

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    operator.MsgQuery,
		"payload": operator.QueryPayload{QueryType: operator.QueryStatus},
	}))
	var status operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&status))
	assert.Equal(t, operator.MsgStatus, status.Type)

	require.NoError(t, ws.WriteJSON(map[string]any{
		"type":    operator.MsgQuery,
		"payload": operator.QueryPayload{QueryType: operator.QueryPlan},
	}))
	var plan operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&plan))
	assert.Equal(t, operator.MsgPlan, plan.Type)
}

func TestMalformedEnvelopeYieldsInvalidMessageError(t *testing.T) {
	_, wsURL := newTestServer(t, &fakeController{state: "idle"})

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	var welcome operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&welcome))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var errFrame operator.Envelope
	ws.SetReadDeadline(time.Now().Add(time.Second))
	require.NoError(t, ws.ReadJSON(&errFrame))
	assert.Equal(t, operator.MsgError, errFrame.Type)
}

func TestHubBroadcastReachesAllConnectedClients(t *testing.T) {
	hub, wsURL := newTestServer(t, &fakeController{state: "idle"})

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer ws.Close()
		var welcome operator.Envelope
		ws.SetReadDeadline(time.Now().Add(time.Second))
		require.NoError(t, ws.ReadJSON(&welcome))
		conns = append(conns, ws)
	}

	hub.PublishProgress(operator.ProgressPayload{StepNumber: 1, TotalSteps: 5})

	for _, ws := range conns {
		var env operator.Envelope
		ws.SetReadDeadline(time.Now().Add(time.Second))
		require.NoError(t, ws.ReadJSON(&env))
		assert.Equal(t, operator.MsgProgress, env.Type)
	}
}
