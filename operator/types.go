// Package operator implements the operator protocol: a long-lived
// bidirectional JSON message channel over a websocket, framed as text
// records. Every message is `{type, payload, timestamp}`.
package operator

import (
	"encoding/json"
	"time"
)

// Envelope is the wire shape of every operator-protocol message in both
// directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// newEnvelope marshals payload and stamps the current time, in epoch
// milliseconds
func newEnvelope(typ string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: typ, Payload: raw, Timestamp: time.Now().UnixMilli()}, nil
}

// Incoming message types (peer -> device).
const (
	MsgGoal    = "goal"
	MsgCommand = "command"
	MsgQuery   = "query"
)

// Outgoing message types (device -> peer).
const (
	MsgWelcome  = "welcome"
	MsgStatus   = "status"
	MsgProgress = "progress"
	MsgScreen   = "screen"
	MsgPlan     = "plan"
	MsgThinking = "thinking"
	MsgResult   = "result"
	MsgError    = "error"
	MsgLog      = "log"
)

// Command names accepted in a command payload's "command" field.
const (
	CmdStart          = "start"
	CmdPause          = "pause"
	CmdResume         = "resume"
	CmdStop           = "stop"
	CmdGetStatus      = "get_status"
	CmdGetScreen      = "get_screen"
	CmdScreenshot     = "screenshot"
	CmdTap            = "tap"
	CmdSwipe          = "swipe"
	CmdInput          = "input"
	CmdPressKey       = "press_key"
	CmdAnalyzeScreen  = "analyze_screen"
	CmdGenerateScript = "generate_script"
)

// Query names accepted in a query payload's "queryType" field.
const (
	QueryStatus  = "status"
	QueryScreen  = "screen"
	QueryPlan    = "plan"
	QueryHistory = "history"
	QueryStats   = "stats"
)

// Error codes carried in an error payload's "code" field.
const (
	ErrUnknown          = "unknown"
	ErrInvalidMessage   = "invalid_message"
	ErrGoalFailed       = "goal_failed"
	ErrToolError        = "tool_error"
	ErrAIError          = "ai_error"
	ErrPermissionDenied = "permission_denied"
	ErrTimeout          = "timeout"
)

// GoalPayload is the incoming "goal" message payload, e.g.
// `{"description": "...", "maxSteps": 20, "timeoutSeconds": 60}`.
type GoalPayload struct {
	Description    string `json:"description"`
	MaxSteps       int    `json:"maxSteps"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

// CommandPayload is the incoming "command" message payload. Params carries
// command-specific tool parameters (tap/swipe/input/press_key).
type CommandPayload struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// QueryPayload is the incoming "query" message payload.
type QueryPayload struct {
	QueryType string `json:"queryType"`
	GoalID    string `json:"goalId,omitempty"`
}

// WelcomePayload is sent once, immediately on connection accept.
type WelcomePayload struct {
	ClientID   string `json:"clientId"`
	ServerTime int64  `json:"serverTime"`
}

// StatusPayload reports the controller's current run state.
type StatusPayload struct {
	State  string `json:"state"`
	GoalID string `json:"goalId,omitempty"`
}

// ProgressPayload reports per-step progress.
type ProgressPayload struct {
	StepNumber      int     `json:"stepNumber"`
	TotalSteps      int     `json:"totalSteps"`
	CurrentTask     string  `json:"currentTask"`
	TaskStatus      string  `json:"taskStatus"`
	ProgressPercent float64 `json:"progressPercent"`
}

// MaxScreenItems bounds the visible-texts/clickable-labels list a "screen"
// frame may carry.
const MaxScreenItems = 50

// ScreenPayload is a bounded rendering of the current screen.
type ScreenPayload struct {
	Package         string   `json:"package"`
	Activity        string   `json:"activity,omitempty"`
	VisibleTexts    []string `json:"visibleTexts"`
	ClickableLabels []string `json:"clickableLabels"`
	ScreenshotB64   string   `json:"screenshotBase64,omitempty"`
}

// PlanTaskView is one flattened task row in a "plan" frame.
type PlanTaskView struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Depth       int    `json:"depth"`
}

// PlanPayload carries the flattened task tree with status.
type PlanPayload struct {
	GoalID         string         `json:"goalId"`
	Tasks          []PlanTaskView `json:"tasks"`
	EstimatedSteps int            `json:"estimatedSteps"`
	Unstructured   bool           `json:"unstructured"`
}

// ThinkingPayload surfaces the planner/next_action model's reasoning text.
type ThinkingPayload struct {
	GoalID string `json:"goalId"`
	Text   string `json:"text"`
}

// ResultPayload is the terminal outcome of a goal run.
type ResultPayload struct {
	GoalID          string `json:"goalId"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
	StepsExecuted   int    `json:"stepsExecuted"`
	PopupsDismissed int    `json:"popupsDismissed"`
}

// ErrorPayload is an out-of-band diagnostic frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LogPayload is a free-form diagnostic log line.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}
