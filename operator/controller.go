package operator

import "context"

// Controller is the surface the operator protocol server drives. It is
// satisfied by the top-level controller handle that wires C1-C8 together;
// operator depends only on this interface so the two packages don't import
// each other.
type Controller interface {
	// ExecuteGoal starts a new goal run asynchronously and returns its id.
	ExecuteGoal(ctx context.Context, goal GoalPayload) (goalID string, err error)
	Pause() error
	Resume() error
	Stop() error

	// DispatchTool invokes a single tool directly (manual tap/swipe/input/
	// press_key/get_screen commands issued outside of a goal run).
	DispatchTool(ctx context.Context, tool string, params map[string]any) (ToolResult, error)

	Status() StatusPayload
	CurrentScreen(ctx context.Context) (ScreenPayload, error)
	CurrentPlan() (PlanPayload, bool)
	History(ctx context.Context, goalID string) ([]ActionLogView, error)
	Stats() StatsView
}

// ToolResult is the outcome of a Controller.DispatchTool call, independent
// of the toolregistry package's concrete ActionResult shape so operator
// does not need to import it just to report success/failure.
type ToolResult struct {
	Success bool
	Message string
	Data    any
}

// ActionLogView is one history row returned by Controller.History.
type ActionLogView struct {
	StepNumber int    `json:"stepNumber"`
	ToolName   string `json:"toolName"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
}

// StatsView mirrors observer.ObserverStats, for the
// query{queryType:"stats"} response.
type StatsView struct {
	FullCount        int64 `json:"fullCount"`
	IncrementalCount int64 `json:"incrementalCount"`
	DiffCount        int64 `json:"diffCount"`
	CacheHits        int64 `json:"cacheHits"`
	Pending          int   `json:"pending"`
}
