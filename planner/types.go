// Package planner implements the goal decomposition and per-step decision
// component: a model-backed planner that turns a natural-language goal
// into a rooted task tree, and offers a thinner next_action call for
// per-step decisions during ai-decide tasks or recovery.
package planner

import "goagent.dev/mobileagent/toolregistry"

// TaskType classifies a planned task node.
type TaskType string

const (
	TaskPrimitive   TaskType = "primitive"
	TaskComposite   TaskType = "composite"
	TaskConditional TaskType = "conditional"
	TaskLoop        TaskType = "loop"
	TaskAIDecide    TaskType = "ai-decide"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusSucceeded TaskStatus = "succeeded"
	StatusFailed    TaskStatus = "failed"
	StatusSkipped   TaskStatus = "skipped"
)

// FailPolicy governs how a composite task's failure propagates.
type FailPolicy string

const (
	FailPolicyDefault    FailPolicy = ""
	FailPolicySkip       FailPolicy = "skip"
	FailPolicyAITakeover FailPolicy = "ai-takeover"
)

// Task is one node of a planned task tree.
type Task struct {
	ID          string
	Description string
	Type        TaskType
	Tool        toolregistry.Ident
	Params      map[string]any
	Status      TaskStatus
	FailPolicy  FailPolicy
	Parent      *Task
	Children    []*Task
}

// Leaf reports whether the task is a primitive (executable) node.
func (t *Task) Leaf() bool { return t.Type == TaskPrimitive }

// Progress returns the fraction of primitive tasks under this subtree that
// have reached a terminal status.
func (t *Task) Progress() float64 {
	total, terminal := 0, 0
	var walk func(n *Task)
	walk = func(n *Task) {
		if n.Type == TaskPrimitive {
			total++
			if n.Status == StatusSucceeded || n.Status == StatusFailed || n.Status == StatusSkipped {
				terminal++
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(t)
	if total == 0 {
		return 0
	}
	return float64(terminal) / float64(total)
}

// CompositeDone reports whether a composite task's required children have
// all succeeded (it is done): a composite succeeds iff all required
// children succeed, and fails on the first required-child failure. A
// failed child whose fail policy is skip or ai-takeover is not required
// and does not propagate.
func (t *Task) CompositeDone() (done, success bool) {
	if len(t.Children) == 0 {
		return true, true
	}
	allTerminal := true
	for _, c := range t.Children {
		switch c.Status {
		case StatusSucceeded, StatusSkipped:
		case StatusFailed:
			if c.FailPolicy == FailPolicySkip || c.FailPolicy == FailPolicyAITakeover {
				continue
			}
			return true, false
		default:
			allTerminal = false
		}
	}
	return allTerminal, allTerminal
}

// ExecutionPlan is a rooted task tree plus an estimated primitive-step count.
type ExecutionPlan struct {
	Root           *Task
	EstimatedSteps int
	// Unstructured marks a plan that is a single ai-decide task produced
	// after a second malformed-reply failure.
	Unstructured bool
}

// LearnedPatternHint is a compact learned-pattern summary offered to the
// model as a preferred skeleton when its confidence clears the threshold.
type LearnedPatternHint struct {
	GoalPattern string
	Actions     []Action
	Confidence  float64
}

// MinPatternConfidence is the threshold at which a learned pattern is
// offered to the model as a preferred skeleton.
const MinPatternConfidence = 0.6

// PlanningContext bundles the information the planner needs beyond the goal
// text itself.
type PlanningContext struct {
	CurrentScreenDigest string
	LearnedStrategies   []LearnedPatternHint
}

// Action is a single tagged step: a tool identifier and its parameters, the
// same shape the tool registry dispatches.
type Action struct {
	Tool       toolregistry.Ident
	Params     map[string]any
	Rationale  string
}

// HistoryEntry is one short-term memory entry: an action and its result,
// used as context for next_action.
type HistoryEntry struct {
	Action  Action
	Success bool
	Message string
}

// MaxHistoryEntries bounds how many short-term history entries are carried
// into a next_action prompt.
const MaxHistoryEntries = 5
