package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goagent.dev/mobileagent/agenterr"
	"goagent.dev/mobileagent/internal/goalpattern"
	"goagent.dev/mobileagent/internal/ids"
	"goagent.dev/mobileagent/model"
	"goagent.dev/mobileagent/telemetry"
	"goagent.dev/mobileagent/toolregistry"
)

// Planner decomposes a goal into an execution plan and makes per-step
// decisions during ai-decide tasks or recovery.
type Planner struct {
	client   model.Client
	registry *toolregistry.Registry
	logger   telemetry.Logger
}

// New constructs a Planner bound to a model client and the live tool
// registry (used to build the catalog section of the decomposition prompt;
// tool names in replies are not checked against it). Returns an error if the registry has no tools
// registered.
func New(client model.Client, registry *toolregistry.Registry, logger telemetry.Logger) (*Planner, error) {
	if client == nil {
		return nil, agenterr.New("planner: model client is required")
	}
	if registry == nil || registry.Empty() {
		return nil, agenterr.New("planner: tool catalog is empty")
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Planner{client: client, registry: registry, logger: logger}, nil
}

// replyTask mirrors the required JSON reply shape:
// {tasks: [{id, description, type, tool?, params?, children?}], estimated_steps}.
type replyTask struct {
	ID          string                 `json:"id"`
	Description string                 `json:"description"`
	Type        string                 `json:"type"`
	Tool        string                 `json:"tool"`
	Params      map[string]any         `json:"params"`
	Children    []replyTask            `json:"children"`
}

type planReply struct {
	Tasks          []replyTask `json:"tasks"`
	EstimatedSteps int         `json:"estimated_steps"`
}

// Plan decomposes goalText into an execution plan given the planning
// context. On a malformed model reply, Plan retries once with a stricter
// format preamble; a second failure yields an unstructured single
// ai-decide-task plan wrapping the raw goal.
func (p *Planner) Plan(ctx context.Context, goalText string, pc PlanningContext) (*ExecutionPlan, error) {
	hint := preferredSkeleton(goalText, pc.LearnedStrategies)

	prompt := p.decompositionPrompt(goalText, pc, hint, false)
	reply, err := p.client.Complete(ctx, &model.Request{Prompt: prompt, Class: model.ClassDefault})
	if err == nil {
		if plan, perr := parsePlanReply(reply.Text); perr == nil {
			return plan, nil
		}
	}

	retryPrompt := p.decompositionPrompt(goalText, pc, hint, true)
	reply, err = p.client.Complete(ctx, &model.Request{Prompt: retryPrompt, Class: model.ClassDefault})
	if err == nil {
		if plan, perr := parsePlanReply(reply.Text); perr == nil {
			return plan, nil
		}
	}

	p.logger.Warn(ctx, "planner: falling back to unstructured plan after two malformed replies", "goal", goalText)
	return unstructuredPlan(goalText), nil
}

func (p *Planner) decompositionPrompt(goalText string, pc PlanningContext, hint *LearnedPatternHint, strict bool) string {
	var b strings.Builder
	if strict {
		b.WriteString("你的上一次回复不是合法 JSON。请严格按照以下格式返回，不要包含任何其他文本：\n")
	}
	fmt.Fprintf(&b, "目标: %s\n", goalText)
	if pc.CurrentScreenDigest != "" {
		fmt.Fprintf(&b, "当前屏幕:\n%s\n", pc.CurrentScreenDigest)
	}
	b.WriteString("可用工具:\n")
	for _, name := range p.registry.Names() {
		spec, _ := p.registry.Get(name)
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	if hint != nil {
		b.WriteString("建议的动作序列（可采纳或覆盖）:\n")
		for i, a := range hint.Actions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a.Tool)
		}
	}
	b.WriteString(`请返回 JSON: {"tasks":[{"id":"...","description":"...","type":"primitive|composite|conditional|loop|ai-decide","tool":"...","params":{...},"children":[...]}],"estimated_steps":N}`)
	return b.String()
}

func parsePlanReply(text string) (*ExecutionPlan, error) {
	raw := extractJSON(text)
	if raw == "" {
		return nil, agenterr.New("planner: no JSON object found in reply")
	}
	var reply planReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, agenterr.NewWithCause("planner: malformed JSON reply", err)
	}
	if len(reply.Tasks) == 0 {
		return nil, agenterr.New("planner: reply has no tasks")
	}
	root := &Task{ID: ids.New(), Description: "root", Type: TaskComposite, Status: StatusPending}
	for _, rt := range reply.Tasks {
		root.Children = append(root.Children, buildTask(rt, root))
	}
	return &ExecutionPlan{Root: root, EstimatedSteps: reply.EstimatedSteps}, nil
}

func buildTask(rt replyTask, parent *Task) *Task {
	t := &Task{
		ID:          rt.ID,
		Description: rt.Description,
		Type:        TaskType(rt.Type),
		Tool:        toolregistry.Ident(rt.Tool),
		Params:      rt.Params,
		Status:      StatusPending,
		Parent:      parent,
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	for _, c := range rt.Children {
		t.Children = append(t.Children, buildTask(c, t))
	}
	return t
}

// unstructuredPlan wraps the raw goal in a single ai-decide task, the
// fallback shape for a second consecutive malformed reply.
func unstructuredPlan(goalText string) *ExecutionPlan {
	root := &Task{ID: ids.New(), Description: "root", Type: TaskComposite, Status: StatusPending}
	leaf := &Task{ID: ids.New(), Description: goalText, Type: TaskAIDecide, Status: StatusPending, Parent: root}
	root.Children = []*Task{leaf}
	return &ExecutionPlan{Root: root, EstimatedSteps: 1, Unstructured: true}
}

// preferredSkeleton returns the highest-confidence learned pattern matching
// goalText by shared verb tokens, if its confidence clears
// MinPatternConfidence.
func preferredSkeleton(goalText string, hints []LearnedPatternHint) *LearnedPatternHint {
	tokens := goalpattern.Extract(goalText)
	var best *LearnedPatternHint
	for i := range hints {
		h := hints[i]
		if h.Confidence < MinPatternConfidence {
			continue
		}
		if !sharesToken(tokens, strings.Split(h.GoalPattern, "*")) {
			continue
		}
		if best == nil || h.Confidence > best.Confidence {
			best = &hints[i]
		}
	}
	return best
}

func sharesToken(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	for _, t := range b {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

// extractJSON finds the first top-level JSON object in text, tolerating a
// surrounding prose preamble the model sometimes adds despite instructions.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
