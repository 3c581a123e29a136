package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goagent.dev/mobileagent/agenterr"
	"goagent.dev/mobileagent/model"
	"goagent.dev/mobileagent/toolregistry"
)

// replyAction mirrors the tagged-action reply shape next_action expects: a
// tool identifier, its parameters, and an optional rationale string.
type replyAction struct {
	Tool      string         `json:"tool"`
	Params    map[string]any `json:"params"`
	Rationale string         `json:"rationale"`
}

// NextAction asks the model for a single per-step decision during an
// ai-decide task or a recovery hint. The prompt is thinner than Plan's
// decomposition prompt: task description, a screen digest, and the last
// MaxHistoryEntries short-term history entries.
func (p *Planner) NextAction(ctx context.Context, task *Task, screenDigest string, history []HistoryEntry) (Action, error) {
	if len(history) > MaxHistoryEntries {
		history = history[len(history)-MaxHistoryEntries:]
	}

	prompt := p.nextActionPrompt(task, screenDigest, history, false)
	reply, err := p.client.Complete(ctx, &model.Request{Prompt: prompt, Class: model.ClassDefault})
	if err == nil {
		if a, perr := parseActionReply(reply.Text); perr == nil {
			return a, nil
		}
	}

	retryPrompt := p.nextActionPrompt(task, screenDigest, history, true)
	reply, err = p.client.Complete(ctx, &model.Request{Prompt: retryPrompt, Class: model.ClassDefault})
	if err == nil {
		if a, perr := parseActionReply(reply.Text); perr == nil {
			return a, nil
		}
	}

	p.logger.Warn(ctx, "planner: next_action degraded after two malformed replies", "task", task.Description)
	return bestEffortAction(task), agenterr.New("planner: no valid next_action reply").WithCode("model_error")
}

func (p *Planner) nextActionPrompt(task *Task, screenDigest string, history []HistoryEntry, strict bool) string {
	var b strings.Builder
	if strict {
		b.WriteString("你的上一次回复不是合法 JSON。请严格按照以下格式返回，不要包含任何其他文本：\n")
	}
	fmt.Fprintf(&b, "任务: %s\n", task.Description)
	if screenDigest != "" {
		fmt.Fprintf(&b, "当前屏幕:\n%s\n", screenDigest)
	}
	if len(history) > 0 {
		b.WriteString("最近操作:\n")
		for _, h := range history {
			status := "失败"
			if h.Success {
				status = "成功"
			}
			fmt.Fprintf(&b, "- %s(%v) -> %s: %s\n", h.Action.Tool, h.Action.Params, status, h.Message)
		}
	}
	b.WriteString(`请返回 JSON: {"tool":"...","params":{...},"rationale":"..."}`)
	return b.String()
}

func parseActionReply(text string) (Action, error) {
	raw := extractJSON(text)
	if raw == "" {
		return Action{}, agenterr.New("planner: no JSON object found in next_action reply")
	}
	var reply replyAction
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return Action{}, agenterr.NewWithCause("planner: malformed next_action reply", err)
	}
	if reply.Tool == "" {
		return Action{}, agenterr.New("planner: next_action reply has no tool")
	}
	return Action{Tool: toolregistry.Ident(reply.Tool), Params: reply.Params, Rationale: reply.Rationale}, nil
}

// bestEffortAction synthesizes a fallback action from the task's own
// tool/params when the model degrades entirely: fall back to what the
// task already carries, or give up this step. When the task carries no concrete tool (a pure
// ai-decide leaf with nothing to fall back on), the zero Action signals the
// caller to give up the step.
func bestEffortAction(task *Task) Action {
	if task.Tool == "" {
		return Action{}
	}
	return Action{Tool: task.Tool, Params: task.Params, Rationale: "model unavailable, using task default"}
}
