package toolregistry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goagent.dev/mobileagent/agenterr"
)

// Invoker executes a coerced tool call and returns its result.
type Invoker func(ctx context.Context, params map[string]any) (ActionResult, error)

// ToolSpec is a registered tool: its name, description, parameter
// descriptors, and the handler that executes it.
type ToolSpec struct {
	Name        Ident
	Description string
	Params      []ParamSpec
	Invoke      Invoker

	// Schema optionally validates the coerced parameter map beyond the
	// basic kind/enum coercion below, compiled once at registration time
	// from a JSON-schema document (agent-defined tools may supply one;
	// built-ins do not need one since their coercion rules are already
	// exhaustive).
	Schema *jsonschema.Schema
}

// Registry is a process-lifetime mapping from tool name to tool descriptor.
// Registration happens at startup; lookup and dispatch are O(1) and safe for
// concurrent use thereafter.
type Registry struct {
	mu    sync.RWMutex
	tools map[Ident]*ToolSpec
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[Ident]*ToolSpec)}
}

// Register adds a tool descriptor. Returns an error if a tool with the same
// name is already registered.
func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return agenterr.New("tool name is required")
	}
	if spec.Invoke == nil {
		return agenterr.Errorf("tool %q has no handler", spec.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[spec.Name]; dup {
		return agenterr.Errorf("tool %q already registered", spec.Name)
	}
	cp := spec
	r.tools[spec.Name] = &cp
	return nil
}

// Get looks up a tool descriptor by name.
func (r *Registry) Get(name Ident) (*ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []Ident {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Ident, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Empty reports whether no tools are registered. The planner treats an
// empty tool catalog as a configuration error.
func (r *Registry) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools) == 0
}

// Dispatch coerces raw parameters against the tool's descriptor and, on
// success, invokes the tool. Coercion failures are returned as a failed
// ActionResult (not a Go error); infra errors (unknown tool)
// are returned as errors.
func (r *Registry) Dispatch(ctx context.Context, name Ident, raw map[string]any) (ActionResult, error) {
	spec, ok := r.Get(name)
	if !ok {
		return ActionResult{}, agenterr.Errorf("unknown tool %q", name)
	}
	coerced, failure, ok := coerceParams(spec.Params, raw)
	if !ok {
		return failure, nil
	}
	if spec.Schema != nil {
		if err := spec.Schema.Validate(toJSONLike(coerced)); err != nil {
			return ActionResult{Success: false, Message: fmt.Sprintf("无效的参数: %v", err), Timestamp: time.Now()}, nil
		}
	}
	return spec.Invoke(ctx, coerced)
}

func toJSONLike(m map[string]any) any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// coerceParams validates and converts raw parameters against the tool's
// parameter descriptors, applying the required/kind/enum coercion rules.
func coerceParams(specs []ParamSpec, raw map[string]any) (map[string]any, ActionResult, bool) {
	out := make(map[string]any, len(specs))
	for _, p := range specs {
		v, present := raw[p.Name]
		if !present {
			if p.Required {
				return nil, fail(fmt.Sprintf("缺少 %s 参数", p.Name)), false
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		coerced, ok := coerceOne(p, v)
		if !ok {
			return nil, fail(fmt.Sprintf("无效的 %s", p.Name)), false
		}
		out[p.Name] = coerced
	}
	return out, ActionResult{}, true
}

func coerceOne(p ParamSpec, v any) (any, bool) {
	switch p.Kind {
	case KindString:
		s, ok := v.(string)
		return s, ok
	case KindInt:
		return coerceInt(v)
	case KindFloat:
		return coerceFloat(v)
	case KindBool:
		b, ok := v.(bool)
		return b, ok
	case KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		for _, allowed := range p.Enum {
			if strings.EqualFold(allowed, s) {
				return strings.ToLower(allowed), true
			}
		}
		return nil, false
	default:
		return nil, false
	}
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int64(n)) {
			return int(n), true
		}
		return 0, false
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func coerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func fail(msg string) ActionResult {
	return ActionResult{Success: false, Message: msg, Timestamp: time.Now()}
}
