// Package tools runs named tools on behalf of the entity and reports a
// structured result the think loop can store and reason about.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 10 * time.Second

// Error types reported in Result.Error.
const (
	ErrUnknownTool   = "unknown_tool"
	ErrInvalidParams = "invalid_params"
	ErrTimeout       = "timeout"
	ErrExecution     = "execution_error"
)

// ToolError describes why a call failed.
type ToolError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Result is the outcome of a tool call. Error is nil on success.
type Result struct {
	Success bool       `json:"success"`
	Result  any        `json:"result,omitempty"`
	Error   *ToolError `json:"error,omitempty"`
}

// String renders the result for storing alongside a thought.
func (r Result) String() string {
	if !r.Success {
		if r.Error == nil {
			return "error"
		}
		return r.Error.Type + ": " + r.Error.Message
	}
	switch v := r.Result.(type) {
	case nil:
		return "ok"
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Params are the arguments of a call, as decoded from JSON.
type Params map[string]any

var errInvalid = errors.New("invalid params")

// Invalid reports a bad or missing parameter.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

// String returns a trimmed string parameter.
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return strings.TrimSpace(s)
}

// RequireString returns a non-empty string parameter.
func (p Params) RequireString(key string) (string, error) {
	s := p.String(key)
	if s == "" {
		return "", Invalid("missing required parameter: %s", key)
	}
	return s, nil
}

// Int returns an integer parameter given as a JSON number or numeric string.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Float returns a float parameter.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Tool is a named capability.
type Tool struct {
	Name        string
	Description string
	Params      map[string]string // name -> description
	Timeout     time.Duration     // zero uses DefaultTimeout
	Run         func(ctx context.Context, p Params) (any, error)
}

// Registry holds the tools available to the entity.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds t, replacing a tool of the same name.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if t.Run == nil {
		return fmt.Errorf("tool %s has no Run func", t.Name)
	}
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
	return nil
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Describe lists tools one per line for prompts.
func (r *Registry) Describe() []string {
	var lines []string
	for _, t := range r.Tools() {
		line := t.Name + ": " + t.Description
		if len(t.Params) > 0 {
			names := make([]string, 0, len(t.Params))
			for k := range t.Params {
				names = append(names, k)
			}
			sort.Strings(names)
			line += " (params: " + strings.Join(names, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return lines
}

// Execute runs the named tool. It never returns a Go error: failures are
// reported in the result.
func (r *Registry) Execute(ctx context.Context, name string, params Params) Result {
	start := time.Now()
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		slog.Info("tool call", "tool", name, "is_error", true, "reason", ErrUnknownTool)
		return Result{Error: &ToolError{Type: ErrUnknownTool, Message: "unknown tool: " + name}}
	}
	if params == nil {
		params = Params{}
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	toolCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := t.Run(toolCtx, params)
	res := Result{Success: err == nil, Result: out}
	if err != nil {
		res.Result = nil
		res.Error = classify(toolCtx, err)
	}

	slog.Info("tool call",
		"tool", name,
		"duration", time.Since(start).Round(time.Millisecond),
		"is_error", !res.Success,
	)
	return res
}

func classify(ctx context.Context, err error) *ToolError {
	switch {
	case errors.Is(err, errInvalid):
		return &ToolError{Type: ErrInvalidParams, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &ToolError{Type: ErrTimeout, Message: err.Error()}
	default:
		return &ToolError{Type: ErrExecution, Message: err.Error()}
	}
}
