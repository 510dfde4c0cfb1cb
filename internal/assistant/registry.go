package assistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fitclub/ClubAssist/internal/models"
)

// ToolFunc executes one assistant tool call and returns its result. The
// result's Output is submitted back to the paused run verbatim.
type ToolFunc func(ctx context.Context, call models.ToolCall) models.ToolResult

// ToolRegistry maps function names to their executors. The registry is
// closed: a tool call naming an unregistered function is rejected with a
// failure result instead of being guessed at.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]ToolFunc
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]ToolFunc)}
}

// Register binds fn to the given function name, replacing any previous
// binding.
func (r *ToolRegistry) Register(name string, fn ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = fn
}

// Dispatch executes every tool call and returns one result per call, in
// order. A run never resumes without an output for each of its calls, so
// unknown functions still produce a (failure) result.
func (r *ToolRegistry) Dispatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, 0, len(calls))
	for _, call := range calls {
		r.mu.RLock()
		fn, ok := r.tools[call.Function.Name]
		r.mu.RUnlock()
		if !ok {
			slog.Warn("ToolRegistry.Dispatch: unknown function requested", "function", call.Function.Name, "toolCallID", call.ID)
			results = append(results, FailureResult(call.ID, "unknown function: "+call.Function.Name))
			continue
		}
		results = append(results, fn(ctx, call))
	}
	return results
}

// SuccessResult builds a successful tool result with a JSON success payload.
func SuccessResult(toolCallID string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: toolCallID,
		Success:    true,
		Output:     `{"success": true}`,
	}
}

// FailureResult builds a failed tool result whose Output carries the error as
// a JSON payload the assistant can relay.
func FailureResult(toolCallID, message string) models.ToolResult {
	out, err := json.Marshal(map[string]interface{}{"success": false, "error": message})
	if err != nil {
		out = []byte(`{"success": false}`)
	}
	return models.ToolResult{
		ToolCallID: toolCallID,
		Success:    false,
		Output:     string(out),
		Error:      message,
	}
}
