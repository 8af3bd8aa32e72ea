package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition describes a tool offered to the model: its name, a description
// the model sees, and the JSON schema of its arguments. Schema stays untyped
// because remote providers advertise theirs dynamically.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      any    `json:"schema"`
}

// Call is a single tool invocation requested by the model. The ID is opaque
// and caller-correlatable; a call is consumed exactly once and never reused
// across turns.
type Call struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// Result is the normalized outcome of a call. Error outcomes carry IsError
// so the model can see and react to the failure.
type Result struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

func NewResult(call Call, content string) Result {
	return Result{ToolUseID: call.ID, Content: content}
}

func NewErrorResult(call Call, err error) Result {
	return Result{ToolUseID: call.ID, Content: err.Error(), IsError: true}
}

func (c Call) String() string {
	input, _ := json.Marshal(c.Input)
	return fmt.Sprintf("Call{ID: %s, Name: %s, Input: %s}", c.ID, c.Name, input)
}

// RemoteProvider is the boundary to the external data-query tool provider.
// Tools are discovered dynamically; Call dispatches one invocation.
type RemoteProvider interface {
	Tools(ctx context.Context) ([]Definition, error)
	Call(ctx context.Context, name string, input map[string]any) (string, error)
}
