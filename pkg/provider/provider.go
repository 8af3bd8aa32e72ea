package provider

import (
	"context"

	"github.com/datachat-io/datachat/pkg/chat"
)

// ToolSpec describes a tool offered to the model for one call. Schema is the
// JSON schema of the tool's arguments, already in serializable form.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Schema      any    `json:"schema"`
}

// Request is one streaming model call.
type Request struct {
	Model     string
	System    string
	Messages  []chat.Message
	Tools     []ToolSpec
	MaxTokens int
}

type StreamEventType string

const (
	// StreamEventText carries a text token.
	StreamEventText StreamEventType = "text"
	// StreamEventToolCallDelta carries a fragment of a tool invocation: the
	// call is identified by Index, ID and Name arrive on the first fragment,
	// and ArgsFragment accumulates into a serialized JSON argument object.
	StreamEventToolCallDelta StreamEventType = "tool_call_delta"
	// StreamEventDone terminates the stream with the provider's stop reason.
	StreamEventDone StreamEventType = "done"
)

// StreamEvent is one token/event from the provider stream.
type StreamEvent struct {
	Type StreamEventType

	Text string

	Index        int
	ToolCallID   string
	ToolName     string
	ArgsFragment string

	StopReason string
}

// Provider is the black-box streaming RPC boundary to a language model.
// Stream invokes the model once and delivers events in order through onEvent;
// it returns once the stream is exhausted or fails. Transient stream failures
// are marked with retry.MarkTransient by implementations.
type Provider interface {
	Stream(ctx context.Context, req Request, onEvent func(StreamEvent) error) error
}
