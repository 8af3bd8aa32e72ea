package chat

import (
	"github.com/pkg/errors"
)

// State is the ordered conversation owned by a single orchestrator invocation.
// It is append-only: once a turn has completed, prior messages are never
// mutated.
type State struct {
	messages []Message
}

func NewState(messages ...Message) *State {
	s := &State{}
	s.messages = append(s.messages, messages...)
	return s
}

func (s *State) Append(msgs ...Message) {
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the message list suitable for building an
// outbound provider request.
func (s *State) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *State) Len() int {
	return len(s.messages)
}

// Validate checks the tool-call invariant: every tool_use block must be
// answered by exactly one tool_result block in the following user message.
func (s *State) Validate() error {
	pending := map[string]bool{}
	for _, m := range s.messages {
		for _, b := range m.Content {
			switch b.Type {
			case BlockTypeToolUse:
				pending[b.ID] = true
			case BlockTypeToolResult:
				if !pending[b.ToolUseID] {
					return errors.Errorf("tool_result %s answers no pending tool_use", b.ToolUseID)
				}
				delete(pending, b.ToolUseID)
			}
		}
	}
	if len(pending) > 0 {
		return errors.Errorf("conversation contains %d unanswered tool calls", len(pending))
	}
	return nil
}
