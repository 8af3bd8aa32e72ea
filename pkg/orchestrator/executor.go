package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/tools"
)

// TurnResult is the structured outcome of one model call: ordered text
// segments and the tool calls the model requested.
type TurnResult struct {
	TextSegments []string
	ToolCalls    []tools.Call
	StopReason   string

	// StreamedSegments counts the leading TextSegments that were already
	// flushed to the emitter during the stream. Segments past this index were
	// withheld and still need replaying as tool narration.
	StreamedSegments int
}

// Text concatenates the turn's text segments.
func (r *TurnResult) Text() string {
	return strings.Join(r.TextSegments, "")
}

// TurnExecutor drives a single streaming model call to completion, splitting
// the token/event stream into text segments and tool-call requests.
//
// Text tokens received before any tool call began are flushed to the emitter
// immediately to keep latency low. Once a tool call begins, further text is
// withheld from the stream and carried in the turn result; the orchestrator
// replays it ahead of the tool_start frames once the turn's stream ends.
type TurnExecutor struct {
	provider provider.Provider

	// frameFor wraps a text delta in the frame type appropriate for the
	// orchestration mode (text for standalone, intermediate_text for the
	// data-gathering pipeline phase).
	frameFor func(string) events.Frame
}

func NewTurnExecutor(p provider.Provider, frameFor func(string) events.Frame) *TurnExecutor {
	if frameFor == nil {
		frameFor = func(s string) events.Frame { return events.NewTextFrame(s) }
	}
	return &TurnExecutor{provider: p, frameFor: frameFor}
}

// pendingCall buffers one tool call's serialized-JSON argument fragments
// until the stream commits the call.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Execute issues one streaming call. Transient stream failures are returned
// to the caller untouched; retrying is the orchestrator's responsibility
// since an in-flight partial turn must be discarded, not resumed.
func (e *TurnExecutor) Execute(ctx context.Context, req provider.Request, emitter events.Emitter) (*TurnResult, error) {
	result := &TurnResult{}

	var segment strings.Builder
	pending := map[int]*pendingCall{}
	toolPhaseStarted := false

	onEvent := func(ev provider.StreamEvent) error {
		switch ev.Type {
		case provider.StreamEventText:
			segment.WriteString(ev.Text)
			if !toolPhaseStarted {
				return emitter.Emit(e.frameFor(ev.Text))
			}
			return nil

		case provider.StreamEventToolCallDelta:
			if !toolPhaseStarted {
				toolPhaseStarted = true
				if segment.Len() > 0 {
					result.TextSegments = append(result.TextSegments, segment.String())
					result.StreamedSegments = 1
					segment.Reset()
				}
			} else if segment.Len() > 0 {
				// Narration between two tool calls becomes its own segment.
				result.TextSegments = append(result.TextSegments, segment.String())
				segment.Reset()
			}
			pc, ok := pending[ev.Index]
			if !ok {
				pc = &pendingCall{}
				pending[ev.Index] = pc
			}
			if ev.ToolCallID != "" {
				pc.id = ev.ToolCallID
			}
			if ev.ToolName != "" {
				pc.name = ev.ToolName
			}
			pc.args.WriteString(ev.ArgsFragment)
			return nil

		case provider.StreamEventDone:
			result.StopReason = ev.StopReason
			return nil
		}
		return nil
	}

	if err := e.provider.Stream(ctx, req, onEvent); err != nil {
		return nil, err
	}

	if segment.Len() > 0 {
		result.TextSegments = append(result.TextSegments, segment.String())
	}
	if !toolPhaseStarted {
		result.StreamedSegments = len(result.TextSegments)
	}

	indices := make([]int, 0, len(pending))
	for i := range pending {
		indices = append(indices, i)
	}
	sort.Ints(indices)
	for _, i := range indices {
		pc := pending[i]
		result.ToolCalls = append(result.ToolCalls, tools.Call{
			ID:    pc.id,
			Name:  pc.name,
			Input: parseArgs(pc.name, pc.args.String()),
		})
	}

	return result, nil
}

// parseArgs decodes the buffered argument JSON. A parse failure degrades to
// an empty argument object rather than failing the turn; the tool layer will
// reject the call with a visible error if the arguments were required.
func parseArgs(name, raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		log.Warn().Err(err).Str("tool", name).Int("raw_len", len(raw)).Msg("tool arguments failed to parse, degrading to empty input")
		return map[string]any{}
	}
	return input
}
