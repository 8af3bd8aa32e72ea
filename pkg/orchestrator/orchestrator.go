package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/datachat-io/datachat/pkg/chat"
	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/markup"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/retry"
	"github.com/datachat-io/datachat/pkg/store"
	"github.com/datachat-io/datachat/pkg/telemetry"
	"github.com/datachat-io/datachat/pkg/tools"
)

// DefaultMaxTurns caps the tool-use loop. The loop has no natural bound (the
// model decides when to stop calling tools), so exceeding the cap is treated
// as a fatal error rather than silently truncating.
const DefaultMaxTurns = 12

// ErrMaxTurns is returned when an exchange exceeds the turn ceiling.
var ErrMaxTurns = errors.New("exchange exceeded maximum number of turns")

// ToolResultHook observes every settled tool call; the pipeline coordinator
// uses it to collect phase-1 data.
type ToolResultHook func(call tools.Call, result tools.Result)

// Orchestrator runs the multi-turn loop for one exchange: call the model,
// run any requested tools through the gateway, append results, repeat until
// a turn produces no tool calls.
//
// A single orchestrator instance exclusively owns its conversation state for
// the lifetime of one exchange.
type Orchestrator struct {
	provider provider.Provider
	gateway  *tools.Gateway
	policy   retry.Policy

	model            string
	system           string
	maxTurns         int
	turnTimeout      time.Duration
	includeSynthetic bool
	frameFor         func(string) events.Frame
	toolResultHook   ToolResultHook
	turnTextHook     func(text string)
}

type Option func(*Orchestrator)

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

func WithSystemPrompt(system string) Option {
	return func(o *Orchestrator) { o.system = system }
}

func WithMaxTurns(n int) Option {
	return func(o *Orchestrator) { o.maxTurns = n }
}

// WithTurnTimeout bounds each individual model call. The upstream design had
// no per-call bound, only retries on explicit transient errors.
func WithTurnTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.turnTimeout = d }
}

// WithoutSyntheticTools restricts the exchange to remote data tools only,
// used by the data-gathering phase of the two-phase pipeline.
func WithoutSyntheticTools() Option {
	return func(o *Orchestrator) { o.includeSynthetic = false }
}

// WithTextFrame selects the frame type text deltas are wrapped in.
func WithTextFrame(frameFor func(string) events.Frame) Option {
	return func(o *Orchestrator) { o.frameFor = frameFor }
}

func WithToolResultHook(hook ToolResultHook) Option {
	return func(o *Orchestrator) { o.toolResultHook = hook }
}

// WithTurnTextHook observes the full text of every turn that went on to call
// tools; the pipeline coordinator uses it so interim narration reaches the
// collected-data buffer, not just the final turn's text.
func WithTurnTextHook(hook func(text string)) Option {
	return func(o *Orchestrator) { o.turnTextHook = hook }
}

func New(p provider.Provider, gateway *tools.Gateway, model string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:         p,
		gateway:          gateway,
		policy:           retry.DefaultPolicy(),
		model:            model,
		maxTurns:         DefaultMaxTurns,
		includeSynthetic: true,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunExchange drives the loop to completion, emitting progress frames but no
// terminal frame; terminal handling belongs to the caller so that composed
// orchestrations (pipeline, comparison columns) produce exactly one terminal
// frame per stream. It returns the final turn's text.
func (o *Orchestrator) RunExchange(ctx context.Context, state *chat.State, emitter events.Emitter) (string, error) {
	gateway := o.gateway.WithEmitterOverride(emitter)

	catalog, err := gateway.Catalog(ctx, o.includeSynthetic)
	if err != nil {
		return "", err
	}
	specs := make([]provider.ToolSpec, 0, len(catalog))
	for _, d := range catalog {
		specs = append(specs, provider.ToolSpec{Name: d.Name, Description: d.Description, Schema: d.Schema})
	}

	executor := NewTurnExecutor(o.provider, o.frameFor)

	for turn := 0; turn < o.maxTurns; turn++ {
		log.Debug().Int("turn", turn+1).Str("model", o.model).Msg("starting model turn")

		result, err := o.runTurnWithRetry(ctx, executor, state, specs, emitter)
		if err != nil {
			telemetry.Turns.WithLabelValues("error").Inc()
			return "", err
		}
		telemetry.Turns.WithLabelValues("ok").Inc()

		if len(result.ToolCalls) == 0 {
			return result.Text(), nil
		}

		if o.turnTextHook != nil && strings.TrimSpace(result.Text()) != "" {
			o.turnTextHook(result.Text())
		}

		// Narration the executor withheld after the first tool call is
		// replayed ahead of the tool_start frames, so clients see it as part
		// of the turn's activity rather than the final answer.
		for _, seg := range result.TextSegments[result.StreamedSegments:] {
			if err := emitter.Emit(o.textFrame(seg)); err != nil {
				return "", err
			}
		}

		results, err := o.runToolPhase(ctx, gateway, result.ToolCalls, emitter)
		if err != nil {
			return "", err
		}

		// One assistant message with all text and tool_use blocks, one user
		// message with all tool_result blocks. The conversation never holds
		// an unanswered tool call across a model call boundary.
		var assistantBlocks []chat.ContentBlock
		for _, seg := range result.TextSegments {
			assistantBlocks = append(assistantBlocks, chat.NewTextBlock(seg))
		}
		for _, call := range result.ToolCalls {
			assistantBlocks = append(assistantBlocks, chat.NewToolUseBlock(call.ID, call.Name, call.Input))
		}
		var resultBlocks []chat.ContentBlock
		for _, r := range results {
			resultBlocks = append(resultBlocks, chat.NewToolResultBlock(r.ToolUseID, r.Content, r.IsError))
		}
		state.Append(
			chat.NewAssistantMessage(assistantBlocks...),
			chat.Message{Role: chat.RoleUser, Content: resultBlocks},
		)
	}

	log.Warn().Int("max_turns", o.maxTurns).Msg("tool-use loop hit the turn ceiling")
	return "", ErrMaxTurns
}

// textFrame wraps text in the orchestration's configured frame type.
func (o *Orchestrator) textFrame(text string) events.Frame {
	if o.frameFor != nil {
		return o.frameFor(text)
	}
	return events.NewTextFrame(text)
}

// runTurnWithRetry executes one turn, retrying transient stream failures
// with the configured policy. A failed partial turn is discarded entirely;
// each attempt rebuilds the request from the conversation state.
func (o *Orchestrator) runTurnWithRetry(ctx context.Context, executor *TurnExecutor, state *chat.State, specs []provider.ToolSpec, emitter events.Emitter) (*TurnResult, error) {
	var result *TurnResult

	op := func() error {
		req := provider.Request{
			Model:    o.model,
			System:   o.system,
			Messages: state.Messages(),
			Tools:    specs,
		}

		turnCtx := ctx
		if o.turnTimeout > 0 {
			var cancel context.CancelFunc
			turnCtx, cancel = context.WithTimeout(ctx, o.turnTimeout)
			defer cancel()
		}

		r, err := executor.Execute(turnCtx, req, emitter)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	onRetry := func(s retry.State, delay time.Duration) {
		telemetry.Retries.Inc()
		notice := fmt.Sprintf("\n\n_Connection interrupted, retrying (attempt %d of %d)..._\n\n", s.Attempt, o.policy.MaxRetries)
		if err := emitter.Emit(o.textFrame(notice)); err != nil {
			log.Warn().Err(err).Msg("failed to emit retry notice")
		}
	}

	if err := o.policy.Run(ctx, op, onRetry); err != nil {
		return nil, err
	}
	return result, nil
}

// runToolPhase fans the turn's calls out to the gateway concurrently and
// waits for all of them to settle. Partial failures degrade to error
// tool-results; they never abort sibling calls.
func (o *Orchestrator) runToolPhase(ctx context.Context, gateway *tools.Gateway, calls []tools.Call, emitter events.Emitter) ([]tools.Result, error) {
	for _, call := range calls {
		if err := emitter.Emit(events.NewToolStartFrame(call.Name, call.Input)); err != nil {
			return nil, err
		}
	}

	results := make([]tools.Result, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			results[i] = gateway.Execute(gctx, call)
			return nil
		})
	}
	// Execute never returns an error; Wait only propagates context
	// cancellation through gctx.
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	for i, call := range calls {
		if o.toolResultHook != nil {
			o.toolResultHook(call, results[i])
		}
		if err := emitter.Emit(events.NewToolEndFrame(call.Name)); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// Run executes a standalone exchange end to end, including terminal frames:
// document persistence and content_saved on success, error+done on fatal
// failure, cancelled on cooperative cancellation. Partial output already
// streamed is never retracted.
func (o *Orchestrator) Run(ctx context.Context, state *chat.State, emitter events.Emitter, docs store.Store) {
	finalText, err := o.RunExchange(ctx, state, emitter)
	FinishExchange(ctx, emitter, docs, "standalone", finalText, err)
}

// FinishExchange emits the terminal frame sequence for an exchange outcome,
// persisting a completed generated document first when one is present.
func FinishExchange(ctx context.Context, emitter events.Emitter, docs store.Store, mode, finalText string, err error) {
	emit := func(f events.Frame) {
		if emitErr := emitter.Emit(f); emitErr != nil {
			log.Warn().Err(emitErr).Str("type", string(f.Type)).Msg("failed to emit terminal frame")
		}
	}

	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)):
		telemetry.Exchanges.WithLabelValues(mode, "cancelled").Inc()
		emit(events.NewCancelledFrame())
		return
	case err != nil:
		telemetry.Exchanges.WithLabelValues(mode, "error").Inc()
		emit(events.NewErrorFrame(err))
		emit(events.NewDoneFrame())
		return
	}

	if docs != nil {
		if _, doc, _, found := markup.Extract(finalText); found && markup.Complete(doc) {
			// Persistence failures append an explanatory note rather than
			// failing an otherwise-successful exchange.
			id, saveErr := docs.Save(ctx, doc)
			if saveErr != nil {
				log.Error().Err(saveErr).Msg("failed to persist generated document")
				emit(events.NewTextFrame("\n\n_The generated report could not be saved for sharing._"))
			} else {
				emit(events.NewContentSavedFrame(id))
			}
		}
	}

	telemetry.Exchanges.WithLabelValues(mode, "done").Inc()
	emit(events.NewDoneFrame())
}
