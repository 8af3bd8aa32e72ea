package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/chat"
	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/retry"
	"github.com/datachat-io/datachat/pkg/store"
	"github.com/datachat-io/datachat/pkg/tools"
)

// Pipeline composes two orchestrators in sequence: a data-gathering phase
// restricted to remote data tools, whose text and tool results feed a
// report-generation phase that has no tool access at all.
//
// The client tells the phases apart by frame type: phase 1 streams
// intermediate_text and intermediate_output, phase 2 streams the final
// answer as plain text.
type Pipeline struct {
	provider provider.Provider
	gateway  *tools.Gateway
	policy   retry.Policy

	gatherModel  string
	reportModel  string
	gatherSystem string
	reportSystem string
	maxTurns     int
}

type PipelineOption func(*Pipeline)

func WithPipelineRetryPolicy(p retry.Policy) PipelineOption {
	return func(pl *Pipeline) { pl.policy = p }
}

func WithGatherSystemPrompt(s string) PipelineOption {
	return func(pl *Pipeline) { pl.gatherSystem = s }
}

func WithReportSystemPrompt(s string) PipelineOption {
	return func(pl *Pipeline) { pl.reportSystem = s }
}

func WithPipelineMaxTurns(n int) PipelineOption {
	return func(pl *Pipeline) { pl.maxTurns = n }
}

func NewPipeline(p provider.Provider, gateway *tools.Gateway, gatherModel, reportModel string, opts ...PipelineOption) *Pipeline {
	pl := &Pipeline{
		provider:    p,
		gateway:     gateway,
		policy:      retry.DefaultPolicy(),
		gatherModel: gatherModel,
		reportModel: reportModel,
		maxTurns:    DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(pl)
	}
	return pl
}

// collector accumulates everything phase 1 produces into one data buffer.
type collector struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *collector) addText(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(text)
	c.buf.WriteString("\n")
}

func (c *collector) addToolResult(call tools.Call, result tools.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(&c.buf, "\n\n[%s result]\n%s\n", call.Name, result.Content)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Run executes both phases and the terminal frame sequence. Failure in
// phase 1 aborts the whole exchange; failure in phase 2 after phase 1
// succeeded is also terminal, but intermediate content already streamed
// stays visible on the client.
func (pl *Pipeline) Run(ctx context.Context, question string, emitter events.Emitter, docs store.Store) {
	finalText, err := pl.run(ctx, question, emitter)
	FinishExchange(ctx, emitter, docs, "pipeline", finalText, err)
}

func (pl *Pipeline) run(ctx context.Context, question string, emitter events.Emitter) (string, error) {
	collected := &collector{}

	gather := New(pl.provider, pl.gateway, pl.gatherModel,
		WithRetryPolicy(pl.policy),
		WithSystemPrompt(pl.gatherSystem),
		WithMaxTurns(pl.maxTurns),
		WithoutSyntheticTools(),
		WithTextFrame(func(s string) events.Frame { return events.NewIntermediateTextFrame(s) }),
		// Interim narration from tool-calling turns belongs in the buffer
		// alongside the tool results it explains.
		WithTurnTextHook(collected.addText),
		WithToolResultHook(func(call tools.Call, result tools.Result) {
			collected.addToolResult(call, result)
			if emitErr := emitter.Emit(events.NewIntermediateOutputFrame(call.Name, result.Content)); emitErr != nil {
				log.Warn().Err(emitErr).Msg("failed to emit intermediate output")
			}
		}),
	)

	gatherState := chat.NewState(chat.NewUserMessage(question))
	gatherText, err := gather.RunExchange(ctx, gatherState, emitter)
	if err != nil {
		return "", errors.Wrap(err, "data-gathering phase failed")
	}
	collected.addText(gatherText)

	// Phase 2 runs even over an empty buffer: the report model explains the
	// absence of data instead of the exchange silently producing nothing.
	report := New(pl.provider, pl.gateway, pl.reportModel,
		WithRetryPolicy(pl.policy),
		WithSystemPrompt(pl.reportSystem),
		WithMaxTurns(1),
		WithoutSyntheticTools(),
	)
	// Zero tools for the report phase: override the gateway catalog by
	// running against an empty gateway.
	report.gateway = tools.NewGateway(tools.NewAccessPolicy(nil))

	reportState := chat.NewState(chat.NewUserMessage(reportPrompt(question, collected.String())))
	finalText, err := report.RunExchange(ctx, reportState, emitter)
	if err != nil {
		return "", errors.Wrap(err, "report-generation phase failed")
	}
	return finalText, nil
}

func reportPrompt(question, data string) string {
	var sb strings.Builder
	sb.WriteString("Original question:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nCollected data:\n")
	if strings.TrimSpace(data) == "" {
		sb.WriteString("(no data was collected)\n")
	} else {
		sb.WriteString(data)
	}
	sb.WriteString("\nWrite the final report answering the original question from the collected data above.")
	return sb.String()
}
