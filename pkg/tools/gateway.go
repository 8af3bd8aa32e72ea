package tools

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/telemetry"
)

// enumerationToolName is the provider-advertised source enumeration tool,
// filtered from the catalog offered to the model: letting the model list
// databases defeats the allow-list.
const enumerationToolName = "list_databases"

// Gateway validates, dispatches and normalizes tool calls. It holds no state
// across calls.
type Gateway struct {
	policy  *AccessPolicy
	remote  RemoteProvider
	emitter events.Emitter
}

type GatewayOption func(*Gateway)

func WithRemoteProvider(remote RemoteProvider) GatewayOption {
	return func(g *Gateway) { g.remote = remote }
}

func WithEmitter(emitter events.Emitter) GatewayOption {
	return func(g *Gateway) { g.emitter = emitter }
}

func NewGateway(policy *AccessPolicy, opts ...GatewayOption) *Gateway {
	g := &Gateway{policy: policy}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithEmitterOverride returns a shallow copy of the gateway bound to a
// different emitter, used per exchange so synthetic frames land on the right
// stream.
func (g *Gateway) WithEmitterOverride(emitter events.Emitter) *Gateway {
	cp := *g
	cp.emitter = emitter
	return &cp
}

// Catalog returns the tools offered to the model: the dynamically discovered
// remote tools minus the enumeration tool, plus (unless excluded) the two
// synthetic visualization tools.
func (g *Gateway) Catalog(ctx context.Context, includeSynthetic bool) ([]Definition, error) {
	var defs []Definition
	if g.remote != nil {
		remote, err := g.remote.Tools(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "discover remote tools")
		}
		for _, d := range remote {
			if d.Name == enumerationToolName {
				continue
			}
			defs = append(defs, d)
		}
	}
	if includeSynthetic {
		defs = append(defs, SyntheticDefinitions()...)
	}
	return defs, nil
}

// Execute runs one call to completion and never returns a Go error: every
// failure is folded into an error Result so the model can see and react to
// it, and sibling calls are unaffected.
func (g *Gateway) Execute(ctx context.Context, call Call) Result {
	if IsSynthetic(call.Name) {
		return g.executeSynthetic(call)
	}
	return g.executeRemote(ctx, call)
}

func (g *Gateway) executeSynthetic(call Call) Result {
	args, err := ParseSyntheticArgs(call)
	if err != nil {
		telemetry.ToolCalls.WithLabelValues(call.Name, "invalid").Inc()
		return NewErrorResult(call, err)
	}

	// The "result" of a synthetic tool is the act of emitting the frame; the
	// acknowledgment keeps the model's context aware the visual was produced.
	switch {
	case args.Chart != nil:
		if g.emitter != nil {
			if err := g.emitter.Emit(events.NewChartFrame(args.Chart)); err != nil {
				log.Warn().Err(err).Msg("failed to emit chart frame")
			}
		}
		telemetry.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
		return NewResult(call, chartAck)
	case args.Map != nil:
		if g.emitter != nil {
			if err := g.emitter.Emit(events.NewMapFrame(args.Map)); err != nil {
				log.Warn().Err(err).Msg("failed to emit map frame")
			}
		}
		telemetry.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
		return NewResult(call, mapAck)
	default:
		return NewErrorResult(call, errors.Errorf("unknown synthetic tool %q", call.Name))
	}
}

func (g *Gateway) executeRemote(ctx context.Context, call Call) Result {
	if g.remote == nil {
		return NewErrorResult(call, errors.Errorf("no remote tool provider configured for %q", call.Name))
	}

	if err := g.policy.Check(call); err != nil {
		telemetry.ToolDenials.WithLabelValues(call.Name).Inc()
		return NewErrorResult(call, err)
	}

	content, err := g.remote.Call(ctx, call.Name, call.Input)
	if err != nil {
		log.Warn().Err(err).Str("tool", call.Name).Msg("remote tool call failed")
		telemetry.ToolCalls.WithLabelValues(call.Name, "error").Inc()
		return NewErrorResult(call, errors.Wrapf(err, "tool %s failed", call.Name))
	}
	telemetry.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
	return NewResult(call, content)
}
