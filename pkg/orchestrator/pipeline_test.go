package orchestrator

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/retry"
	"github.com/datachat-io/datachat/pkg/store"
)

func TestPipelineTwoPhases(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.StreamEvent{
		// Phase 1: gather with one query.
		{
			text("pulling the revenue numbers"),
			toolDelta(0, "tc_1", "execute_query", `{"source": "sales", "sql": "SELECT 1"}`),
			done("tool_calls"),
		},
		{text("data collected"), done("stop")},
		// Phase 2: report from the collected data.
		{text("Revenue is led by EMEA."), done("stop")},
	}}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	var sink events.CollectingEmitter
	pl.Run(context.Background(), "revenue by region?", &sink, store.NewMemoryStore())

	types := frameTypes(sink.Frames())

	// Phase 1 narration arrives as intermediate frames, the report as text.
	assert.Contains(t, types, events.FrameTypeIntermediateText)
	assert.Contains(t, types, events.FrameTypeIntermediateOutput)
	assert.Contains(t, types, events.FrameTypeText)
	assert.Equal(t, events.FrameTypeDone, types[len(types)-1])

	// Exactly one terminal frame.
	terminals := 0
	for _, ft := range types {
		if ft == events.FrameTypeDone || ft == events.FrameTypeCancelled {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)

	// The report model saw the question and the collected tool output, and was
	// offered no tools.
	require.Len(t, p.requests, 3)
	reportReq := p.requests[2]
	assert.Empty(t, reportReq.Tools)
	prompt := reportReq.Messages[len(reportReq.Messages)-1].Text()
	assert.Contains(t, prompt, "revenue by region?")
	assert.Contains(t, prompt, "[execute_query result]")
	assert.Contains(t, prompt, "EMEA,42")

	// Phase 1 was offered the remote tools but not the synthetic ones.
	gatherReq := p.requests[0]
	var names []string
	for _, ts := range gatherReq.Tools {
		names = append(names, ts.Name)
	}
	assert.Contains(t, names, "execute_query")
	assert.NotContains(t, names, "generate_chart")
}

func TestPipelineCollectsInterimNarration(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.StreamEvent{
		{
			text("interim finding: EMEA leads all regions"),
			toolDelta(0, "tc_1", "execute_query", `{"source": "sales", "sql": "SELECT 1"}`),
			done("tool_calls"),
		},
		{text("data collected"), done("stop")},
		{text("report"), done("stop")},
	}}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	var sink events.CollectingEmitter
	pl.Run(context.Background(), "q", &sink, store.NewMemoryStore())

	// Narration from every gather turn reaches the report prompt, not just
	// the final turn's text.
	require.Len(t, p.requests, 3)
	prompt := p.requests[2].Messages[0].Text()
	assert.Contains(t, prompt, "interim finding: EMEA leads all regions")
	assert.Contains(t, prompt, "[execute_query result]")
	assert.Contains(t, prompt, "data collected")
}

func TestPipelineEmptyGatherStillRunsReport(t *testing.T) {
	p := &scriptedProvider{turns: [][]provider.StreamEvent{
		{done("stop")},
		{text("No data was available to answer this."), done("stop")},
	}}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	var sink events.CollectingEmitter
	pl.Run(context.Background(), "q", &sink, store.NewMemoryStore())

	require.Len(t, p.requests, 2)
	prompt := p.requests[1].Messages[0].Text()
	assert.Contains(t, prompt, "(no data was collected)")

	types := frameTypes(sink.Frames())
	assert.Equal(t, events.FrameTypeDone, types[len(types)-1])
}

func TestPipelineGatherFailureAborts(t *testing.T) {
	p := &scriptedProvider{
		turns: [][]provider.StreamEvent{{}},
		errs:  []error{errors.New("gather model unavailable")},
	}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	var sink events.CollectingEmitter
	pl.Run(context.Background(), "q", &sink, store.NewMemoryStore())

	// The report phase never ran.
	assert.Len(t, p.requests, 1)

	types := frameTypes(sink.Frames())
	require.Len(t, types, 2)
	assert.Equal(t, events.FrameTypeError, types[0])
	assert.Equal(t, events.FrameTypeDone, types[1])
}

func TestPipelinePersistsReportDocument(t *testing.T) {
	doc := "<!DOCTYPE html>\n<html><body>quarterly</body></html>"
	p := &scriptedProvider{turns: [][]provider.StreamEvent{
		{text("collected"), done("stop")},
		{text(doc), done("stop")},
	}}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	docs := store.NewMemoryStore()
	var sink events.CollectingEmitter
	pl.Run(context.Background(), "q", &sink, docs)

	var savedID string
	for _, f := range sink.Frames() {
		if f.Type == events.FrameTypeContentSaved {
			savedID = f.SavedID
		}
	}
	require.NotEmpty(t, savedID)
	stored, err := docs.Get(context.Background(), savedID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "<!DOCTYPE html>"))
}

func TestPipelineRetryPolicyApplies(t *testing.T) {
	p := &scriptedProvider{
		turns: [][]provider.StreamEvent{
			{},
			{text("collected"), done("stop")},
			{text("report"), done("stop")},
		},
		errs: []error{retry.MarkTransient(errors.New("dropped"))},
	}
	pl := NewPipeline(p, newTestGateway(queryRemote()), "gather-model", "report-model",
		WithPipelineRetryPolicy(fastPolicy()))

	var sink events.CollectingEmitter
	pl.Run(context.Background(), "q", &sink, store.NewMemoryStore())

	require.Len(t, p.requests, 3)
	types := frameTypes(sink.Frames())
	assert.Equal(t, events.FrameTypeDone, types[len(types)-1])
}
