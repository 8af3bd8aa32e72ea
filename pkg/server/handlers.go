package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/datachat-io/datachat/pkg/chat"
	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/orchestrator"
	"github.com/datachat-io/datachat/pkg/prompts"
	"github.com/datachat-io/datachat/pkg/store"
)

const (
	pipelinePrefix = "pipeline:"
	comparePrefix  = "compare:"

	// chatTopic is the publisher-manager topic the response stream listens on.
	chatTopic = "chat"
)

// ChatMessage is one prior conversation entry from the client. Only the text
// of the transcript crosses the wire; tool blocks are server-internal.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages        []ChatMessage `json:"messages"`
	Model           string        `json:"model,omitempty"`
	IsMobile        bool          `json:"isMobile,omitempty"`
	IncludeMetadata bool          `json:"includeMetadata,omitempty"`
}

func (req *ChatRequest) state() (*chat.State, error) {
	state := chat.NewState()
	for _, m := range req.Messages {
		switch m.Role {
		case "user":
			state.Append(chat.NewUserMessage(m.Content))
		case "assistant":
			state.Append(chat.NewAssistantMessage(chat.NewTextBlock(m.Content)))
		default:
			return nil, errors.Errorf("unknown message role %q", m.Role)
		}
	}
	return state, nil
}

func (req *ChatRequest) question() string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeJSONError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.question() == "" {
		writeJSONError(w, http.StatusBadRequest, "conversation has no user message")
		return
	}
	state, err := req.state()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	model := req.Model
	if model == "" {
		model = s.defaultModel
	}

	requestID := uuid.NewString()
	log.Info().Str("request_id", requestID).Str("model", model).Int("messages", len(req.Messages)).Msg("chat exchange started")

	// Reach the tool server before committing to a stream, so discovery
	// failures surface as a plain HTTP error instead of an in-band frame.
	if _, err := s.gateway.Catalog(r.Context(), true); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("tool discovery failed")
		writeJSONError(w, http.StatusInternalServerError, "tool discovery failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Request-Id", requestID)
	w.WriteHeader(http.StatusOK)

	// Frames flow through the publisher manager with the response stream
	// subscribed as a publisher. Extra sinks (audit, fan-out to a broker)
	// attach here without touching the orchestration layer.
	stream := events.NewStreamEmitter(w)
	emitter := events.NewPublisherManager()
	emitter.SubscribePublisher(chatTopic, events.NewEmitterPublisher(stream))

	ctx := r.Context()
	switch {
	case strings.HasPrefix(model, pipelinePrefix):
		s.runPipeline(ctx, strings.TrimPrefix(model, pipelinePrefix), &req, emitter)
	case strings.HasPrefix(model, comparePrefix):
		s.runCompare(ctx, strings.TrimPrefix(model, comparePrefix), state, emitter)
	default:
		s.runStandalone(ctx, model, &req, state, emitter)
	}
}

func (s *Server) runStandalone(ctx context.Context, model string, req *ChatRequest, state *chat.State, emitter events.Emitter) {
	o := orchestrator.New(s.provider, s.gateway, model,
		orchestrator.WithRetryPolicy(s.policy),
		orchestrator.WithSystemPrompt(prompts.Standalone(req.IsMobile)),
		orchestrator.WithMaxTurns(s.maxTurns),
		orchestrator.WithTurnTimeout(s.turnTimeout),
	)
	o.Run(ctx, state, emitter, s.docs)
}

func (s *Server) runPipeline(ctx context.Context, modelSpec string, req *ChatRequest, emitter events.Emitter) {
	gatherModel, reportModel := modelSpec, modelSpec
	if parts := strings.SplitN(modelSpec, ",", 2); len(parts) == 2 {
		gatherModel, reportModel = parts[0], parts[1]
	}

	pl := orchestrator.NewPipeline(s.provider, s.gateway, gatherModel, reportModel,
		orchestrator.WithPipelineRetryPolicy(s.policy),
		orchestrator.WithGatherSystemPrompt(prompts.Gather()),
		orchestrator.WithReportSystemPrompt(prompts.Report(req.IsMobile)),
		orchestrator.WithPipelineMaxTurns(s.maxTurns),
	)
	pl.Run(ctx, req.question(), emitter, s.docs)
}

// suppressTerminal drops per-column terminal frames so that the shared stream
// ends with exactly one terminal frame, written by runCompare itself. Error
// frames pass through; they are informational, not terminal.
type suppressTerminal struct {
	next events.Emitter
}

func (st suppressTerminal) Emit(f events.Frame) error {
	if f.IsTerminal() {
		return nil
	}
	return st.next.Emit(f)
}

// runCompare fans one question out to several models side by side. Columns
// are independent: one column failing does not stop the others, and each
// failure is reported in-band tagged with its column.
func (s *Server) runCompare(ctx context.Context, modelList string, state *chat.State, emitter events.Emitter) {
	var models []string
	for _, m := range strings.Split(modelList, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	if len(models) == 0 {
		orchestrator.FinishExchange(ctx, emitter, nil, "compare", "", errors.New("compare mode needs at least one model"))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, model := range models {
		col := &events.ColumnEmitter{Column: model, Next: suppressTerminal{next: emitter}}
		colState := chat.NewState(state.Messages()...)
		o := orchestrator.New(s.provider, s.gateway, model,
			orchestrator.WithRetryPolicy(s.policy),
			orchestrator.WithSystemPrompt(prompts.Standalone(false)),
			orchestrator.WithMaxTurns(s.maxTurns),
			orchestrator.WithTurnTimeout(s.turnTimeout),
		)
		g.Go(func() error {
			text, err := o.RunExchange(gctx, colState, col)
			orchestrator.FinishExchange(gctx, col, s.docs, "compare", text, err)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		_ = emitter.Emit(events.NewCancelledFrame())
		return
	}
	_ = emitter.Emit(events.NewDoneFrame())
}

func (s *Server) handleContent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	content, err := s.docs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "content not found or expired")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("content lookup failed")
		writeJSONError(w, http.StatusInternalServerError, "content lookup failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(content))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
