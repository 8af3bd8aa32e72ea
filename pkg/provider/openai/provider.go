package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/datachat-io/datachat/pkg/chat"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/retry"
)

// Provider adapts the OpenAI chat completion streaming API to the
// provider.Provider boundary.
type Provider struct {
	client *go_openai.Client
}

type Option func(*Provider)

func WithClient(client *go_openai.Client) Option {
	return func(p *Provider) { p.client = client }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(apiKey, baseURL string) Option {
	return func(p *Provider) {
		cfg := go_openai.DefaultConfig(apiKey)
		cfg.BaseURL = baseURL
		p.client = go_openai.NewClientWithConfig(cfg)
	}
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		client: go_openai.NewClient(apiKey),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var _ provider.Provider = (*Provider)(nil)

func (p *Provider) Stream(ctx context.Context, req provider.Request, onEvent func(provider.StreamEvent) error) error {
	oaReq := go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: buildMessages(req),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		oaReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		oaReq.Tools = append(oaReq.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema,
			},
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, oaReq)
	if err != nil {
		return classify(err)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close completion stream")
		}
	}()

	chunkCount := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Int("chunks_received", chunkCount).Msg("completion stream finished")
			return onEvent(provider.StreamEvent{Type: provider.StreamEventDone})
		}
		if err != nil {
			log.Error().Err(err).Int("chunks_received", chunkCount).Msg("completion stream receive failed")
			return classify(err)
		}
		chunkCount++

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if err := onEvent(provider.StreamEvent{Type: provider.StreamEventText, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			ev := provider.StreamEvent{
				Type:         provider.StreamEventToolCallDelta,
				Index:        index,
				ToolCallID:   tc.ID,
				ToolName:     tc.Function.Name,
				ArgsFragment: tc.Function.Arguments,
			}
			if err := onEvent(ev); err != nil {
				return err
			}
		}

		if choice.FinishReason != "" && choice.FinishReason != go_openai.FinishReasonNull {
			if err := onEvent(provider.StreamEvent{Type: provider.StreamEventDone, StopReason: string(choice.FinishReason)}); err != nil {
				return err
			}
			return nil
		}
	}
}

func buildMessages(req provider.Request) []go_openai.ChatCompletionMessage {
	var out []go_openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case chat.RoleAssistant:
			msg := go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: m.Text(),
			}
			for _, b := range m.ToolUses() {
				args, _ := json.Marshal(b.Input)
				msg.ToolCalls = append(msg.ToolCalls, go_openai.ToolCall{
					ID:   b.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)
		case chat.RoleUser:
			// Tool results ride in their own role-tool messages; plain text
			// stays a user message.
			hasToolResult := false
			for _, b := range m.Content {
				if b.Type == chat.BlockTypeToolResult {
					hasToolResult = true
					out = append(out, go_openai.ChatCompletionMessage{
						Role:       go_openai.ChatMessageRoleTool,
						Content:    b.Content,
						ToolCallID: b.ToolUseID,
					})
				}
			}
			if text := m.Text(); text != "" || !hasToolResult {
				out = append(out, go_openai.ChatCompletionMessage{
					Role:    go_openai.ChatMessageRoleUser,
					Content: text,
				})
			}
		}
	}
	return out
}

// classify marks rate limits, server-side failures and transport errors as
// transient so the orchestrator's retry policy picks them up.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError {
			return retry.MarkTransient(err)
		}
		return err
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError {
			return retry.MarkTransient(err)
		}
		return err
	}
	// Anything else at this layer is a network-level failure mid-stream.
	return retry.MarkTransient(err)
}
