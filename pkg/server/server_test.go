package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat/pkg/events"
	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/store"
	"github.com/datachat-io/datachat/pkg/tools"
)

// echoProvider answers every call with a short text that names the model, so
// compare columns can be told apart. Safe for concurrent streams.
type echoProvider struct{}

func (echoProvider) Stream(_ context.Context, req provider.Request, onEvent func(provider.StreamEvent) error) error {
	if err := onEvent(provider.StreamEvent{Type: provider.StreamEventText, Text: "answer from " + req.Model}); err != nil {
		return err
	}
	return onEvent(provider.StreamEvent{Type: provider.StreamEventDone, StopReason: "stop"})
}

type staticRemote struct{}

func (staticRemote) Tools(context.Context) ([]tools.Definition, error) {
	return []tools.Definition{{Name: "execute_query", Description: "run sql"}}, nil
}

func (staticRemote) Call(context.Context, string, map[string]any) (string, error) {
	return "ok", nil
}

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	docs := store.NewMemoryStore()
	gateway := tools.NewGateway(tools.NewAccessPolicy([]string{"sales"}), tools.WithRemoteProvider(staticRemote{}))
	return New(echoProvider{}, gateway, docs, WithDefaultModel("test-model")), docs
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func parseStream(t *testing.T, body string) []events.Frame {
	t.Helper()
	var frames []events.Frame
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		f, err := events.ParseFrame(scanner.Bytes())
		require.NoError(t, err)
		frames = append(frames, f)
	}
	return frames
}

func TestChatRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed")
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [], "model": "m"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRejectsUnknownRole(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [{"role": "user", "content": "x"}, {"role": "system", "content": "y"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown message role")
}

func TestChatStandaloneStreamsFrames(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [{"role": "user", "content": "hi"}], "model": "gpt-4o"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	frames := parseStream(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, events.FrameTypeText, frames[0].Type)
	assert.Equal(t, "answer from gpt-4o", frames[0].Text)
	assert.Equal(t, events.FrameTypeDone, frames[len(frames)-1].Type)
}

func TestChatDefaultsModel(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [{"role": "user", "content": "hi"}]}`)

	frames := parseStream(t, rec.Body.String())
	require.NotEmpty(t, frames)
	assert.Equal(t, "answer from test-model", frames[0].Text)
}

func TestChatCompareTagsColumnsAndEndsOnce(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [{"role": "user", "content": "hi"}], "model": "compare:model-a,model-b"}`)

	frames := parseStream(t, rec.Body.String())
	require.NotEmpty(t, frames)

	textByColumn := map[string]string{}
	terminals := 0
	for _, f := range frames {
		switch f.Type {
		case events.FrameTypeText:
			textByColumn[f.Column] += f.Text
		case events.FrameTypeDone, events.FrameTypeCancelled:
			terminals++
			assert.Empty(t, f.Column, "the terminal frame belongs to the stream, not a column")
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, "answer from model-a", textByColumn["model-a"])
	assert.Equal(t, "answer from model-b", textByColumn["model-b"])
	assert.Equal(t, events.FrameTypeDone, frames[len(frames)-1].Type)
}

func TestChatPipelineRouting(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := postChat(t, srv.Handler(), `{"messages": [{"role": "user", "content": "hi"}], "model": "pipeline:worker-model"}`)

	frames := parseStream(t, rec.Body.String())
	require.NotEmpty(t, frames)

	// Phase 1 output arrives as intermediate text, the report as plain text.
	var sawIntermediate, sawText bool
	for _, f := range frames {
		switch f.Type {
		case events.FrameTypeIntermediateText:
			sawIntermediate = true
		case events.FrameTypeText:
			sawText = true
		}
	}
	assert.True(t, sawIntermediate)
	assert.True(t, sawText)
	assert.Equal(t, events.FrameTypeDone, frames[len(frames)-1].Type)
}

func TestContentEndpoint(t *testing.T) {
	srv, docs := newTestServer(t)
	id, err := docs.Save(context.Background(), "<html><body>saved</body></html>")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/content/"+id, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "<html><body>saved</body></html>", rec.Body.String())
}

func TestContentEndpointNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/content/doesnotexist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
