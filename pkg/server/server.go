// Package server exposes the chat orchestration over HTTP: a streaming chat
// endpoint, saved-content retrieval, health and metrics.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/datachat-io/datachat/pkg/provider"
	"github.com/datachat-io/datachat/pkg/retry"
	"github.com/datachat-io/datachat/pkg/store"
	"github.com/datachat-io/datachat/pkg/tools"
)

type Server struct {
	provider provider.Provider
	gateway  *tools.Gateway
	docs     store.Store
	policy   retry.Policy

	addr           string
	defaultModel   string
	allowedOrigins []string
	turnTimeout    time.Duration
	maxTurns       int

	httpSrv *http.Server
}

type Option func(*Server)

func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

func WithDefaultModel(model string) Option {
	return func(s *Server) { s.defaultModel = model }
}

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Server) { s.policy = p }
}

func WithTurnTimeout(d time.Duration) Option {
	return func(s *Server) { s.turnTimeout = d }
}

func WithMaxTurns(n int) Option {
	return func(s *Server) { s.maxTurns = n }
}

func New(p provider.Provider, gateway *tools.Gateway, docs store.Store, opts ...Option) *Server {
	s := &Server{
		provider:       p,
		gateway:        gateway,
		docs:           docs,
		policy:         retry.DefaultPolicy(),
		addr:           ":8080",
		defaultModel:   "gpt-4o",
		allowedOrigins: []string{"*"},
		maxTurns:       12,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the full route table. Exposed separately from Start so tests
// can drive it through httptest.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/content/{id}", s.handleContent).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Start serves until ctx is cancelled, then shuts down gracefully. In-flight
// chat streams get a grace period to emit their cancelled frame.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http server listening")
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}
