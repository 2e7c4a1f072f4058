// Package server exposes the daemon over a JSON HTTP API: the /ask query
// surface, the event queue and its approve/dismiss decisions, token usage,
// runtime configuration, inbound webhooks and the browser control plane.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/durgabridge/durga/pkg/durga/browser"
	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
	"github.com/durgabridge/durga/pkg/durga/poll"
	"github.com/durgabridge/durga/pkg/durga/state"
	"github.com/durgabridge/durga/pkg/durga/suggest"
)

// Deps carries the daemon components the API surfaces.
type Deps struct {
	Queue      *events.Queue
	Gate       *budget.Gate
	Store      *state.Store
	Manager    *poll.Manager
	Runner     suggest.Runner
	Supervisor *browser.Supervisor

	// Persist writes the full state snapshot after a mutation.
	Persist func()
}

// Server is the HTTP API server.
type Server struct {
	deps    Deps
	address string
	server  *http.Server
	logger  *slog.Logger
}

// New creates a server. The address defaults to ":3003".
func New(address string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if address == "" {
		address = ":3003"
	}
	if deps.Persist == nil {
		deps.Persist = func() {}
	}
	return &Server{
		deps:    deps,
		address: address,
		logger:  logger.With("component", "server"),
	}
}

// routes builds the full handler chain. Split out so tests can exercise
// the surface through httptest without binding a port.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ask", s.handleAsk)

	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/events/pending", s.handleEventsPending)
	mux.HandleFunc("/events/clear", s.handleEventsClear)
	mux.HandleFunc("/events/", s.handleEventDecision)

	mux.HandleFunc("/tokens", s.handleTokens)
	mux.HandleFunc("/config", s.handleConfig)

	mux.HandleFunc("/webhook/gmail", s.handleWebhook)
	mux.HandleFunc("/webhook/whatsapp", s.handleWebhook)
	mux.HandleFunc("/webhook/forms", s.handleWebhook)

	mux.HandleFunc("/inbox", s.handleInbox)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/browser/status", s.handleBrowserStatus)
	mux.HandleFunc("/browser/screenshot", s.handleBrowserScreenshot)
	mux.HandleFunc("/browser/pause", s.handleBrowserPause)
	mux.HandleFunc("/browser/resume", s.handleBrowserResume)
	mux.HandleFunc("/browser/stop", s.handleBrowserStop)
	mux.HandleFunc("/browser/take-control", s.handleBrowserTakeControl)
	mux.HandleFunc("/browser/return-control", s.handleBrowserReturnControl)
	mux.HandleFunc("/browser/action", s.handleBrowserAction)

	mux.HandleFunc("/", s.handleInfo)

	return s.corsMiddleware(mux)
}

// Start begins serving. Only a failure to bind the port is fatal; that
// error surfaces through the returned channel.
func (s *Server) Start(ctx context.Context) <-chan error {
	s.server = &http.Server{
		Addr:    s.address,
		Handler: s.routes(),
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server started", "address", s.address)
	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

// corsMiddleware allows the local dashboard to call the API from any
// origin, matching the rest of the service mesh.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
