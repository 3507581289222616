// Package server exposes the resolver over HTTP.
//
// Routes:
//
//	POST /api/resolve      {"text": "..."} -> {"images": [...]}
//	GET  /api/proxy-image  image proxy, see package proxy (path configurable)
//	GET  /metrics          Prometheus metrics
//	GET  /healthz          liveness
//
// Every resolve request runs in its own collector session, so concurrent
// requests never share state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nao1215/imgref/internal/cleaner"
	"github.com/nao1215/imgref/internal/model"
	"github.com/nao1215/imgref/internal/resolver"
)

// DefaultMaxBodySize caps the size of a resolve request body.
const DefaultMaxBodySize = 1 << 20 // 1MB

const shutdownTimeout = 10 * time.Second

// ResolveRequest is the body of POST /api/resolve.
type ResolveRequest struct {
	// Text is the assistant message to resolve.
	Text string `json:"text"`

	// Name labels the document in logs. Optional.
	Name string `json:"name,omitempty"`

	// Clean also returns the text with image references removed.
	Clean bool `json:"clean,omitempty"`
}

// ResolveResponse is the body returned by POST /api/resolve.
type ResolveResponse struct {
	ID          string                 `json:"id"`
	Images      []model.ImageReference `json:"images"`
	Candidates  int                    `json:"candidates"`
	Rejected    int                    `json:"rejected"`
	CleanedText string                 `json:"cleaned_text,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the HTTP API.
type Server struct {
	resolver    *resolver.Resolver
	cleaner     *cleaner.Cleaner
	proxy       http.Handler
	proxyPath   string
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	maxBodySize int64
	mux         *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProxy mounts the image proxy handler at path.
func WithProxy(path string, h http.Handler) Option {
	return func(s *Server) {
		s.proxyPath = path
		s.proxy = h
	}
}

// WithCleaner enables the "clean" request field.
func WithCleaner(c *cleaner.Cleaner) Option {
	return func(s *Server) {
		s.cleaner = c
	}
}

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithMaxBodySize caps resolve request bodies.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodySize = n
		}
	}
}

// New creates a Server around r.
func New(r *resolver.Resolver, opts ...Option) *Server {
	s := &Server{
		resolver:    r,
		logger:      slog.Default(),
		maxBodySize: DefaultMaxBodySize,
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/resolve", s.handleResolve)
	if s.proxy != nil {
		s.mux.Handle(s.proxyPath, s.proxy)
	}
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root handler with tracing and request logging.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.logRequests(s.mux), "imgref")
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving HTTP API", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.URL.Path != "/healthz" {
			s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	var req ResolveRequest
	body := http.MaxBytesReader(w, r.Body, s.maxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	name := req.Name
	if name == "" {
		name = "request"
	}
	res := s.resolver.Resolve(model.NewDocument(name, req.Text))

	resp := ResolveResponse{
		ID:         res.ID,
		Images:     res.Images,
		Candidates: res.Candidates,
		Rejected:   res.Rejected,
	}
	if req.Clean && s.cleaner != nil {
		resp.CleanedText = s.cleaner.Clean(req.Text)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
