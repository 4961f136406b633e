// Package api provides HTTP handlers and the main service logic for LeadPipe.
//
// It exposes the lead webhook that drives conversation turns, read-only
// views of the pattern library and delivery receipts, and a health probe.
// The server is a thin shell over the engine: every decision happens in the
// conversation pipeline, and outbound delivery rides the durable outbox
// rather than the HTTP response path. Run assembles the full service from
// module options and blocks until shutdown.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/engine"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// Default configuration constants for the API server.
const (
	// DefaultAddr is the listen address used when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown of in-flight requests.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultReadHeaderTimeout bounds how long a client may dribble headers.
	DefaultReadHeaderTimeout = 10 * time.Second

	// APIKeyHeader is the request header carrying the client API key.
	APIKeyHeader = "X-API-Key"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	APIKey   string
	StateDir string
	Channel  string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithAPIKey sets the key clients must present in the X-API-Key header.
// An empty key leaves the endpoints unauthenticated.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithStateDir sets the directory for lock and state files.
func WithStateDir(dir string) Option {
	return func(o *Opts) {
		o.StateDir = dir
	}
}

// WithChannel selects the outbound messaging transport: "twilio",
// "whatsapp", or "none".
func WithChannel(channel string) Option {
	return func(o *Opts) {
		o.Channel = channel
	}
}

// Server wires the engine and store behind the HTTP endpoints.
type Server struct {
	engine *engine.Engine
	st     store.Store

	addr    string
	apiKey  string
	mux     *http.ServeMux
	httpSrv *http.Server
}

// NewServer creates the API server. Address and API key fall back to the
// LEADPIPE_API_ADDR and LEADPIPE_API_KEY environment variables.
func NewServer(eng *engine.Engine, st store.Store, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("LEADPIPE_API_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LEADPIPE_API_KEY")
	}

	s := &Server{
		engine: eng,
		st:     st,
		addr:   cfg.Addr,
		apiKey: cfg.APIKey,
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("/webhook", s.requireAPIKey(s.webhookHandler))
	s.mux.HandleFunc("/patterns", s.requireAPIKey(s.patternsHandler))
	s.mux.HandleFunc("/receipts", s.requireAPIKey(s.receiptsHandler))
	s.mux.HandleFunc("/health", s.healthHandler)

	if s.apiKey == "" {
		slog.Warn("Server.NewServer: no API key configured, endpoints are unauthenticated")
	}
	return s
}

// MountWebhook attaches a transport's inbound webhook, e.g. the Twilio SMS
// callback. Transports authenticate their own way (signatures, not API
// keys), so mounted webhooks bypass the API key check.
func (s *Server) MountWebhook(path string, handler http.HandlerFunc) {
	s.mux.HandleFunc(path, handler)
	slog.Info("Server.MountWebhook: transport webhook mounted", "path", path)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the listen address and begins serving in the background.
// Bind failures surface immediately; serve failures after that are logged.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	go func() {
		slog.Info("Server.Start: API server listening", "addr", s.addr)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Start: serve failed", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, waiting up to
// DefaultShutdownTimeout for in-flight requests.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	slog.Info("Server.Stop: API server stopped")
	return nil
}

// requireAPIKey rejects requests whose X-API-Key header does not match the
// configured key. The comparison is constant time. With no key configured
// the check is a no-op.
func (s *Server) requireAPIKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			provided := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(provided), []byte(s.apiKey)) != 1 {
				slog.Warn("Server.requireAPIKey: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
				writeJSONResponse(w, http.StatusUnauthorized, models.Error("Invalid or missing API key"))
				return
			}
		}
		next(w, r)
	}
}
