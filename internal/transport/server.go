// ABOUTME: HTTP server wiring the websocket endpoint and health checks
// ABOUTME: Owns component construction and graceful shutdown

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/enkrip/parley/internal/auth"
	"github.com/enkrip/parley/internal/config"
	"github.com/enkrip/parley/internal/conversation"
	"github.com/enkrip/parley/internal/history"
	"github.com/enkrip/parley/internal/registry"
)

const shutdownTimeout = 10 * time.Second

// Server composes the registry, conversation router, history collaborators
// and the websocket transport behind a single HTTP listener.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	registry     *registry.Registry
	store        *conversation.Store
	router       *conversation.Router
	recorder     *history.AsyncRecorder
	historyStore history.Store
	httpServer   *http.Server
}

// NewServer builds a fully wired server from configuration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	historyStore, err := history.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening history store: %w", err)
	}

	reg := registry.New(logger)
	store := conversation.NewStore()
	recorder := history.NewAsyncRecorder(historyStore, logger)
	router := conversation.NewRouter(store, reg, reg, recorder, logger)

	var verifier auth.IdentityVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger.With("component", "server"),
		registry:     reg,
		store:        store,
		router:       router,
		recorder:     recorder,
		historyStore: historyStore,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", NewHandler(reg, router, verifier, cfg.Transport, logger))
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	return s, nil
}

// Run serves until ctx is cancelled or the listener fails, then shuts down
// gracefully: HTTP first, then in-flight history appends, then the store.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.HTTPAddr, err)
	}

	s.logger.Info("listening", "http_addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownErr := s.shutdown()
	if serveErr != nil {
		return serveErr
	}
	return shutdownErr
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down")

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	s.recorder.Wait()
	if err := s.historyStore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing history store: %w", err))
	}

	return errors.Join(errs...)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"connections": s.registry.ConnectionCount(),
		"reachable":   s.registry.Reachable(),
	})
}
