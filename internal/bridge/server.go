package bridge

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/fpt/agentbridge/internal/config"
	"github.com/fpt/agentbridge/internal/session"
	pkgLogger "github.com/fpt/agentbridge/pkg/logger"
)

// Server exposes the controller over HTTP.
type Server struct {
	settings   config.ServerSettings
	controller *Controller
	logger     *pkgLogger.Logger
	started    time.Time
	mux        *http.ServeMux
}

// NewServer builds the routes: the WebSocket endpoint at settings.Path plus
// /health and /status.
func NewServer(settings config.ServerSettings, controller *Controller, logger *pkgLogger.Logger) *Server {
	s := &Server{
		settings:   settings,
		controller: controller,
		logger:     logger.WithComponent("server"),
		started:    time.Now(),
		mux:        http.NewServeMux(),
	}
	s.mux.Handle("GET "+settings.Path, &wsHandler{
		controller: controller,
		upgrader:   makeUpgrader(settings.AllowedOrigins),
		logger:     logger.WithComponent("websocket"),
	})
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	return s
}

// Handler returns the routes wrapped for cleartext HTTP/2.
func (s *Server) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// Run serves on settings.Addr until ctx is cancelled, then closes every
// session and drains within ShutdownGrace.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %s", s.settings.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		grace := s.settings.ShutdownGrace.Std()
		if grace <= 0 {
			grace = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		s.controller.Shutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("Graceful shutdown incomplete", "error", err)
		}
	}()

	s.logger.InfoWithIntention(pkgLogger.IntentionStatus, "Bridge listening",
		"addr", ln.Addr().String(), "path", s.settings.Path, "model", s.controller.ModelID())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server error")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"status": "ok"})
}

type statusResponse struct {
	Model    string            `json:"model"`
	Uptime   string            `json:"uptime"`
	Total    int               `json:"total"`
	Sessions []session.Summary `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	sessions := s.controller.Registry().Snapshot()
	writeJSON(w, statusResponse{
		Model:    s.controller.ModelID(),
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Total:    len(sessions),
		Sessions: sessions,
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
