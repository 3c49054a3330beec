// Package server exposes the orchestrator over HTTP: turn processing,
// feedback submission, skill discovery, health, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conductor-ai/conductor/internal/engine"
	"github.com/conductor-ai/conductor/pkg/config"
	"github.com/conductor-ai/conductor/pkg/feedback"
	"github.com/conductor-ai/conductor/pkg/observability"
	"github.com/conductor-ai/conductor/pkg/skill"
)

// Server is the HTTP transport over the engine.
type Server struct {
	cfg      config.ServerConfig
	eng      *engine.Engine
	agg      *feedback.Aggregator
	registry *skill.Registry
	health   *observability.HealthChecker
	log      *zap.Logger

	httpSrv *http.Server
}

// New creates a server. The engine and collaborators must already be wired.
func New(cfg config.ServerConfig, eng *engine.Engine, agg *feedback.Aggregator, registry *skill.Registry, health *observability.HealthChecker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		eng:      eng,
		agg:      agg,
		registry: registry,
		health:   health,
		log:      log,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/interact", withMethod(http.MethodPost, s.handleInteract))
	mux.HandleFunc("/feedback", withMethod(http.MethodPost, s.handleFeedback))
	mux.HandleFunc("/skills", withMethod(http.MethodGet, s.handleSkills))
	mux.HandleFunc("/health", withMethod(http.MethodGet, s.health.Handler()))
	mux.Handle("/metrics", withMethod(http.MethodGet, observability.MetricsHandler().ServeHTTP))
	return mux
}

// withMethod rejects requests whose method does not match, mirroring the
// behavior of method-qualified ServeMux patterns.
func withMethod(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

// ListenAndServe blocks until the context is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// interactRequest is the /interact body.
type interactRequest struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Input     string `json:"input"`
}

// interactResponse is the /interact reply.
type interactResponse struct {
	TurnID    string          `json:"turnId"`
	SessionID string          `json:"sessionId"`
	UserID    string          `json:"userId"`
	Response  engine.Response `json:"response"`
}

func (s *Server) handleInteract(w http.ResponseWriter, r *http.Request) {
	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	turn := engine.NewTurn(req.UserID, req.SessionID, req.Input)
	resp, err := s.eng.ProcessTurn(r.Context(), turn)
	if err != nil {
		s.log.Error("turn processing failed", zap.String("turn_id", turn.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "turn processing failed")
		return
	}

	writeJSON(w, http.StatusOK, interactResponse{
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		UserID:    turn.UserID,
		Response:  resp,
	})
}

// feedbackRequest is the /feedback body.
type feedbackRequest struct {
	SessionID  string `json:"sessionId"`
	Score      int    `json:"score"`
	Correction string `json:"correction,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	if err := s.agg.Record(req.SessionID, req.Score, req.Correction); err != nil {
		observability.RecordRating(false)
		if errors.Is(err, feedback.ErrInvalidRating) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "recording feedback failed")
		return
	}

	observability.RecordRating(true)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"skills": s.registry.List()})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
