package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/diagnostician/internal/conversation"
	"github.com/MikeSquared-Agency/diagnostician/internal/engine"
	"github.com/MikeSquared-Agency/diagnostician/internal/session"
	"github.com/MikeSquared-Agency/diagnostician/internal/store"
	"github.com/MikeSquared-Agency/diagnostician/internal/validate"
)

// maxBodyBytes bounds a turn request body.
const maxBodyBytes = 64 << 10

type SessionService interface {
	CreateSession(ctx context.Context) (*store.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*store.Session, error)
	HandleTurn(ctx context.Context, id uuid.UUID, message string) (engine.TurnResult, error)
	ActiveSessions() int
}

type Server struct {
	router *chi.Mux
	port   int
	svc    SessionService
	http   *http.Server
}

func NewServer(port int, apiToken string, svc SessionService) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		svc:    svc,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/diagnostician/status", s.status)

	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Post("/", s.createSession)
		r.Get("/{id}", s.getSession)
		r.Post("/{id}/turns", s.postTurn)
		r.Get("/{id}/stream", s.stream)
	})

	return s
}

// Mount attaches an extra handler, such as the metrics endpoint.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.router.Handle(pattern, h)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("API server starting", "addr", addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type sessionResponse struct {
	ID        string              `json:"id"`
	Phase     conversation.Phase  `json:"phase"`
	Complete  bool                `json:"complete"`
	State     *conversation.State `json:"state"`
	History   []conversation.Turn `json:"history"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type turnRequest struct {
	Message string `json:"message"`
}

type turnResponse struct {
	Reply      string               `json:"reply"`
	Action     conversation.Action  `json:"action"`
	Rule       string               `json:"rule"`
	Phase      conversation.Phase   `json:"phase"`
	Complete   bool                 `json:"complete"`
	Violations []validate.Violation `json:"violations,omitempty"`
	Fallback   bool                 `json:"fallback,omitempty"`
}

func toSessionResponse(sess *store.Session) sessionResponse {
	return sessionResponse{
		ID:        sess.ID.String(),
		Phase:     sess.State.Phase,
		Complete:  sess.State.Terminal(),
		State:     sess.State,
		History:   sess.History,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"agent":           "diagnostician",
		"status":          "active",
		"active_sessions": s.svc.ActiveSessions(),
	})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.CreateSession(r.Context())
	if err != nil {
		slog.Error("create session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.svc.GetSession(r.Context(), id)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) postTurn(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}

	var req turnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	res, err := s.svc.HandleTurn(r.Context(), id, req.Message)
	if err != nil {
		s.sessionError(w, id, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		Reply:      res.Reply,
		Action:     res.Decision.Action,
		Rule:       res.Decision.Rule,
		Phase:      res.State.Phase,
		Complete:   res.Complete,
		Violations: res.Violations,
		Fallback:   res.Fallback,
	})
}

func (s *Server) sessionError(w http.ResponseWriter, id uuid.UUID, err error) {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, "message is required")
	default:
		slog.Error("session request failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
