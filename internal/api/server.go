package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scamwatch-io/scamwatch/internal/config"
	"github.com/scamwatch-io/scamwatch/internal/dispatcher"
	"github.com/scamwatch-io/scamwatch/internal/gateway"
	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
	"github.com/scamwatch-io/scamwatch/internal/store"
	"github.com/scamwatch-io/scamwatch/internal/stream"
	"github.com/scamwatch-io/scamwatch/internal/telemetry"
)

// maxTextBytes bounds the submitted message size.
const maxTextBytes = 16 * 1024

// Server wires HTTP handlers to the dispatcher, report store, and gateway.
type Server struct {
	router     chi.Router
	reports    store.ReportRepository
	dispatcher *dispatcher.Dispatcher
	registry   *stream.Registry
	gateway    *gateway.Gateway
	idGen      scamcheck.IDGenerator
	clock      scamcheck.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	reports store.ReportRepository,
	dispatcher *dispatcher.Dispatcher,
	registry *stream.Registry,
	gw *gateway.Gateway,
	idGen scamcheck.IDGenerator,
	clock scamcheck.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		reports:    reports,
		dispatcher: dispatcher,
		registry:   registry,
		gateway:    gw,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(telemetry.Middleware)
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/v1/checks", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(30 * time.Second))
			r.Post("/", s.submitCheck)
			r.Get("/{task_id}", s.getCheck)
		})
		// The SSE route stays outside the timeout handler: TimeoutHandler's
		// response writer does not implement http.Flusher.
		r.Get("/{task_id}/events", s.gateway.HandleEvents)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.registry.Available() {
		writeError(w, http.StatusServiceUnavailable, "progress broker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitCheckRequest struct {
	Text string `json:"text"`
}

func (s *Server) submitCheck(w http.ResponseWriter, r *http.Request) {
	var req submitCheckRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBytes+1)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(req.Text) > maxTextBytes {
		writeError(w, http.StatusBadRequest, "text too long")
		return
	}

	taskID, err := s.idGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate task id")
		return
	}

	// Open the stream before acknowledging so a client can subscribe the
	// moment it has the task id.
	if _, err := s.registry.Open(taskID); err != nil {
		if errors.Is(err, stream.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "progress broker unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "open progress stream")
		return
	}
	if err := s.reports.CreateReport(r.Context(), taskID, req.Text, s.clock.Now()); err != nil {
		s.logger.Error("create report failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "persist check")
		return
	}

	item := scamcheck.QueueItem{
		TaskID:    taskID,
		Text:      req.Text,
		Attempt:   1,
		Submitted: s.clock.Now().Unix(),
	}
	if err := s.dispatcher.Enqueue(r.Context(), item); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, status, "queue check")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
}

type checkResponse struct {
	TaskID      string             `json:"task_id"`
	Status      store.TaskStatus   `json:"status"`
	Cached      bool               `json:"cached,omitempty"`
	Verdict     *scamcheck.Verdict `json:"verdict,omitempty"`
	Error       *string            `json:"error,omitempty"`
	SubmittedAt time.Time          `json:"submitted_at"`
	FinishedAt  *time.Time         `json:"finished_at,omitempty"`
}

func (s *Server) getCheck(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	rep, err := s.reports.GetReport(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "check not found")
			return
		}
		s.logger.Error("get report failed", zap.String("task_id", taskID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "load check")
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		TaskID:      rep.TaskID,
		Status:      rep.Status,
		Cached:      rep.Cached,
		Verdict:     rep.Verdict,
		Error:       rep.ErrorMessage,
		SubmittedAt: rep.SubmittedAt,
		FinishedAt:  rep.FinishedAt,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
