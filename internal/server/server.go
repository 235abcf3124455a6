// Package server exposes the agent over HTTP: POST /ask for questions,
// /healthz for liveness and /metrics for Prometheus.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Nik853/semantic-layer-agent/internal/agent"
	commonerrors "github.com/Nik853/semantic-layer-agent/internal/common/errors"
	"github.com/Nik853/semantic-layer-agent/internal/common/logger"
	"github.com/Nik853/semantic-layer-agent/internal/common/observability"
)

// Asker is the agent surface the server needs.
type Asker interface {
	Ask(ctx context.Context, question string) (*agent.Answer, error)
}

// Server is the HTTP front end.
type Server struct {
	asker          Asker
	obs            *observability.Observability
	requestTimeout time.Duration
	logger         logger.Logger
}

// New builds the server. requestTimeout bounds the whole pipeline for
// one question.
func New(asker Asker, obs *observability.Observability, requestTimeout time.Duration, log logger.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	return &Server{
		asker:          asker,
		obs:            obs,
		requestTimeout: requestTimeout,
		logger:         log,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	RequestID   string      `json:"requestId"`
	Intent      string      `json:"intent"`
	Answer      string      `json:"answer"`
	Query       interface{} `json:"query,omitempty"`
	Regenerated bool        `json:"regenerated,omitempty"`
	ElapsedMs   int64       `json:"elapsedMs"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "body must be a JSON object with a question field")
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "question must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	started := time.Now()
	answer, err := s.asker.Ask(ctx, question)
	if err != nil {
		s.recordOutcome(ctx, answerIntent(answer), "error", started)
		se, ok := commonerrors.AsStageError(err)
		if !ok {
			s.logger.WithError(err).Error("Unclassified error from agent")
			writeError(w, http.StatusInternalServerError, string(commonerrors.ErrCodeInternal), "internal error")
			return
		}
		writeError(w, statusFor(se.Code), string(se.Code), se.UserMessage())
		return
	}

	s.recordOutcome(ctx, string(answer.Intent), "ok", started)

	resp := askResponse{
		RequestID:   answer.RequestID,
		Intent:      string(answer.Intent),
		Answer:      answer.Text,
		Regenerated: answer.Regenerated,
		ElapsedMs:   answer.Elapsed.Milliseconds(),
	}
	if answer.Query != nil {
		resp.Query = answer.Query
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) recordOutcome(ctx context.Context, intent, status string, started time.Time) {
	if s.obs == nil {
		return
	}
	s.obs.RecordRequest(ctx, intent, status)
	s.obs.RecordRequestDuration(ctx, time.Since(started), status)
}

func answerIntent(a *agent.Answer) string {
	if a == nil {
		return "unknown"
	}
	return string(a.Intent)
}

// statusFor maps the pipeline taxonomy onto HTTP statuses.
func statusFor(code commonerrors.ErrorCode) int {
	switch code {
	case commonerrors.ErrCodeCapacityExceeded:
		return http.StatusTooManyRequests
	case commonerrors.ErrCodeRetrievalUnavailable,
		commonerrors.ErrCodeGenerationUnavailable,
		commonerrors.ErrCodeExecutionUnavailable:
		return http.StatusServiceUnavailable
	case commonerrors.ErrCodeExecutionTimeout:
		return http.StatusGatewayTimeout
	case commonerrors.ErrCodeMalformedQuery, commonerrors.ErrCodeEmptyQuery, commonerrors.ErrCodeExecutionRejected:
		return http.StatusUnprocessableEntity
	case commonerrors.ErrCodeLookupFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
