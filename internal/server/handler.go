package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/ai-guard/internal/guard"
	"github.com/spigell/ai-guard/internal/logger"
	"github.com/spigell/ai-guard/internal/metrics"
	"github.com/spigell/ai-guard/internal/retention"
	"github.com/spigell/ai-guard/internal/review"
	"github.com/spigell/ai-guard/internal/tracing"
)

const defaultTraceLimit = 100

// Caller performs guarded model calls.
type Caller interface {
	Call(ctx context.Context, prompt string, opts ...guard.CallOption) (*guard.Result, error)
}

// Sanitizer prepares text for embedding.
type Sanitizer interface {
	SanitizeForEmbeddings(text string) string
	Labels(text string) []string
	Annotate(text string) string
}

// Services are the shared, goroutine-safe dependencies of the handlers.
type Services struct {
	Caller    Caller
	Sanitizer Sanitizer
	Traces    *tracing.Store
	Queue     *review.Queue
	Retention *retention.Manager
	Metrics   *metrics.Metrics
}

type Handler struct {
	svc    Services
	logger *zap.Logger
}

func NewHandler(svc Services, l *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger.OrNop(l)}
}

// Register mounts every route on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.applyRetention)
		r.Post("/api/ai-call", h.handleAICall)
		r.Post("/api/embed", h.handleEmbed)
		r.Get("/health", h.handleHealth)
	})

	r.Post("/api/feedback", h.handleFeedbackJSON)
	r.Post("/feedback", h.handleFeedbackForm)
	r.Get("/review-queue", h.handleListReview)
	r.Post("/review-queue/{id}/close", h.handleCloseReview)
	r.Get("/traces", h.handleTraces)
	r.Post("/retention/purge", h.handlePurge)
}

type callRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Sanitized   string   `json:"sanitized"`
	PIIDetected []string `json:"pii_detected"`
}

type feedbackRequest struct {
	Category    string `json:"category" mapstructure:"category"`
	Description string `json:"description" mapstructure:"description"`
	Reporter    string `json:"reporter,omitempty" mapstructure:"reporter"`
	TraceID     string `json:"trace_id,omitempty" mapstructure:"trace_id"`
}

type feedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
	Status     string `json:"status"`
}

type purgeResponse struct {
	RemovedTraces   int `json:"removed_traces"`
	RemovedFeedback int `json:"removed_feedback"`
}

func (h *Handler) applyRetention(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.svc.Retention.Run(h.svc.Traces, h.svc.Queue); err != nil {
			h.logger.Error("retention failed", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAICall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeDetail(w, http.StatusBadRequest, "prompt is required")
		return
	}

	res, err := h.svc.Caller.Call(r.Context(), req.Prompt, guard.WithModel(req.Model))
	switch outcome := guard.OutcomeOf(err); outcome {
	case guard.OutcomeAdmitted:
		writeJSON(w, http.StatusOK, res)
	case guard.OutcomeRateLimited:
		writeDetail(w, outcome.HTTPStatus(), err.Error())
	case guard.OutcomeProviderError:
		writeDetail(w, outcome.HTTPStatus(), "AI provider error")
	default:
		h.logger.Error("ai call failed", zap.Error(err))
		writeDetail(w, outcome.HTTPStatus(), "internal error")
	}
}

func (h *Handler) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.logger.Debug("embed request", zap.String("text", h.svc.Sanitizer.Annotate(req.Text)))

	labels := h.svc.Sanitizer.Labels(req.Text)
	if labels == nil {
		labels = []string{}
	}
	h.svc.Metrics.ObserveRedactions(labels)

	writeJSON(w, http.StatusOK, embedResponse{
		Sanitized:   h.svc.Sanitizer.SanitizeForEmbeddings(req.Text),
		PIIDetected: labels,
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleFeedbackJSON(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.submitFeedback(w, req, "api")
}

func (h *Handler) handleFeedbackForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}

	fields := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		fields[key] = r.PostForm.Get(key)
	}

	var req feedbackRequest
	if err := mapstructure.Decode(fields, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid form")
		return
	}
	h.submitFeedback(w, req, "ui")
}

func (h *Handler) submitFeedback(w http.ResponseWriter, req feedbackRequest, source string) {
	if strings.TrimSpace(req.Description) == "" {
		writeDetail(w, http.StatusBadRequest, "description is required")
		return
	}

	item, err := h.svc.Queue.Submit(review.Submission{
		Category:      req.Category,
		Description:   req.Description,
		Reporter:      req.Reporter,
		SourceTraceID: req.TraceID,
		Metadata:      map[string]string{review.MetadataSource: source},
	})
	if err != nil {
		if errors.Is(err, review.ErrCategoryRequired) {
			writeDetail(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to submit feedback", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to store feedback")
		return
	}

	h.svc.Metrics.ObserveRedactions(h.svc.Sanitizer.Labels(req.Category))
	h.svc.Metrics.ObserveRedactions(h.svc.Sanitizer.Labels(req.Description))
	h.svc.Metrics.ObserveFeedback(item.Category)
	writeJSON(w, http.StatusOK, feedbackResponse{FeedbackID: item.FeedbackID, Status: item.Status})
}

func (h *Handler) handleListReview(w http.ResponseWriter, r *http.Request) {
	items := h.svc.Queue.List(r.URL.Query().Get("status"))
	if items == nil {
		items = []review.Item{}
	}
	writeJSON(w, http.StatusOK, map[string][]review.Item{"items": items})
}

func (h *Handler) handleCloseReview(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Queue.Close(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, review.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Feedback not found")
	case err != nil:
		h.logger.Error("failed to close feedback", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to update feedback")
	default:
		writeJSON(w, http.StatusOK, feedbackResponse{FeedbackID: item.FeedbackID, Status: item.Status})
	}
}

func (h *Handler) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := defaultTraceLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	traces := h.svc.Traces.ListRecent(limit)
	if traces == nil {
		traces = []tracing.Record{}
	}
	writeJSON(w, http.StatusOK, map[string][]tracing.Record{"traces": traces})
}

func (h *Handler) handlePurge(w http.ResponseWriter, _ *http.Request) {
	report, err := h.svc.Retention.Run(h.svc.Traces, h.svc.Queue)
	if err != nil {
		h.logger.Error("retention purge failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "retention purge failed")
		return
	}

	writeJSON(w, http.StatusOK, purgeResponse{
		RemovedTraces:   report.Traces.Dropped,
		RemovedFeedback: report.Feedback.Dropped,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
