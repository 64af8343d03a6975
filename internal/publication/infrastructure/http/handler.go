package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pubflow/publications-platform/internal/publication/application"
	"github.com/pubflow/publications-platform/internal/publication/domain"
	"github.com/pubflow/publications-platform/pkg/outbox"
)

// BrokerHealth reports broker connectivity for the health endpoint.
type BrokerHealth interface {
	IsConnected() bool
}

// OutboxCounter exposes outbox backlog counts for the health endpoint.
type OutboxCounter interface {
	CountByStatus(ctx context.Context, status outbox.Status) (int64, error)
}

type Handler struct {
	log     *slog.Logger
	service *application.Service
	broker  BrokerHealth
	counter OutboxCounter
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, broker BrokerHealth, counter OutboxCounter) *Handler {
	return &Handler{
		log:     log,
		service: service,
		broker:  broker,
		counter: counter,
		tracer:  otel.Tracer("publications-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/publications", h.submitPublication)
	r.Get("/publications/{id}", h.getPublication)
	r.Post("/publications/{id}/reviews", h.assignReviewer)
	r.Post("/reviews/{id}/decision", h.decideReview)
	r.Get("/healthz", h.health)
	return r
}

type submitReq struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	AuthorID string `json:"author_id"`
}

func (h *Handler) submitPublication(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SubmitPublication")
	defer span.End()

	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Title == "" || req.AuthorID == "" {
		http.Error(w, "title and author_id are required", http.StatusBadRequest)
		return
	}

	pub, err := h.service.Submit(ctx, req.Title, req.Abstract, req.AuthorID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": pub.ID, "status": string(pub.Status)})
}

type reviewView struct {
	ID          string `json:"id"`
	ReviewerID  string `json:"reviewer_id"`
	Status      string `json:"status"`
	Verdict     string `json:"verdict,omitempty"`
	Comments    string `json:"comments,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

func (h *Handler) getPublication(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetPublication")
	defer span.End()

	pub, reviews, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	views := make([]reviewView, 0, len(reviews))
	for _, rev := range reviews {
		v := reviewView{
			ID:         rev.ID,
			ReviewerID: rev.ReviewerID,
			Status:     string(rev.Status),
			Verdict:    string(rev.Verdict),
			Comments:   rev.Comments,
		}
		if rev.CompletedAt != nil {
			v.CompletedAt = rev.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		views = append(views, v)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":        pub.ID,
		"title":     pub.Title,
		"abstract":  pub.Abstract,
		"author_id": pub.AuthorID,
		"status":    string(pub.Status),
		"reviews":   views,
	})
}

type assignReq struct {
	ReviewerID string `json:"reviewer_id"`
}

func (h *Handler) assignReviewer(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "AssignReviewer")
	defer span.End()

	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.ReviewerID == "" {
		http.Error(w, "reviewer_id is required", http.StatusBadRequest)
		return
	}

	rev, err := h.service.AssignReviewer(ctx, chi.URLParam(r, "id"), req.ReviewerID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"review_id": rev.ID, "status": string(rev.Status)})
}

type decisionReq struct {
	Verdict  string `json:"verdict"`
	Comments string `json:"comments"`
}

func (h *Handler) decideReview(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DecideReview")
	defer span.End()

	var req decisionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	verdict, err := domain.ParseVerdict(req.Verdict)
	if err != nil {
		h.writeError(w, err)
		return
	}

	rev, err := h.service.Decide(ctx, chi.URLParam(r, "id"), verdict, req.Comments)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"review_id": rev.ID, "status": string(rev.Status), "verdict": string(rev.Verdict)})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	pending, err := h.counter.CountByStatus(ctx, outbox.StatusPending)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	failed, err := h.counter.CountByStatus(ctx, outbox.StatusFailed)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"broker_connected": h.broker.IsConnected(),
		"outbox": map[string]int64{
			"pending": pending,
			"failed":  failed,
		},
	})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPublicationNotFound), errors.Is(err, domain.ErrReviewNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrNotReviewable), errors.Is(err, domain.ErrReviewAlreadyCompleted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrUnknownVerdict):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
