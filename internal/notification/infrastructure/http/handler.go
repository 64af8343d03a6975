package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pubflow/publications-platform/internal/notification/infrastructure/postgres"
)

type Handler struct {
	log  *slog.Logger
	repo *postgres.Repository
}

func NewHandler(log *slog.Logger, repo *postgres.Repository) *Handler {
	return &Handler{log: log, repo: repo}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/notifications/{recipientId}", h.listByRecipient)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return r
}

func (h *Handler) listByRecipient(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	items, err := h.repo.ListByRecipient(r.Context(), chi.URLParam(r, "recipientId"), limit)
	if err != nil {
		h.log.Error("list notifications failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	type view struct {
		ID            string `json:"id"`
		EventType     string `json:"event_type"`
		PublicationID string `json:"publication_id"`
		Message       string `json:"message"`
		CreatedAt     string `json:"created_at"`
	}
	out := make([]view, 0, len(items))
	for _, n := range items {
		out = append(out, view{
			ID:            n.ID,
			EventType:     n.EventType,
			PublicationID: n.PublicationID,
			Message:       n.Message,
			CreatedAt:     n.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"notifications": out})
}
