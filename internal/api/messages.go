package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/store"
)

type MessageHandler struct {
	store *store.PostgresStore
}

func NewMessageHandler(s *store.PostgresStore) *MessageHandler {
	return &MessageHandler{store: s}
}

// List returns messages filtered by subscriber and/or status. Operators use
// status=FAILED to find deliveries needing manual follow-up.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	subscriberID := r.URL.Query().Get("subscriber_id")
	status := domain.Status(r.URL.Query().Get("status"))

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	messages, err := h.store.ListMessages(r.Context(), subscriberID, status, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	respondJSON(w, http.StatusOK, messages)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := h.store.GetMessage(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if msg == nil {
		respondError(w, http.StatusNotFound, "message not found")
		return
	}

	respondJSON(w, http.StatusOK, msg)
}
