package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shrenik7/occasion-notifier/internal/domain"
	"github.com/shrenik7/occasion-notifier/internal/jobs"
	"github.com/shrenik7/occasion-notifier/internal/store"
)

type SubscriberHandler struct {
	store       *store.PostgresStore
	cache       *store.SubscriberCache
	rescheduler *jobs.Rescheduler
}

func NewSubscriberHandler(s *store.PostgresStore, cache *store.SubscriberCache, rescheduler *jobs.Rescheduler) *SubscriberHandler {
	return &SubscriberHandler{store: s, cache: cache, rescheduler: rescheduler}
}

func (h *SubscriberHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}
	if req.Timezone == "" {
		respondError(w, http.StatusBadRequest, "timezone is required")
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		respondError(w, http.StatusBadRequest, "timezone is not a valid IANA identifier")
		return
	}
	if !validTrigger(req.BirthMonth, req.BirthDay) || !validTrigger(req.AnniversaryMonth, req.AnniversaryDay) {
		respondError(w, http.StatusBadRequest, "trigger month/day must be supplied together and form a valid date")
		return
	}

	sub, err := h.store.CreateSubscriber(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscriber")
		return
	}

	// Make today's occurrence eligible immediately rather than waiting for
	// the next daily anchor.
	if _, err := h.rescheduler.Reschedule(r.Context(), sub); err != nil {
		respondError(w, http.StatusInternalServerError, "subscriber created but scheduling failed")
		return
	}

	respondJSON(w, http.StatusCreated, sub)
}

func (h *SubscriberHandler) List(w http.ResponseWriter, r *http.Request) {
	subscribers, err := h.store.ActiveSubscribers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscribers")
		return
	}

	respondJSON(w, http.StatusOK, subscribers)
}

func (h *SubscriberHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sub, err := h.cache.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// Update applies a partial update, invalidates the entity cache and
// reschedules the subscriber's pending messages from the new data.
func (h *SubscriberHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req domain.UpdateSubscriberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			respondError(w, http.StatusBadRequest, "timezone is not a valid IANA identifier")
			return
		}
	}

	sub, err := h.store.UpdateSubscriber(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscriber")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	h.cache.Invalidate(r.Context(), id)

	if _, err := h.rescheduler.Reschedule(r.Context(), sub); err != nil {
		respondError(w, http.StatusInternalServerError, "subscriber updated but rescheduling failed")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

// Delete soft-deletes the subscriber and clears their pending messages.
func (h *SubscriberHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	deleted, err := h.store.SoftDeleteSubscriber(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to delete subscriber")
		return
	}
	if !deleted {
		respondError(w, http.StatusNotFound, "subscriber not found")
		return
	}

	h.cache.Invalidate(r.Context(), id)

	now := time.Now()
	gone := domain.Subscriber{ID: id, DeletedAt: &now}
	if _, err := h.rescheduler.Reschedule(r.Context(), &gone); err != nil {
		respondError(w, http.StatusInternalServerError, "subscriber deleted but pending messages were not cleared")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// validTrigger checks that month and day come as a pair and form a real
// calendar date (Feb 29 allowed; matching folds it in non-leap years).
func validTrigger(month, day *int) bool {
	if month == nil && day == nil {
		return true
	}
	if month == nil || day == nil {
		return false
	}
	if *month < 1 || *month > 12 || *day < 1 {
		return false
	}
	// Validate against a leap year so Feb 29 is accepted.
	d := time.Date(2024, time.Month(*month), *day, 0, 0, 0, 0, time.UTC)
	return int(d.Month()) == *month && d.Day() == *day
}
