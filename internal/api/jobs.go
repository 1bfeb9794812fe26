package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shrenik7/occasion-notifier/internal/engine"
	"github.com/shrenik7/occasion-notifier/internal/jobs"
)

// JobHandler exposes each job's health and a manual trigger for operational
// and testing use.
type JobHandler struct {
	jobs     map[string]jobs.Job
	order    []string
	breaker  *engine.CircuitBreaker
	queue    *engine.Queue
	listener jobs.RunListener
}

func NewJobHandler(registered []jobs.Job, breaker *engine.CircuitBreaker, queue *engine.Queue, listener jobs.RunListener) *JobHandler {
	h := &JobHandler{
		jobs:     make(map[string]jobs.Job, len(registered)),
		breaker:  breaker,
		queue:    queue,
		listener: listener,
	}
	for _, j := range registered {
		h.jobs[j.Name()] = j
		h.order = append(h.order, j.Name())
	}
	return h
}

type jobsStatusResponse struct {
	Jobs           []jobs.Health              `json:"jobs"`
	CircuitBreaker engine.CircuitBreakerState `json:"circuit_breaker"`
	QueueDepth     *int64                     `json:"queue_depth,omitempty"`
}

// Status reports every job's health plus the breaker state and queue depth.
func (h *JobHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := jobsStatusResponse{
		CircuitBreaker: h.breaker.GetState(r.Context()),
	}
	for _, name := range h.order {
		resp.Jobs = append(resp.Jobs, h.jobs[name].Health())
	}
	if depth, err := h.queue.Depth(r.Context()); err == nil {
		resp.QueueDepth = &depth
	}

	respondJSON(w, http.StatusOK, resp)
}

type jobRunResponse struct {
	Job   string `json:"job"`
	Stats any    `json:"stats"`
}

// Run triggers a job immediately and returns the run's stats.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.jobs[name]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown job")
		return
	}

	stats, err := job.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, jobs.ErrRunInProgress) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if h.listener != nil {
		h.listener.JobRan(name, stats, nil)
	}

	respondJSON(w, http.StatusOK, jobRunResponse{Job: name, Stats: stats})
}
