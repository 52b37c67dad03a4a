package tasks

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"backfeed/internal/core"
	"backfeed/internal/queue"
	"backfeed/internal/types"
)

// StatusTaskFailed marks a terminal task outcome. The queue still retries
// it, but a redelivery is not expected to succeed without intervention.
const StatusTaskFailed = http.StatusExpectationFailed

type Poller interface {
	Poll(ctx context.Context, taskName string) (*core.PollResult, error)
}

type Propagator interface {
	Propagate(ctx context.Context, commentID string) error
}

type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[types.Status]int, error)
}

type Handler struct {
	poller     Poller
	propagator Propagator
	counter    StatusCounter
	deadline   time.Duration
}

// New builds the task endpoints. A positive deadline bounds each delivery.
func New(poller Poller, propagator Propagator, counter StatusCounter, deadline time.Duration) *Handler {
	return &Handler{
		poller:     poller,
		propagator: propagator,
		counter:    counter,
		deadline:   deadline,
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /_queue/"+core.PollQueue, h.handlePoll)
	mux.HandleFunc("POST /_queue/"+core.PropagateQueue, h.handlePropagate)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	name, ok := taskName(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.taskContext(r)
	defer cancel()

	result, err := h.poller.Poll(ctx, name)
	if err != nil {
		writeTaskError(w, name, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(result.String()))
}

func (h *Handler) handlePropagate(w http.ResponseWriter, r *http.Request) {
	name, ok := taskName(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.taskContext(r)
	defer cancel()

	if err := h.propagator.Propagate(ctx, name); err != nil {
		writeTaskError(w, name, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := h.counter.CountByStatus(r.Context())
	if err != nil {
		slog.Error("Health check failed", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"comments": counts,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) taskContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.deadline > 0 {
		return context.WithTimeout(r.Context(), h.deadline)
	}
	return context.WithCancel(r.Context())
}

func taskName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.Header.Get(queue.HeaderTaskName)
	if name == "" {
		http.Error(w, "missing "+queue.HeaderTaskName+" header", http.StatusBadRequest)
		return "", false
	}
	slog.Debug("Task delivery", "path", r.URL.Path, "task", name, "retry", r.Header.Get(queue.HeaderTaskRetryCount))
	return name, true
}

func writeTaskError(w http.ResponseWriter, name string, err error) {
	if types.IsTaskError(err) {
		slog.Warn("Task failed", "task", name, "error", err)
		// A held lease clears when it expires; the rest need intervention.
		if !types.IsKind(err, types.KindLeaseHeld) {
			w.Header().Set(queue.HeaderTaskTerminal, "true")
		}
		http.Error(w, err.Error(), StatusTaskFailed)
		return
	}
	slog.Error("Task error, will retry", "task", name, "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
