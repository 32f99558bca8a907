// internal/handler/worker_handler.go
package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-scheduler/internal/logging"
)

// DueWorkRunner is the entry point an external timer drives.
type DueWorkRunner interface {
	RunDueWork(ctx context.Context, batchSize int) (int, error)
}

// Pinger reports store health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// WorkerHandler exposes run_due_work over HTTP for cron-style triggering.
type WorkerHandler struct {
	Runner DueWorkRunner
	Store  Pinger
	Logger *zap.Logger
}

// RunDueWork handles POST /work/run?batch_size=N
func (h *WorkerHandler) RunDueWork(w http.ResponseWriter, r *http.Request) {
	batchSize := 0
	if s := r.URL.Query().Get("batch_size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			http.Error(w, "invalid batch_size", http.StatusBadRequest)
			return
		}
		batchSize = n
	}

	// A batch that has started publishing must still commit after the
	// client goes away or the request times out.
	processed, err := h.Runner.RunDueWork(context.WithoutCancel(r.Context()), batchSize)
	if err != nil {
		logging.OrNop(h.Logger).Error("run due work", zap.Error(err))
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (h *WorkerHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.PingContext(r.Context()); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
