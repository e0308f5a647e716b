package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/terraconstructs/rolewarden/internal/audit"
)

// healthCheckTimeout bounds the audit store read done by the health check.
const healthCheckTimeout = 2 * time.Second

// QueueStats reports dispatcher load. *reconcile.Dispatcher implements it.
type QueueStats interface {
	QueueDepth() int
	ActiveWorkers() int
}

type healthResponse struct {
	Status        string `json:"status"`
	QueueDepth    int    `json:"queue_depth"`
	ActiveWorkers int    `json:"active_workers"`
	AuditBackend  string `json:"audit_backend"`
	AuditRecords  int    `json:"audit_records"`
	Error         string `json:"error,omitempty"`
}

// HandleHealth reports queue load and the number of audited members. It
// answers 503 when the audit store cannot be read.
func HandleHealth(queue QueueStats, store audit.Store, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:        "ok",
			QueueDepth:    queue.QueueDepth(),
			ActiveWorkers: queue.ActiveWorkers(),
			AuditBackend:  backend,
		}

		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		n, err := store.Count(ctx)
		if err != nil {
			log.Printf("WARNING: health check: count audit records: %v", err)
			resp.Status = "degraded"
			resp.Error = "audit store unavailable"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.AuditRecords = n
		writeJSON(w, http.StatusOK, resp)
	}
}
