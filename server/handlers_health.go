package server

import (
	"context"
	"net/http"
	"time"
)

// HandleHealthz responds to liveness probes. It does not touch the database.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"database", func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return h.db.PingContext(ctx)
		}},
		{"ledger", func(ctx context.Context) error {
			_, err := h.ledger.Meter(ctx)
			return err
		}},
	}

	for _, check := range checks {
		if err := check.fn(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleAdminStatus returns runtime state for operators.
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	status := map[string]any{}
	if h.status != nil {
		status = h.status()
	}
	status["time"] = time.Now().UTC()
	writeJSON(w, http.StatusOK, status)
}
