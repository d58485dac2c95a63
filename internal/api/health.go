package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Prober checks a downstream dependency.
type Prober interface {
	Probe(ctx context.Context) error
}

// Ready reports whether the database and the query service are reachable.
// The query service is reported but does not fail readiness: the page keeps
// working and shows the fallback message while it is down.
func (h *Handler) Ready(query Prober) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]interface{}{
			"database":      "ok",
			"query_service": "ok",
			"conversations": h.sessions.Len(),
		}

		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Readiness: database ping failed", "error", err)
			body["database"] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		if query != nil {
			if err := query.Probe(ctx); err != nil {
				slog.Warn("Readiness: query service probe failed", "error", err)
				body["query_service"] = "unavailable"
			}
		}

		JSON(w, status, body)
	}
}
