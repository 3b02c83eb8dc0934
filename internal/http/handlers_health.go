package http

import (
	"context"
	"net/http"
	"time"
)

// handleHealth is a liveness check: the process is up.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady reports not ready until templates are parsed, every collection
// has delivered a snapshot and each configured check passes.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	code := http.StatusOK
	checks := make(map[string]any)
	fail := func(name, reason string) {
		checks[name] = "failed: " + reason
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	if s.templates == nil {
		fail("templates", "templates not loaded")
	} else {
		checks["templates"] = "ok"
	}

	if s.feed.Ready() {
		checks["store"] = "ok"
	} else {
		fail("store", "waiting for first snapshots")
	}

	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			fail(name, err.Error())
			continue
		}
		checks[name] = "ok"
	}

	checks["sessions"] = s.sessions.Len()
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"hits":           s.rateLimiter.GetMetrics().TotalHits,
	}
	checks["suspicious_requests"] = s.detector.GetMetrics().SuspiciousRequests
	checks["requests"] = s.trace.GetMetrics().TotalRequests

	writeJSON(w, r, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
