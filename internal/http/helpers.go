package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// sanitizeInput trims whitespace and drops control characters.
func sanitizeInput(s string) string {
	return stripControl(strings.TrimSpace(s))
}

// stripControl drops control characters other than tab, newline and
// carriage return, leaving surrounding spaces as typed.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.WarnContext(r.Context(), "Failed to encode JSON response", "error", err, "path", r.URL.Path)
	}
}
