package handlers

import (
	"net/http"
	"strconv"

	"watchsync/logging"
)

// LogsHandler exposes the in-memory log buffers.
type LogsHandler struct {
	Buffers *logging.Buffers
}

func NewLogsHandler(buffers *logging.Buffers) *LogsHandler {
	return &LogsHandler{Buffers: buffers}
}

// Get returns buffered lines for one category (?tag=SYNC, default APP) and
// the list of known categories. ?tail=N keeps only the last N lines.
// GET /api/logs
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	lines := h.Buffers.Lines(tag)
	if raw := r.URL.Query().Get("tail"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": h.Buffers.Tags(), "lines": lines})
}

// Health is the liveness probe.
// GET /health
func Health(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
	}
}
