package handlers

import (
	"errors"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"watchsync/services/orchestrator"
	"watchsync/services/snapshot"
)

const keepaliveInterval = 15 * time.Second

// SyncHandler exposes the orchestrator: start, cancel, status, the progress
// stream and summary history.
type SyncHandler struct {
	Sync      *orchestrator.Service
	Summaries *orchestrator.SummaryStore
	Snapshots *snapshot.Store
	Log       zerolog.Logger
}

func NewSyncHandler(sync *orchestrator.Service, summaries *orchestrator.SummaryStore, snapshots *snapshot.Store, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{Sync: sync, Summaries: summaries, Snapshots: snapshots, Log: log.With().Str("component", "http").Logger()}
}

// Start launches a run in the background.
// POST /api/sync
func (h *SyncHandler) Start(w http.ResponseWriter, r *http.Request) {
	id, err := h.Sync.Start("api")
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "run_id": id})
}

// Cancel stops the live run.
// POST /api/sync/cancel
func (h *SyncHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Sync.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// Status returns the live or last summary plus the latest progress event.
// GET /api/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sync.Status())
}

// Events streams progress and summary updates as server-sent events.
// GET /api/sync/events
func (h *SyncHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// state is read before subscribing so replayed events never trail live ones
	st := h.Sync.Status()
	broker := h.Sync.Broker()
	ch := broker.Subscribe()
	defer broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// long-lived stream; the server write timeout must not apply
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	if st.Summary != nil {
		writeEvent(w, orchestrator.EventSummary, st.Summary)
	}
	if st.Progress != nil {
		writeEvent(w, orchestrator.EventProgress, st.Progress)
	}
	flusher.Flush()

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = w.Write(orchestrator.FormatSSE(event, data))
}

// ListSummaries returns stored run summaries, newest first.
// GET /api/sync/summaries
func (h *SyncHandler) ListSummaries(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Summaries.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []orchestrator.SummaryInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": infos})
}

// GetSummary returns one stored summary.
// GET /api/sync/summaries/{name}
func (h *SyncHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	summary, err := h.Summaries.Get(name)
	switch {
	case errors.Is(err, orchestrator.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrSummaryNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

// ResetState removes the snapshot so the next run starts from scratch.
// DELETE /api/state
func (h *SyncHandler) ResetState(w http.ResponseWriter, r *http.Request) {
	if h.Sync.Running() {
		writeError(w, http.StatusConflict, orchestrator.ErrAlreadyRunning.Error())
		return
	}
	if err := h.Snapshots.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Log.Info().Str("path", h.Snapshots.Path()).Msg("state reset")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
