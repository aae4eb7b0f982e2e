package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"watchsync/models"
	"watchsync/services/provider"
	"watchsync/services/stats"
	"watchsync/services/watchlist"
)

// WatchlistHandler serves the merged watchlist view and the hide overlay.
type WatchlistHandler struct {
	Service *watchlist.Service
}

func NewWatchlistHandler(svc *watchlist.Service) *WatchlistHandler {
	return &WatchlistHandler{Service: svc}
}

// List returns the merged view, newest first.
// GET /api/watchlist
func (h *WatchlistHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.List())
}

// Delete removes an item on a provider (?provider=plex|simkl, default plex) and hides it.
// DELETE /api/watchlist/{key}
func (h *WatchlistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	side := models.Side(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("provider"))))

	err := h.Service.Delete(r.Context(), key, side)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": key})
	case errors.Is(err, watchlist.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, watchlist.ErrKeyRequired), errors.Is(err, watchlist.ErrUnknownSide), errors.Is(err, models.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case provider.IsConfig(err):
		writeError(w, http.StatusPreconditionFailed, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

// Hide adds a key to the overlay.
// POST /api/watchlist/{key}/hide
func (h *WatchlistHandler) Hide(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Service.Hide)
}

// Unhide removes a key from the overlay.
// DELETE /api/watchlist/{key}/hide
func (h *WatchlistHandler) Unhide(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, h.Service.Unhide)
}

func (h *WatchlistHandler) toggle(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	key := mux.Vars(r)["key"]
	if err := fn(key); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, watchlist.ErrKeyRequired) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "hidden": h.Service.Hidden()})
}

// StatsHandler serves the statistics overview and journal.
type StatsHandler struct {
	Stats *stats.Service
}

func NewStatsHandler(svc *stats.Service) *StatsHandler {
	return &StatsHandler{Stats: svc}
}

// Overview returns counts and windows.
// GET /api/stats
func (h *StatsHandler) Overview(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Stats.Overview(nil, nil))
}

// Events returns the journal, newest first (?limit=, ?action=add|remove).
// GET /api/stats/events
func (h *StatsHandler) Events(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": h.Stats.Events(limit, r.URL.Query().Get("action"))})
}
