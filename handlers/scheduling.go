package handlers

import (
	"net/http"

	json "github.com/goccy/go-json"

	"watchsync/config"
	"watchsync/services/scheduler"
)

// SchedulingHandler reads and updates the scheduling section.
type SchedulingHandler struct {
	Store     *config.Store
	Scheduler *scheduler.Service
}

func NewSchedulingHandler(store *config.Store, sched *scheduler.Service) *SchedulingHandler {
	return &SchedulingHandler{Store: store, Scheduler: sched}
}

type schedulingResponse struct {
	Config config.SchedulingSettings `json:"config"`
	Status scheduler.Status          `json:"status"`
}

// Get returns the scheduling config and the scheduler status.
// GET /api/scheduling
func (h *SchedulingHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, schedulingResponse{
		Config: h.Store.Snapshot().Scheduling,
		Status: h.Scheduler.Status(),
	})
}

// Put replaces the scheduling config and wakes the scheduler.
// PUT /api/scheduling
func (h *SchedulingHandler) Put(w http.ResponseWriter, r *http.Request) {
	var req config.SchedulingSettings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Mode == "" {
		req.Mode = config.ScheduleDisabled
	}

	candidate := h.Store.Snapshot()
	candidate.Scheduling = req
	if err := config.Validate(candidate); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.Store.Update(func(s *config.Settings) error {
		s.Scheduling = req
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Scheduler.Refresh()

	writeJSON(w, http.StatusOK, schedulingResponse{
		Config: updated.Scheduling,
		Status: h.Scheduler.Status(),
	})
}
