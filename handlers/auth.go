package handlers

import (
	"net/http"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/orchestrator"
	"watchsync/services/provider"
)

// AuthHandler reports whether each provider accepts its credentials. Probes
// are cached briefly so a polling UI does not hammer either service.
type AuthHandler struct {
	Settings  orchestrator.SettingsSource
	Providers provider.Factory
	Probes    *provider.ProbeCache
	Sync      *orchestrator.Service
}

func NewAuthHandler(settings orchestrator.SettingsSource, factory provider.Factory, probes *provider.ProbeCache, sync *orchestrator.Service) *AuthHandler {
	return &AuthHandler{Settings: settings, Providers: factory, Probes: probes, Sync: sync}
}

type authStatus struct {
	Configured bool `json:"configured"`
	provider.ProbeResult
	Last *provider.Status `json:"last,omitempty"`
}

// Status probes both providers.
// GET /api/auth/status
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	out := map[models.Side]authStatus{}

	providers, err := h.Providers(h.Settings.Snapshot())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	last := map[models.Side]provider.Status{}
	if h.Sync != nil {
		for _, st := range h.Sync.ProviderStatus() {
			last[st.Side] = st
		}
	}

	for _, side := range []models.Side{models.SidePlex, models.SideSimkl} {
		var st authStatus
		if p, ok := providers[side]; ok {
			if verr := p.Validate(); verr != nil {
				st.Error = verr.Error()
			} else {
				st.Configured = true
				st.ProbeResult = h.Probes.Probe(r.Context(), p)
			}
		}
		if l, ok := last[side]; ok {
			st.Last = &l
		}
		out[side] = st
	}
	writeJSON(w, http.StatusOK, out)
}

var _ orchestrator.SettingsSource = (*config.Store)(nil)
