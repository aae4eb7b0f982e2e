package handlers

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"watchsync/config"
)

// redacted stands in for secrets in responses. Sending it back keeps the stored value.
const redacted = "********"

// SettingsHandler exposes the settings file.
type SettingsHandler struct {
	Store *config.Store
	Log   zerolog.Logger
}

func NewSettingsHandler(store *config.Store, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{Store: store, Log: log.With().Str("component", "http").Logger()}
}

func redact(s config.Settings) config.Settings {
	mask := func(v *string) {
		if *v != "" {
			*v = redacted
		}
	}
	mask(&s.Plex.AccountToken)
	mask(&s.Simkl.ClientSecret)
	mask(&s.Simkl.AccessToken)
	mask(&s.Simkl.RefreshToken)
	return s
}

// keepSecrets restores secrets the client sent back redacted.
func keepSecrets(dst *config.Settings, current config.Settings) {
	keep := func(v *string, cur string) {
		if *v == redacted {
			*v = cur
		}
	}
	keep(&dst.Plex.AccountToken, current.Plex.AccountToken)
	keep(&dst.Simkl.ClientSecret, current.Simkl.ClientSecret)
	keep(&dst.Simkl.AccessToken, current.Simkl.AccessToken)
	keep(&dst.Simkl.RefreshToken, current.Simkl.RefreshToken)
}

// GetSettings returns the settings with secrets masked.
// GET /api/config
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, redact(h.Store.Snapshot()))
}

// PutSettings replaces the settings. Values are stored as sent; nothing is
// forced on the sync switches.
// PUT /api/config
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := config.Validate(s); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := h.Store.Update(func(cur *config.Settings) error {
		keepSecrets(&s, *cur)
		*cur = s
		return nil
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.Log.Info().Msg("settings updated")
	writeJSON(w, http.StatusOK, redact(updated))
}
