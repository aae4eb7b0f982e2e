package config

import (
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps settings keys to the environment variables that override them.
var envBindings = map[string]string{
	"plex.account_token":  "WATCHSYNC_PLEX_TOKEN",
	"simkl.client_id":     "WATCHSYNC_SIMKL_CLIENT_ID",
	"simkl.client_secret": "WATCHSYNC_SIMKL_CLIENT_SECRET",
	"simkl.access_token":  "WATCHSYNC_SIMKL_ACCESS_TOKEN",
	"simkl.refresh_token": "WATCHSYNC_SIMKL_REFRESH_TOKEN",
	"log.level":           "WATCHSYNC_LOG_LEVEL",
	"server.port":         "WATCHSYNC_PORT",
	"runtime.state_dir":   "WATCHSYNC_STATE_DIR",
	"runtime.debug":       "WATCHSYNC_DEBUG",
}

func applyEnvOverrides(s *Settings) {
	v := viper.New()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	setString := func(key string, dst *string) {
		if val := strings.TrimSpace(v.GetString(key)); val != "" {
			*dst = val
		}
	}

	setString("plex.account_token", &s.Plex.AccountToken)
	setString("simkl.client_id", &s.Simkl.ClientID)
	setString("simkl.client_secret", &s.Simkl.ClientSecret)
	setString("simkl.access_token", &s.Simkl.AccessToken)
	setString("simkl.refresh_token", &s.Simkl.RefreshToken)
	setString("log.level", &s.Log.Level)
	setString("runtime.state_dir", &s.Runtime.StateDir)

	if port := v.GetInt("server.port"); port > 0 {
		s.Server.Port = port
	}
	if v.IsSet("runtime.debug") && v.GetBool("runtime.debug") {
		s.Runtime.Debug = true
	}
}
