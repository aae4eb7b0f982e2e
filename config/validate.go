package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gookit/validate"
)

// ErrMirrorSourceRequired is returned when mirror mode has no source of truth.
var ErrMirrorSourceRequired = errors.New("sync.bidirectional.source_of_truth is required when mode=mirror")

// settingsRules flattens the fields with structural constraints.
type settingsRules struct {
	Mode           string `validate:"required|in:two-way,mirror"`
	SourceOfTruth  string `validate:"in:plex,simkl"`
	ScheduleMode   string `validate:"in:disabled,hourly,every_n_hours,daily_time"`
	VerifyAttempts int    `validate:"min:1|max:20"`
	VerifyDelaySec int    `validate:"min:0|max:300"`
	TimeoutSec     int    `validate:"min:0"`
	Port           int    `validate:"required|min:1|max:65535"`
	LogLevel       string `validate:"in:debug,info,warn,error"`
}

// Validate checks the settings used by a run. It does not check provider
// credentials; adapters validate their own sections.
func Validate(s Settings) error {
	rules := settingsRules{
		Mode:           strings.ToLower(strings.TrimSpace(s.Sync.Bidirectional.Mode)),
		SourceOfTruth:  strings.ToLower(strings.TrimSpace(s.Sync.Bidirectional.SourceOfTruth)),
		ScheduleMode:   strings.ToLower(strings.TrimSpace(s.Scheduling.Mode)),
		VerifyAttempts: s.Sync.VerifyAttempts,
		VerifyDelaySec: s.Sync.VerifyDelaySec,
		TimeoutSec:     s.Runtime.TimeoutSec,
		Port:           s.Server.Port,
		LogLevel:       strings.ToLower(strings.TrimSpace(s.Log.Level)),
	}

	v := validate.Struct(&rules)
	if !v.Validate() {
		return fmt.Errorf("invalid settings: %s", v.Errors.One())
	}

	if rules.Mode == ModeMirror && rules.SourceOfTruth == "" {
		return ErrMirrorSourceRequired
	}
	return nil
}
