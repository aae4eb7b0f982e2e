package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"watchsync/internal/fsutil"
)

// Policy modes for sync.bidirectional.mode.
const (
	ModeTwoWay = "two-way"
	ModeMirror = "mirror"
)

// Scheduling modes for scheduling.mode.
const (
	ScheduleDisabled    = "disabled"
	ScheduleHourly      = "hourly"
	ScheduleEveryNHours = "every_n_hours"
	ScheduleDailyTime   = "daily_time"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Plex       PlexSettings       `json:"plex"`
	Simkl      SimklSettings      `json:"simkl"`
	Sync       SyncSettings       `json:"sync"`
	Scheduling SchedulingSettings `json:"scheduling"`
	Runtime    RuntimeSettings    `json:"runtime"`
	Server     ServerSettings     `json:"server"`
	Log        LogConfig          `json:"log"`
	Metrics    MetricsSettings    `json:"metrics"`
}

type PlexSettings struct {
	AccountToken     string `json:"account_token"`
	ClientIdentifier string `json:"client_identifier,omitempty"`
}

type SimklSettings struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	TokenExpiresAt int64  `json:"token_expires_at"`
}

type SyncSettings struct {
	EnableAdd        bool                  `json:"enable_add"`
	EnableRemove     bool                  `json:"enable_remove"`
	VerifyAfterWrite bool                  `json:"verify_after_write"`
	VerifyAttempts   int                   `json:"verify_attempts"`
	VerifyDelaySec   int                   `json:"verify_delay_sec"`
	DryRun           bool                  `json:"dry_run"`
	Bidirectional    BidirectionalSettings `json:"bidirectional"`
	Activity         ActivitySettings      `json:"activity"`
}

type BidirectionalSettings struct {
	Enabled           bool   `json:"enabled"`
	Mode              string `json:"mode"`            // two-way | mirror
	SourceOfTruth     string `json:"source_of_truth"` // plex | simkl
	PropagateRemovals bool   `json:"propagate_removals"`
}

type ActivitySettings struct {
	UseActivity bool `json:"use_activity"`
}

type SchedulingSettings struct {
	Enabled     bool   `json:"enabled"`
	Mode        string `json:"mode"`
	EveryNHours int    `json:"every_n_hours"`
	DailyTime   string `json:"daily_time"`
	Timezone    string `json:"timezone"`
}

type RuntimeSettings struct {
	Debug       bool   `json:"debug"`
	StateDir    string `json:"state_dir"`
	TimeoutSec  int    `json:"timeout_sec"`
	SummaryKeep int    `json:"summary_keep"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	File       string `json:"file"`
	Level      string `json:"level"`
	MaxSize    int    `json:"max_size"`
	MaxAge     int    `json:"max_age"`
	MaxBackups int    `json:"max_backups"`
	Compress   bool   `json:"compress"`
}

type MetricsSettings struct {
	Enabled bool `json:"enabled"`
}

// StatePath returns the path of a file inside the runtime state directory.
func (s Settings) StatePath(name string) string {
	dir := strings.TrimSpace(s.Runtime.StateDir)
	if dir == "" {
		dir = "config"
	}
	return filepath.Join(dir, name)
}

func DefaultSettings() Settings {
	return Settings{
		Sync: SyncSettings{
			EnableAdd:        true,
			EnableRemove:     true,
			VerifyAfterWrite: true,
			VerifyAttempts:   3,
			VerifyDelaySec:   2,
			Bidirectional: BidirectionalSettings{
				Enabled: true,
				Mode:    ModeTwoWay,
			},
			Activity: ActivitySettings{UseActivity: true},
		},
		Scheduling: SchedulingSettings{
			Enabled:     false,
			Mode:        ScheduleDisabled,
			EveryNHours: 2,
			DailyTime:   "03:30",
			Timezone:    "Europe/Amsterdam",
		},
		Runtime: RuntimeSettings{
			StateDir:    "config",
			SummaryKeep: 50,
		},
		Server: ServerSettings{Host: "0.0.0.0", Port: 8787},
		Log: LogConfig{
			File:       "config/logs/watchsync.log",
			Level:      "info",
			MaxSize:    20, // MB per file
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	fs   afero.Fs
	path string
}

func NewManager(configPath string) *Manager {
	return NewManagerWithFs(afero.NewOsFs(), configPath)
}

// NewManagerWithFs is NewManager over an arbitrary filesystem.
func NewManagerWithFs(fs afero.Fs, configPath string) *Manager {
	return &Manager{fs: fs, path: configPath}
}

// Path returns the settings file location.
func (m *Manager) Path() string {
	return m.path
}

// Load reads the config file from disk or creates defaults if missing.
// Environment overrides are applied to the returned value but never persisted.
func (m *Manager) Load() (Settings, error) {
	s, err := m.loadFile()
	if err != nil {
		return Settings{}, err
	}
	applyEnvOverrides(&s)
	return s, nil
}

func (m *Manager) loadFile() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}

	data, err := fsutil.ReadFileIfExists(m.fs, m.path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	if data == nil {
		// create with defaults
		defaults := DefaultSettings()
		defaults.Plex.ClientIdentifier = uuid.NewString()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}

	// Decode into a raw map first so older layouts can be migrated
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}
	migrated := migrateRaw(raw)

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return Settings{}, err
	}

	// Decoding over the defaults backfills keys the file predates
	s := DefaultSettings()
	if err := json.Unmarshal(rawJSON, &s); err != nil {
		return Settings{}, fmt.Errorf("decode config: %w", err)
	}

	if strings.TrimSpace(s.Scheduling.DailyTime) == "" {
		s.Scheduling.DailyTime = "03:30"
	}
	if strings.TrimSpace(s.Scheduling.Mode) == "" {
		s.Scheduling.Mode = ScheduleDisabled
	}
	if strings.TrimSpace(s.Sync.Bidirectional.Mode) == "" {
		s.Sync.Bidirectional.Mode = ModeTwoWay
	}
	if s.Sync.VerifyAttempts < 1 {
		s.Sync.VerifyAttempts = 1
	}
	if s.Runtime.SummaryKeep <= 0 {
		s.Runtime.SummaryKeep = 50
	}
	if strings.TrimSpace(s.Plex.ClientIdentifier) == "" {
		s.Plex.ClientIdentifier = uuid.NewString()
		migrated = true
	}

	if migrated {
		if err := m.Save(s); err != nil {
			return Settings{}, fmt.Errorf("persist migrated config: %w", err)
		}
	}

	return s, nil
}

// migrateRaw rewrites legacy layouts in place and reports whether anything changed.
func migrateRaw(raw map[string]any) bool {
	changed := false

	syncRaw, _ := raw["sync"].(map[string]any)
	if syncRaw != nil {
		if bidi, ok := syncRaw["bidirectional"].(map[string]any); ok {
			// bidirectional.enabled=false used to mean one-way Plex -> SIMKL
			if enabled, ok := bidi["enabled"].(bool); ok && !enabled {
				if _, hasMode := bidi["mode"]; !hasMode || bidi["mode"] == ModeTwoWay {
					bidi["mode"] = ModeMirror
					bidi["source_of_truth"] = "plex"
				}
				bidi["enabled"] = true
				changed = true
			}
			if mode, ok := bidi["mode"].(string); ok && (mode == "two_way" || mode == "twoway") {
				bidi["mode"] = ModeTwoWay
				changed = true
			}
		}
	}

	if sched, ok := raw["scheduling"].(map[string]any); ok {
		if n, has := sched["every_n"]; has {
			if _, hasNew := sched["every_n_hours"]; !hasNew {
				sched["every_n_hours"] = n
			}
			delete(sched, "every_n")
			changed = true
		}
	}

	return changed
}

// Save writes the provided settings to disk atomically.
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return fsutil.WriteFileAtomic(m.fs, m.path, data)
}
