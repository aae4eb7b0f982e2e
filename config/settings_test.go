package config

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_CreatesDefaultsWhenMissing(t *testing.T) {
	fs := afero.NewMemMapFs()
	m := NewManagerWithFs(fs, "config/config.json")

	s, err := m.Load()
	require.NoError(t, err)

	assert.True(t, s.Sync.EnableAdd)
	assert.True(t, s.Sync.EnableRemove)
	assert.True(t, s.Sync.VerifyAfterWrite)
	assert.Equal(t, ModeTwoWay, s.Sync.Bidirectional.Mode)
	assert.Equal(t, ScheduleDisabled, s.Scheduling.Mode)
	assert.Equal(t, 2, s.Scheduling.EveryNHours)
	assert.Equal(t, "03:30", s.Scheduling.DailyTime)
	assert.NotEmpty(t, s.Plex.ClientIdentifier)

	exists, err := afero.Exists(fs, "config/config.json")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoad_BackfillsMissingKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.json", []byte(`{
		"plex": {"account_token": "tok", "client_identifier": "abc"},
		"sync": {"enable_remove": false}
	}`), 0o644))

	s, err := NewManagerWithFs(fs, "c.json").Load()
	require.NoError(t, err)

	assert.Equal(t, "tok", s.Plex.AccountToken)
	assert.False(t, s.Sync.EnableRemove)
	assert.True(t, s.Sync.EnableAdd, "missing keys keep their defaults")
	assert.Equal(t, 3, s.Sync.VerifyAttempts)
	assert.Equal(t, 8787, s.Server.Port)
}

func TestLoad_MirrorWithoutSourceIsInvalid(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.json", []byte(`{"sync":{"bidirectional":{"mode":"mirror"}}}`), 0o644))

	s, err := NewManagerWithFs(fs, "c.json").Load()
	require.NoError(t, err)

	assert.Equal(t, ModeMirror, s.Sync.Bidirectional.Mode)
	assert.Empty(t, s.Sync.Bidirectional.SourceOfTruth)
	assert.ErrorIs(t, Validate(s), ErrMirrorSourceRequired)
}

func TestLoad_MigratesOneWayToMirror(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.json", []byte(`{
		"plex": {"client_identifier": "abc"},
		"sync": {"bidirectional": {"enabled": false}},
		"scheduling": {"every_n": 6}
	}`), 0o644))

	m := NewManagerWithFs(fs, "c.json")
	s, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, ModeMirror, s.Sync.Bidirectional.Mode)
	assert.Equal(t, "plex", s.Sync.Bidirectional.SourceOfTruth)
	assert.Equal(t, 6, s.Scheduling.EveryNHours)

	data, err := afero.ReadFile(fs, "c.json")
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	sched := onDisk["scheduling"].(map[string]any)
	_, legacy := sched["every_n"]
	assert.False(t, legacy, "migrated file is persisted")
}

func TestLoad_EnvOverridesAreNotPersisted(t *testing.T) {
	t.Setenv("WATCHSYNC_PLEX_TOKEN", "from-env")
	fs := afero.NewMemMapFs()
	m := NewManagerWithFs(fs, "c.json")

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", s.Plex.AccountToken)

	data, err := afero.ReadFile(fs, "c.json")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "from-env")
}

func TestValidate(t *testing.T) {
	valid := DefaultSettings()
	assert.NoError(t, Validate(valid))

	mirror := DefaultSettings()
	mirror.Sync.Bidirectional.Mode = ModeMirror
	mirror.Sync.Bidirectional.SourceOfTruth = ""
	assert.ErrorIs(t, Validate(mirror), ErrMirrorSourceRequired)

	badMode := DefaultSettings()
	badMode.Sync.Bidirectional.Mode = "sideways"
	assert.Error(t, Validate(badMode))

	badSchedule := DefaultSettings()
	badSchedule.Scheduling.Mode = "weekly"
	assert.Error(t, Validate(badSchedule))
}

func TestStore_UpdateNotifiesSubscribers(t *testing.T) {
	fs := afero.NewMemMapFs()
	store, err := NewStore(NewManagerWithFs(fs, "c.json"))
	require.NoError(t, err)

	ch := store.Subscribe()
	before := store.Snapshot()

	updated, err := store.Update(func(s *Settings) error {
		s.Scheduling.Enabled = true
		s.Scheduling.Mode = ScheduleHourly
		return nil
	})
	require.NoError(t, err)
	assert.True(t, updated.Scheduling.Enabled)

	select {
	case <-ch:
	default:
		t.Fatal("expected a change notification")
	}

	assert.False(t, before.Scheduling.Enabled, "earlier snapshots are unaffected")
	assert.Equal(t, ScheduleHourly, store.Snapshot().Scheduling.Mode)
}
