package snapshot

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"watchsync/internal/fsutil"
	"watchsync/models"
)

// FileName is the snapshot file inside the state directory.
const FileName = "state.json"

// SideState is the last-known watchlist of one provider.
type SideState struct {
	Items models.Index
	// LastActivities holds SIMKL activity timestamps; empty for Plex.
	LastActivities map[string]string

	extra map[string]json.RawMessage
}

// Snapshot is the union view persisted after each successful run.
type Snapshot struct {
	Plex          SideState
	Simkl         SideState
	LastSyncEpoch int64

	extra map[string]json.RawMessage
}

// Side returns the state of one provider.
func (s Snapshot) Side(side models.Side) SideState {
	if side == models.SidePlex {
		return s.Plex
	}
	return s.Simkl
}

// SetSide replaces the items of one provider, keeping its other fields.
func (s *Snapshot) SetSide(side models.Side, items models.Index) {
	if side == models.SidePlex {
		s.Plex.Items = items
		return
	}
	s.Simkl.Items = items
}

// Empty reports whether neither side holds items.
func (s Snapshot) Empty() bool {
	return len(s.Plex.Items) == 0 && len(s.Simkl.Items) == 0
}

// Store owns the snapshot file. It is the only writer of that file.
type Store struct {
	fs   afero.Fs
	path string
	log  zerolog.Logger
	mu   sync.Mutex
}

// NewStore returns a store for the snapshot at path.
func NewStore(fs afero.Fs, path string, log zerolog.Logger) *Store {
	return &Store{fs: fs, path: path, log: log.With().Str("component", "state").Logger()}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Load reads the snapshot. A missing or malformed file yields an empty
// snapshot; entries whose key does not parse are dropped with a warning.
func (s *Store) Load() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	empty := Snapshot{Plex: SideState{Items: models.Index{}}, Simkl: SideState{Items: models.Index{}}}

	data, err := fsutil.ReadFileIfExists(s.fs, s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("snapshot unreadable, starting empty")
		return empty
	}
	if data == nil {
		return empty
	}

	snap, warnings, err := decode(data)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("snapshot malformed, starting empty")
		return empty
	}
	for _, w := range warnings {
		s.log.Warn().Msg(w)
	}
	return snap
}

// Save writes the snapshot atomically.
func (s *Store) Save(snap Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.fs, s.path, data)
}

// Reset removes the snapshot so the next run seeds from scratch.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fs.Remove(s.path); err != nil {
		if exists, _ := afero.Exists(s.fs, s.path); exists {
			return fmt.Errorf("remove snapshot: %w", err)
		}
	}
	return nil
}

func decode(data []byte) (Snapshot, []string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Snapshot{}, nil, err
	}

	var snap Snapshot
	var warnings []string
	for field, raw := range top {
		switch field {
		case "plex", "simkl":
			side, w, err := decodeSide(field, raw)
			if err != nil {
				return Snapshot{}, nil, fmt.Errorf("%s: %w", field, err)
			}
			warnings = append(warnings, w...)
			if field == "plex" {
				snap.Plex = side
			} else {
				snap.Simkl = side
			}
		case "last_sync_epoch":
			var epoch float64
			if err := json.Unmarshal(raw, &epoch); err == nil {
				snap.LastSyncEpoch = int64(epoch)
			}
		default:
			if snap.extra == nil {
				snap.extra = make(map[string]json.RawMessage)
			}
			snap.extra[field] = raw
		}
	}
	if snap.Plex.Items == nil {
		snap.Plex.Items = models.Index{}
	}
	if snap.Simkl.Items == nil {
		snap.Simkl.Items = models.Index{}
	}
	return snap, warnings, nil
}

func decodeSide(name string, raw json.RawMessage) (SideState, []string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return SideState{}, nil, err
	}

	side := SideState{Items: models.Index{}}
	var warnings []string
	for field, v := range fields {
		switch field {
		case "items":
			var items map[string]models.Item
			if err := json.Unmarshal(v, &items); err != nil {
				return SideState{}, nil, err
			}
			for rawKey, item := range items {
				key, err := models.ParseKey(rawKey)
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("%s: dropping snapshot entry with invalid key %q", name, rawKey))
					continue
				}
				side.Items[key] = item
			}
		case "last_activities":
			var acts map[string]json.RawMessage
			if err := json.Unmarshal(v, &acts); err == nil {
				side.LastActivities = make(map[string]string, len(acts))
				for k, a := range acts {
					var s string
					if json.Unmarshal(a, &s) == nil && s != "" {
						side.LastActivities[k] = s
					}
				}
			}
		default:
			if side.extra == nil {
				side.extra = make(map[string]json.RawMessage)
			}
			side.extra[field] = v
		}
	}
	return side, warnings, nil
}

func encodeSide(side SideState, withActivities bool) map[string]any {
	out := make(map[string]any, len(side.extra)+2)
	for k, v := range side.extra {
		out[k] = v
	}
	items := make(map[string]models.Item, len(side.Items))
	for key, item := range side.Items {
		items[key.String()] = item
	}
	out["items"] = items
	if withActivities && len(side.LastActivities) > 0 {
		out["last_activities"] = side.LastActivities
	}
	return out
}

func encode(snap Snapshot) ([]byte, error) {
	out := make(map[string]any, len(snap.extra)+3)
	for k, v := range snap.extra {
		out[k] = v
	}
	out["plex"] = encodeSide(snap.Plex, false)
	out["simkl"] = encodeSide(snap.Simkl, true)
	out["last_sync_epoch"] = snap.LastSyncEpoch
	return json.MarshalIndent(out, "", "  ")
}
