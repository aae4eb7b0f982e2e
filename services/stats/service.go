package stats

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"watchsync/internal/fsutil"
	"watchsync/models"
	"watchsync/services/identity"
)

const (
	// FileName is the journal file inside the state directory.
	FileName = "statistics.json"

	MaxEvents  = 5000
	MaxSamples = 4000

	week  = 7 * 24 * time.Hour
	month = 30 * 24 * time.Hour
)

var ErrInvalidAction = errors.New("action must be add or remove")

// Counters are cumulative totals derived from union diffs.
type Counters struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// LastRun is the diff of the most recent refresh.
type LastRun struct {
	Added   int   `json:"added"`
	Removed int   `json:"removed"`
	TS      int64 `json:"ts"`
}

type document struct {
	Events      []models.EventRecord         `json:"events"`
	Samples     []models.CountSample         `json:"samples"`
	Current     map[string]models.UnionEntry `json:"current"`
	Counters    Counters                     `json:"counters"`
	LastRun     LastRun                      `json:"last_run"`
	GeneratedAt string                       `json:"generated_at,omitempty"`
}

// Counts is the headline trio returned by a refresh.
type Counts struct {
	Now   int `json:"now"`
	Week  int `json:"week"`
	Month int `json:"month"`
}

// BySource splits the current union by where each key lives.
type BySource struct {
	Plex       int `json:"plex"`
	Simkl      int `json:"simkl"`
	Both       int `json:"both"`
	PlexTotal  int `json:"plex_total"`
	SimklTotal int `json:"simkl_total"`
}

// Window reports the floors used for the week and month counts.
type Window struct {
	WeekStart  string `json:"week_start"`
	MonthStart string `json:"month_start"`
}

// Overview is the read model served to the UI.
type Overview struct {
	GeneratedAt string   `json:"generated_at"`
	Now         int      `json:"now"`
	Week        int      `json:"week"`
	Month       int      `json:"month"`
	Added       int      `json:"added"`
	Removed     int      `json:"removed"`
	New         int      `json:"new"`
	Del         int      `json:"del"`
	BySource    BySource `json:"by_source"`
	Window      Window   `json:"window"`
}

// Service is the statistics journal. It owns its file; every mutation is
// persisted before the call returns.
type Service struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	log  zerolog.Logger
	now  func() time.Time
	data document
}

// NewService loads the journal at path. A missing or unreadable journal starts empty.
func NewService(fs afero.Fs, path string, log zerolog.Logger) *Service {
	s := &Service{
		fs:   fs,
		path: path,
		log:  log.With().Str("component", "stats").Logger(),
		now:  time.Now,
	}
	s.load()
	return s
}

func (s *Service) load() {
	s.data = document{Current: map[string]models.UnionEntry{}}
	raw, err := fsutil.ReadFileIfExists(s.fs, s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("failed to read statistics, starting empty")
		return
	}
	if raw == nil {
		return
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("statistics file is malformed, starting empty")
		return
	}
	if doc.Current == nil {
		doc.Current = map[string]models.UnionEntry{}
	}
	if doc.Counters == (Counters{}) {
		for _, ev := range doc.Events {
			switch ev.Action {
			case "add":
				doc.Counters.Added++
			case "remove":
				doc.Counters.Removed++
			}
		}
	}
	s.data = doc
}

func (s *Service) save(now time.Time) error {
	s.data.GeneratedAt = formatUTC(now)
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, s.path, raw); err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}
	return nil
}

// Union merges both sides by canonical key. A key on both sides lives in both
// and is credited to the side with the newer added_at, keeping the Plex title
// when it has one.
func Union(plex, simkl models.Index) map[string]models.UnionEntry {
	out := make(map[string]models.UnionEntry, len(plex)+len(simkl))
	for k, it := range simkl {
		out[k.String()] = models.UnionEntry{Src: models.SourceSimkl, Title: it.Title, Type: string(it.Kind)}
	}
	for k, it := range plex {
		key := k.String()
		entry := models.UnionEntry{Src: models.SourcePlex, Title: it.Title, Type: string(it.Kind)}
		if prev, ok := out[key]; ok {
			entry.Src = models.SourceBoth
			entry.Credit, _ = identity.Attribute(it, simkl[k])
			if entry.Title == "" {
				entry.Title = prev.Title
			}
			if entry.Type == "" {
				entry.Type = prev.Type
			}
		}
		out[key] = entry
	}
	return out
}

// Refresh diffs the union of both sides against the previous union, journals
// one event per added and removed key and appends a count sample.
func (s *Service) Refresh(plex, simkl models.Index) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	ts := now.Unix()
	prev := s.data.Current
	cur := Union(plex, simkl)

	var added, removed []string
	for k := range cur {
		if _, ok := prev[k]; !ok {
			added = append(added, k)
		}
	}
	for k := range prev {
		if _, ok := cur[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	for _, k := range added {
		e := cur[k]
		s.appendEvent(models.EventRecord{TS: ts, Action: "add", Key: k, Source: e.EventSource(), Title: e.Title, Type: e.Type})
	}
	for _, k := range removed {
		e := prev[k]
		s.appendEvent(models.EventRecord{TS: ts, Action: "remove", Key: k, Source: e.EventSource(), Title: e.Title, Type: e.Type})
	}

	s.data.Counters.Added += len(added)
	s.data.Counters.Removed += len(removed)
	s.data.LastRun = LastRun{Added: len(added), Removed: len(removed), TS: ts}
	s.data.Current = cur
	s.data.Samples = append(s.data.Samples, models.CountSample{TS: ts, Count: len(cur)})
	if n := len(s.data.Samples); n > MaxSamples {
		s.data.Samples = append([]models.CountSample(nil), s.data.Samples[n-MaxSamples:]...)
	}

	if len(added) > 0 || len(removed) > 0 {
		s.log.Info().Int("added", len(added)).Int("removed", len(removed)).Int("total", len(cur)).Msg("watchlist union changed")
	}

	counts := Counts{
		Now:   len(cur),
		Week:  s.countAt(now.Add(-week).Unix()),
		Month: s.countAt(now.Add(-month).Unix()),
	}
	return counts, s.save(now)
}

// RecordEvent journals a single confirmed write. Counters are left alone;
// they only move on Refresh.
func (s *Service) RecordEvent(action, key string, source models.Source, title, typ string) error {
	if action != "add" && action != "remove" {
		return ErrInvalidAction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.appendEvent(models.EventRecord{TS: now.Unix(), Action: action, Key: key, Source: source, Title: title, Type: typ})
	return s.save(now)
}

func (s *Service) appendEvent(ev models.EventRecord) {
	s.data.Events = append(s.data.Events, ev)
	if n := len(s.data.Events); n > MaxEvents {
		s.data.Events = append([]models.EventRecord(nil), s.data.Events[n-MaxEvents:]...)
	}
}

// countAt returns the count of the latest sample at or before floor, or the
// earliest sample when none is that old.
func (s *Service) countAt(floor int64) int {
	if len(s.data.Samples) == 0 {
		return 0
	}
	samples := append([]models.CountSample(nil), s.data.Samples...)
	sort.SliceStable(samples, func(i, j int) bool { return samples[i].TS < samples[j].TS })

	best := samples[0]
	for _, sm := range samples {
		if sm.TS > floor {
			break
		}
		best = sm
	}
	return best.Count
}

// Overview summarizes the journal. When plex and simkl are non-nil the union
// is computed from them instead of the last refresh.
func (s *Service) Overview(plex, simkl models.Index) Overview {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	weekFloor := now.Add(-week)
	monthFloor := now.Add(-month)

	cur := s.data.Current
	if plex != nil || simkl != nil {
		cur = Union(plex, simkl)
	}

	var by BySource
	for _, e := range cur {
		switch e.Src {
		case models.SourcePlex:
			by.Plex++
		case models.SourceSimkl:
			by.Simkl++
		case models.SourceBoth:
			by.Both++
		}
	}
	by.PlexTotal = by.Plex + by.Both
	by.SimklTotal = by.Simkl + by.Both

	return Overview{
		GeneratedAt: formatUTC(now),
		Now:         len(cur),
		Week:        s.countAt(weekFloor.Unix()),
		Month:       s.countAt(monthFloor.Unix()),
		Added:       s.data.Counters.Added,
		Removed:     s.data.Counters.Removed,
		New:         s.data.LastRun.Added,
		Del:         s.data.LastRun.Removed,
		BySource:    by,
		Window:      Window{WeekStart: formatUTC(weekFloor), MonthStart: formatUTC(monthFloor)},
	}
}

// Events returns up to limit of the most recent events, newest first.
// A limit of zero or less returns all of them.
func (s *Service) Events(limit int, action string) []models.EventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	action = strings.ToLower(strings.TrimSpace(action))
	out := make([]models.EventRecord, 0, len(s.data.Events))
	for i := len(s.data.Events) - 1; i >= 0; i-- {
		ev := s.data.Events[i]
		if action != "" && ev.Action != action {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func formatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
