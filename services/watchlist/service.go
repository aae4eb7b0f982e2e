package watchlist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"watchsync/config"
	"watchsync/internal/fsutil"
	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
	"watchsync/services/snapshot"
	"watchsync/services/stats"
)

// HideFileName is the hide overlay file inside the state directory.
const HideFileName = "watchlist_hide.json"

var (
	ErrKeyRequired   = errors.New("key is required")
	ErrItemNotFound  = errors.New("item is not in the last snapshot")
	ErrNotRemoved    = errors.New("provider did not remove the item")
	ErrUnknownSide   = errors.New("side must be plex or simkl")
	ErrNoProviders   = errors.New("providers are not configured")
	errInvalidHidden = errors.New("hide overlay is not a JSON array")
)

// Entry statuses.
const (
	StatusBoth      = "both"
	StatusPlexOnly  = "plex_only"
	StatusSimklOnly = "simkl_only"
)

// Entry is one row of the merged watchlist view.
type Entry struct {
	Key        string   `json:"key"`
	Type       string   `json:"type"`
	Title      string   `json:"title"`
	Year       int      `json:"year,omitempty"`
	TMDB       string   `json:"tmdb,omitempty"`
	Status     string   `json:"status"`
	AddedEpoch int64    `json:"added_epoch"`
	AddedWhen  string   `json:"added_when,omitempty"`
	AddedSrc   string   `json:"added_src,omitempty"`
	Categories []string `json:"categories"`
}

// SettingsSource hands out the live settings.
type SettingsSource interface {
	Snapshot() config.Settings
}

// Options wires the service.
type Options struct {
	Fs        afero.Fs
	Path      string
	Snapshots *snapshot.Store
	Stats     *stats.Service
	Settings  SettingsSource
	Providers provider.Factory
	Logger    zerolog.Logger
}

// Service builds the merged watchlist view and owns the hide overlay. The
// overlay only affects what the view shows; reconciliation never reads it.
type Service struct {
	opts Options
	log  zerolog.Logger

	mu     sync.RWMutex
	hidden map[string]struct{}
}

// NewService loads the hide overlay. A missing or malformed file starts empty.
func NewService(opts Options) *Service {
	s := &Service{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "watchlist").Logger(),
		hidden: make(map[string]struct{}),
	}
	if err := s.load(); err != nil {
		s.log.Warn().Err(err).Str("path", opts.Path).Msg("ignoring unreadable hide overlay")
	}
	return s
}

func (s *Service) load() error {
	data, err := fsutil.ReadFileIfExists(s.opts.Fs, s.opts.Path)
	if err != nil || data == nil {
		return err
	}
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("%w: %v", errInvalidHidden, err)
	}
	for _, k := range keys {
		s.hidden[k] = struct{}{}
	}
	return nil
}

// saveLocked writes the overlay as a sorted JSON array.
func (s *Service) saveLocked() error {
	keys := make([]string, 0, len(s.hidden))
	for k := range s.hidden {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	data, err := json.Marshal(keys)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(s.opts.Fs, s.opts.Path, data)
}

// Hidden returns the hidden keys, sorted.
func (s *Service) Hidden() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.hidden))
	for k := range s.hidden {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Hide adds key to the overlay.
func (s *Service) Hide(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[key]; ok {
		return nil
	}
	s.hidden[key] = struct{}{}
	if err := s.saveLocked(); err != nil {
		delete(s.hidden, key)
		return fmt.Errorf("save hide overlay: %w", err)
	}
	return nil
}

// Unhide removes key from the overlay.
func (s *Service) Unhide(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hidden[key]; !ok {
		return nil
	}
	delete(s.hidden, key)
	if err := s.saveLocked(); err != nil {
		s.hidden[key] = struct{}{}
		return fmt.Errorf("save hide overlay: %w", err)
	}
	return nil
}

func (s *Service) isHidden(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.hidden[key]
	return ok
}

// List returns the merged view of the last snapshot, newest first. Hidden
// keys are left out.
func (s *Service) List() []Entry {
	snap := s.opts.Snapshots.Load()
	plex, simkl := snap.Plex.Items, snap.Simkl.Items

	keys := make(map[models.Key]struct{}, len(plex)+len(simkl))
	for k := range plex {
		keys[k] = struct{}{}
	}
	for k := range simkl {
		keys[k] = struct{}{}
	}

	out := make([]Entry, 0, len(keys))
	for k := range keys {
		if s.isHidden(k.String()) {
			continue
		}
		p, inPlex := plex[k]
		b, inSimkl := simkl[k]
		out = append(out, entry(k, p, inPlex, b, inSimkl))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedEpoch != out[j].AddedEpoch {
			return out[i].AddedEpoch > out[j].AddedEpoch
		}
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func entry(k models.Key, p models.Item, inPlex bool, b models.Item, inSimkl bool) Entry {
	info := p
	if !inPlex {
		info = b
	}
	e := Entry{
		Key:        k.String(),
		Type:       "movie",
		Title:      info.Title,
		Year:       info.Year,
		TMDB:       info.IDs.TMDB,
		Categories: []string{},
	}
	if info.Kind == models.KindShow {
		e.Type = "tv"
	}

	switch {
	case inPlex && inSimkl:
		e.Status = StatusBoth
		src, epoch := identity.Attribute(p, b)
		e.AddedEpoch = epoch
		switch src {
		case models.SourceSimkl:
			e.AddedWhen, e.AddedSrc = b.AddedAt, string(models.SourceSimkl)
		default:
			// undated on both sides still credits plex
			e.AddedWhen, e.AddedSrc = p.AddedAt, string(models.SourcePlex)
		}
	case inPlex:
		e.Status = StatusPlexOnly
		e.AddedEpoch, e.AddedWhen, e.AddedSrc = p.AddedEpoch(), p.AddedAt, string(models.SourcePlex)
	default:
		e.Status = StatusSimklOnly
		e.AddedEpoch, e.AddedWhen, e.AddedSrc = b.AddedEpoch(), b.AddedAt, string(models.SourceSimkl)
	}
	return e
}

// Delete removes the item on one provider. Only after a confirmed removal is
// the key hidden and a remove event journaled; the snapshot is left for the
// next run to reconcile.
func (s *Service) Delete(ctx context.Context, key string, side models.Side) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrKeyRequired
	}
	if side == "" {
		side = models.SidePlex
	}
	if side != models.SidePlex && side != models.SideSimkl {
		return ErrUnknownSide
	}
	k, err := models.ParseKey(key)
	if err != nil {
		return err
	}

	snap := s.opts.Snapshots.Load()
	item, ok := snap.Plex.Items[k]
	if !ok {
		item, ok = snap.Simkl.Items[k]
	}
	if !ok {
		return ErrItemNotFound
	}

	if s.opts.Providers == nil {
		return ErrNoProviders
	}
	providers, err := s.opts.Providers(s.opts.Settings.Snapshot())
	if err != nil {
		return err
	}
	p, ok := providers[side]
	if !ok {
		return provider.NewConfigError(side, "provider is not configured")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if tr, ok := p.(provider.TokenRefresher); ok {
		if err := tr.EnsureToken(ctx); err != nil {
			return err
		}
	}

	start := time.Now()
	removed, err := p.Remove(ctx, item)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotRemoved
	}

	if err := s.Hide(key); err != nil {
		return err
	}
	if s.opts.Stats != nil {
		if err := s.opts.Stats.RecordEvent("remove", key, models.Source(side), item.Title, string(item.Kind)); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to journal delete")
		}
	}
	s.log.Info().
		Str("key", key).
		Str("side", string(side)).
		Str("title", item.Title).
		Dur("took", time.Since(start)).
		Msg("watchlist item deleted")
	return nil
}
