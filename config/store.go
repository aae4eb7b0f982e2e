package config

import (
	"fmt"
	"sync"
)

// Store holds the live settings. Readers get value copies, so a sync run keeps
// one consistent view for its whole duration while the settings change underneath.
type Store struct {
	manager *Manager

	mu      sync.RWMutex
	current Settings

	subMu sync.Mutex
	subs  []chan struct{}
}

// NewStore loads the settings through manager.
func NewStore(manager *Manager) (*Store, error) {
	s, err := manager.Load()
	if err != nil {
		return nil, err
	}
	return &Store{manager: manager, current: s}, nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to the settings as stored on disk, persists the result and
// publishes it. Environment overrides are re-applied to the published copy only.
func (s *Store) Update(fn func(*Settings) error) (Settings, error) {
	s.mu.Lock()

	onDisk, err := s.manager.loadFile()
	if err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := fn(&onDisk); err != nil {
		s.mu.Unlock()
		return Settings{}, err
	}
	if err := s.manager.Save(onDisk); err != nil {
		s.mu.Unlock()
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}

	applyEnvOverrides(&onDisk)
	s.current = onDisk
	s.mu.Unlock()

	s.notify()
	return onDisk, nil
}

// Subscribe returns a channel that receives a value after every successful Update.
// Notifications coalesce; a slow reader sees at most one pending signal.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	s.subs = append(s.subs, ch)
	s.subMu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
