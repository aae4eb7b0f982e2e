package scheduler

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/orchestrator"
)

const (
	defaultSlice = 30 * time.Second
	stopTimeout  = 2 * time.Second
	farFuture    = 100 * 365 * 24 * time.Hour
)

// Runner executes one sync. orchestrator.Service satisfies it.
type Runner interface {
	Run(ctx context.Context, cmd string) (models.RunSummary, error)
	Running() bool
}

// SettingsSource provides scheduling settings and change notifications.
type SettingsSource interface {
	Snapshot() config.Settings
	Subscribe() <-chan struct{}
}

// Status is the scheduler's observable state.
type Status struct {
	Running   bool       `json:"running"`
	Enabled   bool       `json:"enabled"`
	Mode      string     `json:"mode"`
	LastTick  *time.Time `json:"last_tick,omitempty"`
	LastRunOK *bool      `json:"last_run_ok,omitempty"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	NextRunAt *time.Time `json:"next_run_at,omitempty"`
}

// Next returns the first fire time strictly after now. A disabled schedule
// returns a time a century away.
func Next(now time.Time, cfg config.SchedulingSettings) time.Time {
	if !cfg.Enabled {
		return now.Add(farFuture)
	}
	switch cfg.Mode {
	case config.ScheduleHourly:
		return now.Truncate(time.Hour).Add(time.Hour)
	case config.ScheduleEveryNHours:
		n := cfg.EveryNHours
		if n < 1 {
			n = 1
		}
		return now.Add(time.Duration(n) * time.Hour).Truncate(time.Minute)
	case config.ScheduleDailyTime:
		loc := location(cfg.Timezone)
		hh, mm := parseDailyTime(cfg.DailyTime)
		local := now.In(loc)
		at := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	default:
		return now.Add(farFuture)
	}
}

func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// parseDailyTime reads HH:MM; anything malformed means 03:30.
func parseDailyTime(v string) (int, int) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 3, 30
	}
	hh, err1 := strconv.Atoi(parts[0])
	mm, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 3, 30
	}
	return hh, mm
}

// Service fires scheduled syncs in the background.
type Service struct {
	settings SettingsSource
	runner   Runner
	log      zerolog.Logger
	now      func() time.Time
	slice    time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	wake    chan struct{}
	status  Status
}

// NewService creates a scheduler service
func NewService(settings SettingsSource, runner Runner, log zerolog.Logger) *Service {
	return &Service{
		settings: settings,
		runner:   runner,
		log:      log.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
		slice:    defaultSlice,
		wake:     make(chan struct{}, 1),
	}
}

// Start begins the background loop. Calling it twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.status.Running = true

	s.wg.Add(1)
	go s.loop(loopCtx)
	s.log.Info().Msg("scheduler started")
}

// Stop cancels the loop, including a scheduled run in progress, and waits up
// to two seconds for it to return.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.status.Running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
	case <-time.After(stopTimeout):
		s.log.Warn().Msg("scheduler did not stop in time")
	}
}

// Refresh makes the loop re-read its settings now.
func (s *Service) Refresh() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status returns a copy of the scheduler state.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	cfg := s.settings.Snapshot().Scheduling
	st.Enabled = cfg.Enabled && cfg.Mode != config.ScheduleDisabled
	st.Mode = cfg.Mode
	return st
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	changes := s.settings.Subscribe()

	var (
		cfg       config.SchedulingSettings
		next      time.Time
		recompute = true
	)
	for {
		if current := s.settings.Snapshot().Scheduling; recompute || current != cfg {
			cfg = current
			next = Next(s.now(), cfg)
			s.setNext(cfg, next)
			recompute = false
		}

		wait := next.Sub(s.now())
		if wait > s.slice {
			wait = s.slice
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			recompute = true
			continue
		case <-changes:
			// only a changed scheduling section moves the slot
			timer.Stop()
			continue
		case <-timer.C:
		}

		now := s.now()
		s.mu.Lock()
		s.status.LastTick = &now
		s.mu.Unlock()

		if now.Before(next) {
			continue
		}
		s.fire(ctx)
		recompute = true
	}
}

func (s *Service) setNext(cfg config.SchedulingSettings, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !cfg.Enabled || cfg.Mode == config.ScheduleDisabled {
		s.status.NextRunAt = nil
		return
	}
	s.status.NextRunAt = &next
	s.log.Debug().Time("next_run_at", next).Str("mode", cfg.Mode).Msg("next run scheduled")
}

// fire runs one sync unless another is already live; a busy slot is skipped.
func (s *Service) fire(ctx context.Context) {
	if s.runner.Running() {
		s.log.Info().Msg("sync already running, skipping this slot")
		return
	}
	s.log.Info().Msg("scheduled sync starting")
	summary, err := s.runner.Run(ctx, "scheduled")
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		s.log.Info().Msg("sync already running, skipping this slot")
		return
	}

	ok := err == nil && summary.ExitCode != nil && *summary.ExitCode == models.ExitOK
	at := s.now()
	s.mu.Lock()
	s.status.LastRunAt = &at
	s.status.LastRunOK = &ok
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Msg("scheduled sync failed to start")
		return
	}
	s.log.Info().Str("status", string(summary.Status)).Bool("ok", ok).Msg("scheduled sync finished")
}
