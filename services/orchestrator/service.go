package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/metrics"
	"watchsync/services/provider"
	"watchsync/services/reconcile"
	"watchsync/services/snapshot"
	"watchsync/services/stats"
)

var (
	ErrAlreadyRunning = errors.New("already_running")
	ErrNotRunning     = errors.New("no sync is running")
)

var (
	sides = []models.Side{models.SidePlex, models.SideSimkl}
	kinds = []models.Kind{models.KindMovie, models.KindShow}
)

// SettingsSource hands out immutable settings copies.
type SettingsSource interface {
	Snapshot() config.Settings
}

// Options wires the orchestrator.
type Options struct {
	Settings  SettingsSource
	Providers provider.Factory
	Snapshots *snapshot.Store
	Stats     *stats.Service
	Summaries *SummaryStore
	Broker    *Broker
	Metrics   metrics.Recorder
	Version   string
	Logger    zerolog.Logger
}

// Status is the live view of the orchestrator.
type Status struct {
	Running  bool                  `json:"running"`
	Summary  *models.RunSummary    `json:"summary,omitempty"`
	Progress *models.ProgressEvent `json:"progress,omitempty"`
}

// Service runs syncs one at a time.
type Service struct {
	opts   Options
	log    zerolog.Logger
	engine *reconcile.Engine
	now    func() time.Time

	// runMu is held for the whole duration of a run.
	runMu sync.Mutex

	mu        sync.RWMutex
	current   *models.RunSummary
	cancel    context.CancelFunc
	emitter   *emitter
	providers map[models.Side]provider.Provider
}

// NewService creates the orchestrator. The last stored summary, if any,
// becomes the initial status.
func NewService(opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop()
	}
	if opts.Broker == nil {
		opts.Broker = NewBroker(opts.Logger)
	}
	s := &Service{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "sync").Logger(),
		engine: reconcile.NewEngine(opts.Logger),
		now:    time.Now,
	}
	if opts.Summaries != nil {
		if last, ok := opts.Summaries.Latest(); ok {
			s.current = &last
		}
	}
	return s
}

// Broker returns the event broker.
func (s *Service) Broker() *Broker { return s.opts.Broker }

type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	settings  config.Settings
	summary   models.RunSummary
	em        *emitter
	log       zerolog.Logger
	outcome   reconcile.Outcome
	verifyErr error
}

func (r *run) emit(stage models.Stage, done, total int, note string, meta map[string]any) {
	r.em.emit(stage, done, total, note, meta)
}

func (r *run) warn(format string, args ...any) {
	r.summary.Warnings = append(r.summary.Warnings, fmt.Sprintf(format, args...))
}

// Start launches a run in the background and returns its id. It fails with
// ErrAlreadyRunning while another run is live.
func (s *Service) Start(cmd string) (string, error) {
	r, err := s.begin(context.Background(), cmd)
	if err != nil {
		return "", err
	}
	go s.execute(r)
	return r.id, nil
}

// Run performs a run in the calling goroutine and returns its final summary.
// Cancelling ctx cancels the run.
func (s *Service) Run(ctx context.Context, cmd string) (models.RunSummary, error) {
	r, err := s.begin(ctx, cmd)
	if err != nil {
		return models.RunSummary{}, err
	}
	return s.execute(r), nil
}

// Cancel asks the live run to stop at its next checkpoint.
func (s *Service) Cancel() error {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel == nil {
		return ErrNotRunning
	}
	s.log.Info().Msg("cancel requested")
	cancel()
	return nil
}

// Running reports whether a run is live.
func (s *Service) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancel != nil
}

// Status returns the live or last summary and the latest progress event.
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Running: s.cancel != nil}
	if s.current != nil {
		summary := s.current.Clone()
		st.Summary = &summary
	}
	if s.emitter != nil {
		if ev, ok := s.emitter.lastEvent(); ok {
			st.Progress = &ev
		}
	}
	return st
}

// ProviderStatus returns what the adapters of the last run observed.
func (s *Service) ProviderStatus() []provider.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []provider.Status
	for _, side := range sides {
		if sr, ok := s.providers[side].(provider.StatusReporter); ok {
			out = append(out, sr.Status())
		}
	}
	return out
}

func (s *Service) begin(parent context.Context, cmd string) (*run, error) {
	if !s.runMu.TryLock() {
		return nil, ErrAlreadyRunning
	}

	settings := s.opts.Settings.Snapshot()
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(parent)
	if settings.Runtime.TimeoutSec > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, time.Duration(settings.Runtime.TimeoutSec)*time.Second)
		parentCancel := cancel
		cancel = func() {
			cancelTimeout()
			parentCancel()
		}
	}

	r := &run{
		id:       id,
		ctx:      ctx,
		cancel:   cancel,
		settings: settings,
		log:      s.log.With().Str("run_id", id).Logger(),
		summary: models.RunSummary{
			RunID:     id,
			Cmd:       cmd,
			Version:   s.opts.Version,
			DryRun:    settings.Sync.DryRun,
			StartedAt: s.now().UTC(),
			Result:    models.ResultUnknown,
			Status:    models.SyncStatusRunning,
			Running:   true,
			Timeline:  models.Timeline{Start: true},
		},
	}
	r.em = newEmitter(id, s.now, func(ev models.ProgressEvent) {
		s.opts.Broker.Publish(EventProgress, ev)
	})

	s.mu.Lock()
	s.cancel = cancel
	s.emitter = r.em
	s.mu.Unlock()
	s.publish(r)

	r.log.Info().Str("cmd", cmd).Bool("dry_run", settings.Sync.DryRun).Msg("🔄 sync started")
	return r, nil
}

func (s *Service) execute(r *run) models.RunSummary {
	defer s.runMu.Unlock()
	defer r.cancel()

	err := s.sync(r)
	if err != nil && r.ctx.Err() != nil {
		err = r.ctx.Err()
	}
	s.finish(r, err)
	return r.summary.Clone()
}

// publish makes the run's summary visible to readers and subscribers.
func (s *Service) publish(r *run) {
	summary := r.summary.Clone()
	s.mu.Lock()
	s.current = &summary
	s.mu.Unlock()
	s.opts.Broker.Publish(EventSummary, summary)
}

func (s *Service) finish(r *run, err error) {
	now := s.now().UTC()
	sum := &r.summary

	stage := models.StageDone
	exit := models.ExitOK
	switch {
	case err == nil:
		switch {
		case r.outcome.Transport != nil || r.verifyErr != nil:
			sum.Status = models.SyncStatusWarning
			exit = models.ExitRecoverable
		case r.outcome.Failed > 0:
			sum.Status = models.SyncStatusWarning
		default:
			sum.Status = models.SyncStatusSuccess
		}
	case errors.Is(err, context.DeadlineExceeded):
		stage = models.StageTimeout
		sum.Status = models.SyncStatusWarning
		sum.Errors = append(sum.Errors, "timeout")
		exit = models.ExitRecoverable
	case errors.Is(err, context.Canceled):
		stage = models.StageCancelled
		sum.Status = models.SyncStatusCancelled
		exit = models.ExitRecoverable
	case provider.IsConfig(err):
		stage = models.StageError
		sum.Status = models.SyncStatusFailed
		sum.Errors = append(sum.Errors, err.Error())
		exit = models.ExitConfig
	case provider.IsRecoverable(err):
		stage = models.StageError
		sum.Status = models.SyncStatusWarning
		sum.Errors = append(sum.Errors, err.Error())
		exit = models.ExitRecoverable
	default:
		stage = models.StageError
		sum.Status = models.SyncStatusFailed
		sum.Errors = append(sum.Errors, err.Error())
		exit = models.ExitUnexpected
	}

	sum.FinishedAt = &now
	sum.DurationSec = now.Sub(sum.StartedAt).Seconds()
	sum.ExitCode = models.IntPtr(exit)
	sum.Running = false
	sum.Timeline.Done = true

	if s.opts.Summaries != nil {
		if name, serr := s.opts.Summaries.Save(*sum); serr != nil {
			r.log.Error().Err(serr).Msg("failed to write run summary")
		} else {
			r.log.Debug().Str("file", name).Msg("run summary written")
		}
	}
	s.opts.Metrics.ObserveRun(string(sum.Status), exit, now.Sub(sum.StartedAt))

	r.emit(stage, 1, 1, string(sum.Status), map[string]any{"exit_code": exit, "result": sum.Result})
	s.publish(r)

	s.mu.Lock()
	s.cancel = nil
	s.mu.Unlock()

	ev := r.log.Info()
	if exit != models.ExitOK {
		ev = r.log.Warn().Err(err)
	}
	ev.Str("status", string(sum.Status)).
		Str("result", string(sum.Result)).
		Int("exit_code", exit).
		Float64("duration_sec", sum.DurationSec).
		Msg("sync finished")
}
