package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
	"watchsync/services/reconcile"
	"watchsync/services/simkl"
	"watchsync/services/snapshot"
)

// sync runs the stages of one run. A nil error means the run completed; item
// and transport failures along the way are recorded on the run.
func (s *Service) sync(r *run) error {
	ctx := r.ctx
	st := r.settings

	// validate
	r.emit(models.StageValidate, 0, 1, "checking configuration", nil)
	if err := config.Validate(st); err != nil {
		return provider.NewConfigError("", "%v", err)
	}
	policy, err := reconcile.PolicyFromSettings(st.Sync)
	if err != nil {
		return err
	}
	r.summary.Policy = policy.String()

	providers, err := s.opts.Providers(st)
	if err != nil {
		return err
	}
	for _, side := range sides {
		p, ok := providers[side]
		if !ok {
			return provider.NewConfigError(side, "provider is not configured")
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.providers = providers
	s.mu.Unlock()
	r.emit(models.StageValidate, 1, 1, r.summary.Policy, nil)
	s.publish(r)

	// auth
	if err := ctx.Err(); err != nil {
		return err
	}
	r.emit(models.StageAuth, 0, len(sides), "", nil)
	for i, side := range sides {
		if err := authenticate(ctx, providers[side]); err != nil {
			return err
		}
		r.emit(models.StageAuth, i+1, len(sides), string(side), nil)
	}

	// activities
	prev := s.opts.Snapshots.Load()
	reuse, activities, err := s.checkActivities(r, providers[models.SideSimkl], prev.Simkl)
	if err != nil {
		return err
	}

	// fetch
	if err := ctx.Err(); err != nil {
		return err
	}
	raws, err := s.fetch(r, providers, reuse)
	if err != nil {
		return err
	}

	// parse
	total := len(raws[models.SidePlex]) + len(raws[models.SideSimkl])
	r.emit(models.StageParse, 0, total, "normalizing", nil)
	idx := make(map[models.Side]models.Index, len(sides))
	for _, side := range sides {
		res := identity.BuildIndex(side, raws[side])
		r.summary.Warnings = append(r.summary.Warnings, res.Warnings...)
		idx[side] = res.Index
	}
	r.emit(models.StageParse, total, total, "", nil)

	// index
	for kind := range reuse {
		for k, it := range prev.Simkl.Items {
			if it.Kind != kind {
				continue
			}
			if _, dup := idx[models.SideSimkl][k]; !dup {
				idx[models.SideSimkl][k] = it
			}
		}
	}
	a, b := idx[models.SidePlex], idx[models.SideSimkl]
	r.summary.PlexPre = models.IntPtr(len(a))
	r.summary.SimklPre = models.IntPtr(len(b))
	r.summary.Timeline.Pre = true
	r.emit(models.StageIndex, 1, 1, "", map[string]any{"plex": len(a), "simkl": len(b)})
	s.publish(r)
	r.log.Info().Int("plex", len(a)).Int("simkl", len(b)).Str("policy", r.summary.Policy).Msg("watchlists indexed")

	// write
	plan := reconcile.Compute(policy, a, b, prev.Plex.Items, prev.Simkl.Items)
	r.summary.Planned = plan.Writes()
	r.emit(models.StageWrite, 0, plan.Count(), fmt.Sprintf("%d planned", plan.Count()), nil)

	if st.Sync.DryRun {
		r.summary.PlexPost = models.IntPtr(len(a))
		r.summary.SimklPost = models.IntPtr(len(b))
		r.summary.Timeline.Post = true
		r.log.Info().Int("planned", plan.Count()).Msg("dry run, nothing written")
		return nil
	}

	if plan.Count() > 0 {
		outcome, err := s.engine.Apply(ctx, plan, providers, func(done, total int, note string) {
			r.emit(models.StageWrite, done, total, note, nil)
		})
		r.outcome = outcome
		r.summary.Added = outcome.Added
		r.summary.Removed = outcome.Removed
		r.summary.Warnings = append(r.summary.Warnings, outcome.Warnings...)
		s.journalWrites(r, outcome)
		s.recordWriteMetrics(plan, outcome, err == nil)
		s.publish(r)
		if err != nil {
			return err
		}
	}

	// verify
	postA, postB, err := s.verify(r, plan, providers, a, b)
	if err != nil {
		return err
	}
	r.summary.PlexPost = models.IntPtr(len(postA))
	r.summary.SimklPost = models.IntPtr(len(postB))
	r.summary.Timeline.Post = true
	s.opts.Metrics.SetWatchlistSize(string(models.SidePlex), len(postA))
	s.opts.Metrics.SetWatchlistSize(string(models.SideSimkl), len(postB))

	// publish state
	if r.outcome.Failed > 0 || r.summary.Result == models.ResultDiverged || r.verifyErr != nil {
		r.log.Warn().
			Int("failed", r.outcome.Failed).
			Str("result", string(r.summary.Result)).
			Msg("not saving state; the next run re-checks")
		return nil
	}

	snap := prev
	snap.SetSide(models.SidePlex, postA)
	snap.SetSide(models.SideSimkl, postB)
	snap.LastSyncEpoch = s.now().Unix()
	if activities != nil {
		snap.Simkl.LastActivities = activities
	}
	if err := s.opts.Snapshots.Save(snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if s.opts.Stats != nil {
		if _, err := s.opts.Stats.Refresh(postA, postB); err != nil {
			r.log.Warn().Err(err).Msg("failed to update statistics")
			r.warn("statistics not updated: %v", err)
		}
	}
	return nil
}

func authenticate(ctx context.Context, p provider.Provider) error {
	if tr, ok := p.(provider.TokenRefresher); ok {
		if err := tr.EnsureToken(ctx); err != nil {
			return err
		}
	}
	ok, err := p.AuthProbe(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return provider.NewConfigError(p.Name(), "authentication failed")
	}
	return nil
}

// checkActivities decides which SIMKL kinds can be taken from the previous
// snapshot because their activity timestamps have not moved.
func (s *Service) checkActivities(r *run, p provider.Provider, prev snapshot.SideState) (map[models.Kind]bool, map[string]string, error) {
	ar, ok := p.(provider.ActivityReader)
	if !ok || !p.Capabilities().Activities || !r.settings.Sync.Activity.UseActivity {
		return nil, nil, nil
	}

	r.emit(models.StageActivities, 0, 1, "checking simkl activities", nil)
	acts, err := ar.Activities(r.ctx)
	if err != nil {
		if isContextErr(err) {
			return nil, nil, err
		}
		r.log.Warn().Err(err).Msg("activities unavailable, reading the full watchlist")
		r.emit(models.StageActivities, 1, 1, "unavailable", nil)
		return nil, nil, nil
	}

	reuse := map[models.Kind]bool{}
	if len(prev.LastActivities) > 0 && len(prev.Items) > 0 {
		for _, kind := range kinds {
			if !simkl.KindChanged(kind, prev.LastActivities, acts) {
				reuse[kind] = true
			}
		}
	}
	meta := map[string]any{}
	for _, kind := range kinds {
		meta[kind.Plural()] = !reuse[kind]
	}
	r.emit(models.StageActivities, 1, 1, "", meta)
	r.log.Debug().Interface("changed", meta).Msg("activities checked")
	return reuse, acts, nil
}

// fetch reads both sides concurrently.
func (s *Service) fetch(r *run, providers map[models.Side]provider.Provider, reuse map[models.Kind]bool) (map[models.Side][]identity.RawItem, error) {
	progress := newSideProgress()
	r.emit(models.StageFetch, 0, 0, "reading watchlists", nil)

	var mu sync.Mutex
	out := make(map[models.Side][]identity.RawItem, len(sides))

	g, gctx := errgroup.WithContext(r.ctx)
	for _, side := range sides {
		p := providers[side]
		var skip map[models.Kind]bool
		if side == models.SideSimkl {
			skip = reuse
		}
		g.Go(func() error {
			report := func(done, total int) {
				d, t := progress.update(side, done, total)
				r.emit(models.StageFetch, d, t, "reading "+string(side), nil)
			}
			items, err := readSide(gctx, p, skip, report)
			if err != nil {
				return err
			}
			mu.Lock()
			out[side] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// readSide lists a provider, skipping kinds that are being reused.
func readSide(ctx context.Context, p provider.Provider, skip map[models.Kind]bool, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	ar, ok := p.(provider.ActivityReader)
	if !ok || len(skip) == 0 {
		return p.List(ctx, progress)
	}
	var out []identity.RawItem
	for _, kind := range kinds {
		if skip[kind] {
			continue
		}
		items, err := ar.ListKind(ctx, kind, progress)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

// readBoth lists and indexes both sides concurrently.
func readBoth(ctx context.Context, providers map[models.Side]provider.Provider) (models.Index, models.Index, error) {
	var a, b models.Index
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		raws, err := providers[models.SidePlex].List(gctx, nil)
		if err != nil {
			return err
		}
		a = identity.BuildIndex(models.SidePlex, raws).Index
		return nil
	})
	g.Go(func() error {
		raws, err := providers[models.SideSimkl].List(gctx, nil)
		if err != nil {
			return err
		}
		b = identity.BuildIndex(models.SideSimkl, raws).Index
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

// verify classifies the run and returns the post-run indexes. Without a
// re-read the post state is projected from the confirmed writes.
func (s *Service) verify(r *run, plan reconcile.Plan, providers map[models.Side]provider.Provider, a, b models.Index) (models.Index, models.Index, error) {
	if plan.Count() == 0 {
		r.summary.Result = models.ResultDiverged
		if reconcile.Equal(a, b) {
			r.summary.Result = models.ResultEqual
		}
		return a, b, nil
	}

	postA, postB := project(a, b, plan, r.outcome.Confirmed)
	if !r.settings.Sync.VerifyAfterWrite {
		return postA, postB, nil
	}

	attempts := r.settings.Sync.VerifyAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(r.settings.Sync.VerifyDelaySec) * time.Second

	attempt := 0
	r.emit(models.StageVerify, 0, attempts, "re-reading both sides", nil)
	res, va, vb, err := reconcile.Verify(r.ctx, attempts, delay, func(ctx context.Context) (models.Index, models.Index, error) {
		attempt++
		idxA, idxB, err := readBoth(ctx, providers)
		r.emit(models.StageVerify, attempt, attempts, fmt.Sprintf("attempt %d", attempt), nil)
		return idxA, idxB, err
	})
	if err != nil {
		if isContextErr(err) {
			return nil, nil, err
		}
		r.verifyErr = err
		r.warn("verify failed: %v", err)
		return postA, postB, nil
	}
	r.summary.Result = res
	if res == models.ResultDiverged {
		onlyA, onlyB := reconcile.Diff(va, vb)
		r.log.Warn().Int("plex_only", len(onlyA)).Int("simkl_only", len(onlyB)).Msg("sides still differ after writes")
	}
	return va, vb, nil
}

// project applies the confirmed writes of plan to copies of a and b.
func project(a, b models.Index, plan reconcile.Plan, confirmed []models.PlannedWrite) (models.Index, models.Index) {
	ok := make(map[string]bool, len(confirmed))
	for _, w := range confirmed {
		ok[string(w.Side)+"|"+w.Action+"|"+w.Key] = true
	}
	out := map[models.Side]models.Index{models.SidePlex: a.Clone(), models.SideSimkl: b.Clone()}
	for _, side := range sides {
		for _, it := range plan.Adds[side] {
			if k, _ := it.Key(); ok[string(side)+"|add|"+k.String()] {
				out[side][k] = it
			}
		}
		for _, it := range plan.Removes[side] {
			if k, _ := it.Key(); ok[string(side)+"|remove|"+k.String()] {
				delete(out[side], k)
			}
		}
	}
	return out[models.SidePlex], out[models.SideSimkl]
}

// journalWrites appends one journal event per confirmed write.
func (s *Service) journalWrites(r *run, outcome reconcile.Outcome) {
	if s.opts.Stats == nil {
		return
	}
	for _, w := range outcome.Confirmed {
		if err := s.opts.Stats.RecordEvent(w.Action, w.Key, models.Source(w.Side), w.Title, string(w.Kind)); err != nil {
			r.log.Warn().Err(err).Str("key", w.Key).Msg("failed to journal write")
			return
		}
	}
}

func (s *Service) recordWriteMetrics(plan reconcile.Plan, outcome reconcile.Outcome, completed bool) {
	type bucket struct {
		side   models.Side
		action string
	}
	planned := map[bucket]int{}
	for _, w := range plan.Writes() {
		planned[bucket{w.Side, w.Action}]++
	}
	done := map[bucket]int{}
	for _, w := range outcome.Confirmed {
		done[bucket{w.Side, w.Action}]++
	}
	for k, n := range planned {
		failed := 0
		if completed {
			failed = n - done[k]
		}
		s.opts.Metrics.AddWrites(string(k.side), k.action, done[k], failed)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
