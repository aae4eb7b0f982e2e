package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"watchsync/models"
	"watchsync/services/provider"
)

// Outcome is what applying a plan achieved.
type Outcome struct {
	Added    models.SideTally
	Removed  models.SideTally
	Warnings []string
	// Failed counts items whose write did not succeed.
	Failed int
	// Transport is the first network-level failure seen; such runs end as warnings.
	Transport error
	// Confirmed lists every successful write for the event journal.
	Confirmed []models.PlannedWrite
}

// ProgressFunc receives write progress.
type ProgressFunc func(done, total int, note string)

// Engine applies plans through provider adapters.
type Engine struct {
	log zerolog.Logger
}

// NewEngine returns an engine that logs through log.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "sync").Logger()}
}

type batch struct {
	side   models.Side
	action string
	kind   models.Kind
	items  []models.Item
}

// batches orders the plan: every add before any remove, grouped by side then kind.
func batches(plan Plan) []batch {
	var out []batch
	for _, action := range []string{"add", "remove"} {
		src := plan.Adds
		if action == "remove" {
			src = plan.Removes
		}
		for _, side := range []models.Side{models.SidePlex, models.SideSimkl} {
			for _, kind := range []models.Kind{models.KindMovie, models.KindShow} {
				var items []models.Item
				for _, it := range src[side] {
					if it.Kind == kind {
						items = append(items, it)
					}
				}
				if len(items) > 0 {
					out = append(out, batch{side: side, action: action, kind: kind, items: items})
				}
			}
		}
	}
	return out
}

// Apply performs the plan. Item failures become warnings and the run goes on;
// cancellation and deadline errors stop it and are returned with what was done so far.
func (e *Engine) Apply(ctx context.Context, plan Plan, providers map[models.Side]provider.Provider, progress ProgressFunc) (Outcome, error) {
	var out Outcome
	total := plan.Count()
	done := 0

	for _, b := range batches(plan) {
		p, ok := providers[b.side]
		if !ok {
			return out, fmt.Errorf("no provider for %s", b.side)
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		if bw, isBulk := p.(provider.BulkWriter); isBulk && p.Capabilities().BulkWrite {
			err := e.applyBulk(ctx, bw, b, &out)
			done += len(b.items)
			if progress != nil {
				progress(done, total, fmt.Sprintf("%s %s %s", b.action, b.side, b.kind.Plural()))
			}
			if isContextErr(err) {
				return out, err
			}
			continue
		}

		for _, it := range b.items {
			if err := ctx.Err(); err != nil {
				return out, err
			}
			err := e.applyOne(ctx, p, b, it, &out)
			done++
			if progress != nil {
				progress(done, total, fmt.Sprintf("%s %s %s", b.action, b.side, it.Label()))
			}
			if isContextErr(err) {
				return out, err
			}
		}
	}
	return out, nil
}

func (e *Engine) applyBulk(ctx context.Context, bw provider.BulkWriter, b batch, out *Outcome) error {
	var (
		res provider.BulkResult
		err error
	)
	if b.action == "add" {
		res, err = bw.AddBulk(ctx, b.kind, b.items)
	} else {
		res, err = bw.RemoveBulk(ctx, b.kind, b.items)
	}
	if err != nil {
		if isContextErr(err) {
			return err
		}
		for _, it := range b.items {
			e.recordFailure(b, it, err, out)
		}
		return err
	}

	byKey := make(map[models.Key]models.Item, len(b.items))
	for _, it := range b.items {
		if k, ok := it.Key(); ok {
			byKey[k] = it
		}
	}
	for _, k := range res.OK {
		e.recordSuccess(b, byKey[k], out)
	}
	for k, ferr := range res.Failed {
		e.recordFailure(b, byKey[k], &provider.ItemError{Key: k, Op: b.action, Err: ferr}, out)
	}
	return nil
}

func (e *Engine) applyOne(ctx context.Context, p provider.Provider, b batch, it models.Item, out *Outcome) error {
	var (
		ok  bool
		err error
	)
	if b.action == "add" {
		ok, err = p.Add(ctx, it)
	} else {
		ok, err = p.Remove(ctx, it)
	}
	if isContextErr(err) {
		return err
	}
	if err == nil && !ok {
		err = errors.New("provider reported no change")
	}
	if err != nil {
		e.recordFailure(b, it, err, out)
		return err
	}
	e.recordSuccess(b, it, out)
	return nil
}

func (e *Engine) recordSuccess(b batch, it models.Item, out *Outcome) {
	key, _ := it.Key()
	if b.action == "add" {
		out.Added.Add(b.side, 1)
	} else {
		out.Removed.Add(b.side, 1)
	}
	out.Confirmed = append(out.Confirmed, models.PlannedWrite{
		Side: b.side, Action: b.action, Key: key.String(), Kind: it.Kind, Title: it.Title, Year: it.Year,
	})
	e.log.Info().Str("side", string(b.side)).Str("action", b.action).Str("key", key.String()).Str("title", it.Title).Msg("write applied")
}

func (e *Engine) recordFailure(b batch, it models.Item, err error, out *Outcome) {
	key, _ := it.Key()
	out.Failed++
	out.Warnings = append(out.Warnings, fmt.Sprintf("%s %s on %s failed: %v", b.action, key, b.side, err))
	if out.Transport == nil && provider.IsRecoverable(err) {
		out.Transport = err
	}
	e.log.Warn().Err(err).Str("side", string(b.side)).Str("action", b.action).Str("key", key.String()).Msg("write failed")
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
