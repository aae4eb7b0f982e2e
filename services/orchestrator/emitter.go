package orchestrator

import (
	"sync"
	"time"

	"watchsync/models"
)

// emitter numbers a run's progress events and keeps them monotonic in
// (stage, done): a lower stage is dropped, a lower done within a stage is
// raised to the last one. Nothing is emitted after a terminal stage.
type emitter struct {
	mu    sync.Mutex
	runID string
	seq   int
	rank  int
	done  int
	last  models.ProgressEvent
	ended bool
	now   func() time.Time
	sink  func(models.ProgressEvent)
}

func newEmitter(runID string, now func() time.Time, sink func(models.ProgressEvent)) *emitter {
	return &emitter{runID: runID, rank: -1, now: now, sink: sink}
}

func (e *emitter) emit(stage models.Stage, done, total int, note string, meta map[string]any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return false
	}
	rank := stage.Rank()
	if rank < e.rank {
		return false
	}
	if rank == e.rank && done < e.done {
		done = e.done
	}
	if total < done {
		total = done
	}
	e.rank, e.done = rank, done
	e.seq++
	ev := models.ProgressEvent{
		RunID: e.runID,
		Seq:   e.seq,
		Stage: stage,
		Done:  done,
		Total: total,
		Note:  note,
		Meta:  meta,
		TS:    e.now().UTC(),
	}
	e.last = ev
	if stage.Terminal() {
		e.ended = true
	}
	// sink runs under the lock so subscribers see events in seq order
	if e.sink != nil {
		e.sink(ev)
	}
	return true
}

func (e *emitter) lastEvent() (models.ProgressEvent, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.seq > 0
}

// sideProgress sums per-side paging progress so concurrent reads report one
// growing counter.
type sideProgress struct {
	mu    sync.Mutex
	done  map[models.Side]int
	total map[models.Side]int
}

func newSideProgress() *sideProgress {
	return &sideProgress{done: map[models.Side]int{}, total: map[models.Side]int{}}
}

func (p *sideProgress) update(side models.Side, done, total int) (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done > p.done[side] {
		p.done[side] = done
	}
	if total > p.total[side] {
		p.total[side] = total
	}
	var d, t int
	for _, v := range p.done {
		d += v
	}
	for _, v := range p.total {
		t += v
	}
	return d, t
}
