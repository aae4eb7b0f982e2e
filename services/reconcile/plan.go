package reconcile

import (
	"strings"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/provider"
)

// Policy describes what a run is allowed to change.
type Policy struct {
	Mode              string
	Source            models.Side
	EnableAdd         bool
	EnableRemove      bool
	PropagateRemovals bool
}

// String renders the policy for summaries, e.g. "two-way" or "mirror:plex".
func (p Policy) String() string {
	if p.Mode == config.ModeMirror {
		return p.Mode + ":" + string(p.Source)
	}
	return p.Mode
}

// PolicyFromSettings builds a policy. Mirror without a source of truth is a
// configuration error.
func PolicyFromSettings(s config.SyncSettings) (Policy, error) {
	p := Policy{
		Mode:              strings.ToLower(strings.TrimSpace(s.Bidirectional.Mode)),
		EnableAdd:         s.EnableAdd,
		EnableRemove:      s.EnableRemove,
		PropagateRemovals: s.Bidirectional.PropagateRemovals,
	}
	switch p.Mode {
	case "", config.ModeTwoWay:
		p.Mode = config.ModeTwoWay
	case config.ModeMirror:
		switch strings.ToLower(strings.TrimSpace(s.Bidirectional.SourceOfTruth)) {
		case string(models.SidePlex):
			p.Source = models.SidePlex
		case string(models.SideSimkl):
			p.Source = models.SideSimkl
		default:
			return Policy{}, provider.NewConfigError("", "sync.bidirectional.source_of_truth is required when mode=mirror")
		}
	default:
		return Policy{}, provider.NewConfigError("", "unknown sync mode %q", s.Bidirectional.Mode)
	}
	return p, nil
}

// Plan lists the writes a run intends to perform, per side.
type Plan struct {
	Adds    map[models.Side][]models.Item
	Removes map[models.Side][]models.Item
}

// Count returns the number of planned writes.
func (p Plan) Count() int {
	n := 0
	for _, items := range p.Adds {
		n += len(items)
	}
	for _, items := range p.Removes {
		n += len(items)
	}
	return n
}

// Writes flattens the plan for reporting, adds first.
func (p Plan) Writes() []models.PlannedWrite {
	var out []models.PlannedWrite
	for _, action := range []string{"add", "remove"} {
		src := p.Adds
		if action == "remove" {
			src = p.Removes
		}
		for _, side := range []models.Side{models.SidePlex, models.SideSimkl} {
			for _, it := range src[side] {
				key, _ := it.Key()
				out = append(out, models.PlannedWrite{
					Side: side, Action: action, Key: key.String(), Kind: it.Kind, Title: it.Title, Year: it.Year,
				})
			}
		}
	}
	return out
}

// Compute derives the plan from the current indexes. prevA and prevB are the
// last snapshot and are only consulted when removal propagation is on.
//
// two-way adds what either side lacks. mirror makes the other side equal to
// the source: it adds the source's extra items and removes the rest.
func Compute(policy Policy, a, b, prevA, prevB models.Index) Plan {
	plan := Plan{Adds: map[models.Side][]models.Item{}, Removes: map[models.Side][]models.Item{}}

	onlyA, onlyB := Diff(a, b)

	switch policy.Mode {
	case config.ModeMirror:
		target := policy.Source.Other()
		toAdd, toRemove := onlyA, onlyB
		src, dst := a, b
		if policy.Source == models.SideSimkl {
			toAdd, toRemove = onlyB, onlyA
			src, dst = b, a
		}
		if policy.EnableAdd {
			plan.Adds[target] = pick(src, toAdd)
		}
		if policy.EnableRemove {
			plan.Removes[target] = pick(dst, toRemove)
		}

	default:
		var addToA, addToB, removeFromA, removeFromB []models.Key
		propagate := policy.PropagateRemovals && (len(prevA) > 0 || len(prevB) > 0)
		for _, k := range onlyB {
			// present on B only: either A dropped it since last time or B gained it
			if propagate && inBoth(k, prevA, prevB) {
				removeFromB = append(removeFromB, k)
				continue
			}
			addToA = append(addToA, k)
		}
		for _, k := range onlyA {
			if propagate && inBoth(k, prevA, prevB) {
				removeFromA = append(removeFromA, k)
				continue
			}
			addToB = append(addToB, k)
		}
		if policy.EnableAdd {
			plan.Adds[models.SidePlex] = pick(b, addToA)
			plan.Adds[models.SideSimkl] = pick(a, addToB)
		}
		if policy.EnableRemove {
			plan.Removes[models.SidePlex] = pick(a, removeFromA)
			plan.Removes[models.SideSimkl] = pick(b, removeFromB)
		}
	}
	return plan
}

func inBoth(k models.Key, prevA, prevB models.Index) bool {
	_, inA := prevA[k]
	_, inB := prevB[k]
	return inA && inB
}

func pick(idx models.Index, keys []models.Key) []models.Item {
	if len(keys) == 0 {
		return nil
	}
	out := make([]models.Item, 0, len(keys))
	for _, k := range keys {
		out = append(out, idx[k])
	}
	return out
}

// Diff returns the keys present on only one side, sorted. Two entries with
// different canonical keys still count as the same item when they share an
// imdb, tmdb or tvdb id.
func Diff(a, b models.Index) (onlyA, onlyB []models.Key) {
	aliasB := aliases(b)
	aliasA := aliases(a)
	for _, k := range a.Keys() {
		if _, ok := b[k]; ok {
			continue
		}
		if aliasB.match(a[k]) {
			continue
		}
		onlyA = append(onlyA, k)
	}
	for _, k := range b.Keys() {
		if _, ok := a[k]; ok {
			continue
		}
		if aliasA.match(b[k]) {
			continue
		}
		onlyB = append(onlyB, k)
	}
	return onlyA, onlyB
}

// Equal reports whether two indexes hold the same items.
func Equal(a, b models.Index) bool {
	onlyA, onlyB := Diff(a, b)
	return len(onlyA) == 0 && len(onlyB) == 0
}

// aliasKey scopes an id by kind; tmdb ids collide between movies and shows.
type aliasKey struct {
	kind models.Kind
	key  models.Key
}

type aliasSet map[aliasKey]struct{}

var aliasNamespaces = []models.Namespace{models.NamespaceIMDB, models.NamespaceTMDB, models.NamespaceTVDB}

func aliases(idx models.Index) aliasSet {
	set := make(aliasSet, len(idx)*2)
	for _, item := range idx {
		for _, ns := range aliasNamespaces {
			if v := item.IDs.Get(ns); v != "" {
				set[aliasKey{item.Kind, models.Key{Namespace: ns, Value: v}}] = struct{}{}
			}
		}
	}
	return set
}

func (s aliasSet) match(item models.Item) bool {
	for _, ns := range aliasNamespaces {
		if v := item.IDs.Get(ns); v != "" {
			if _, ok := s[aliasKey{item.Kind, models.Key{Namespace: ns, Value: v}}]; ok {
				return true
			}
		}
	}
	return false
}
