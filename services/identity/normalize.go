package identity

import (
	"fmt"
	"strings"

	"watchsync/models"
	"watchsync/utils/similarity"
)

// Normalize turns a raw provider item into a canonical key and item.
// ok is false when the item carries none of imdb, tmdb, tvdb or slug.
func Normalize(raw RawItem) (models.Key, models.Item, bool) {
	base := raw.Base()
	item := models.Item{
		Kind:    models.ParseKind(base.Kind),
		Title:   strings.TrimSpace(base.Title),
		Year:    models.CoerceYear(base.Year),
		IDs:     raw.ExtractIDs(),
		AddedAt: strings.TrimSpace(base.AddedAt),
	}
	key, ok := item.Key()
	if !ok {
		return models.Key{}, item, false
	}
	return key, item, true
}

// IndexResult is the outcome of indexing one provider's items.
type IndexResult struct {
	Index    models.Index
	Warnings []string
	Skipped  int
}

// BuildIndex normalizes raws into an index. Items without a usable id are
// skipped with one warning each; when two items share a key the first wins.
func BuildIndex(side models.Side, raws []RawItem) IndexResult {
	res := IndexResult{Index: make(models.Index, len(raws))}
	for _, raw := range raws {
		key, item, ok := Normalize(raw)
		if !ok {
			res.Skipped++
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: skipped unreconcilable item %q (no imdb/tmdb/tvdb/slug id)", side, item.Label()))
			continue
		}
		res.Add(side, key, item)
	}
	return res
}

// Add inserts a normalized item, recording a warning on a duplicate key.
// It reports whether the item was stored.
func (r *IndexResult) Add(side models.Side, key models.Key, item models.Item) bool {
	if r.Index == nil {
		r.Index = make(models.Index)
	}
	if existing, dup := r.Index[key]; dup {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s: duplicate key %s: kept %q, dropped %q", side, key, existing.Label(), item.Label()))
		return false
	}
	r.Index[key] = item
	return true
}

// Same reports whether two items refer to the same work: an agreeing
// imdb/tmdb/tvdb id, or failing that a normalized title and year match.
func Same(a, b models.Item) bool {
	if a.IDs.Matches(b.IDs) {
		return true
	}
	return similarity.SameTitle(a.Title, a.Year, b.Title, b.Year)
}

// Attribute decides which side an item present on both is credited to.
// The newer added_at wins; equal timestamps go to Plex; if neither side has a
// timestamp the item is credited to both.
func Attribute(plex, simkl models.Item) (models.Source, int64) {
	pe, se := plex.AddedEpoch(), simkl.AddedEpoch()
	switch {
	case pe == 0 && se == 0:
		return models.SourceBoth, 0
	case pe >= se:
		return models.SourcePlex, pe
	default:
		return models.SourceSimkl, se
	}
}
