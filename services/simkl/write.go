package simkl

import (
	"context"
	"strconv"

	"watchsync/models"
	"watchsync/services/provider"
)

type writeEntry struct {
	To    string         `json:"to,omitempty"`
	Title string         `json:"title,omitempty"`
	Year  int            `json:"year,omitempty"`
	IDs   map[string]any `json:"ids"`
}

type writePayload struct {
	Movies []writeEntry `json:"movies,omitempty"`
	Shows  []writeEntry `json:"shows,omitempty"`
}

type writeResponse struct {
	NotFound struct {
		Movies []models.Item `json:"movies"`
		Shows  []models.Item `json:"shows"`
	} `json:"not_found"`
}

// payloadIDs renders ids the way the API expects: numeric ids as numbers.
func payloadIDs(ids models.IDs) map[string]any {
	out := make(map[string]any, 4)
	if ids.IMDB != "" {
		out["imdb"] = ids.IMDB
	}
	for ns, v := range map[string]string{"tmdb": ids.TMDB, "tvdb": ids.TVDB} {
		if v == "" {
			continue
		}
		if n, err := strconv.Atoi(v); err == nil {
			out[ns] = n
		} else {
			out[ns] = v
		}
	}
	if ids.Slug != "" {
		out["slug"] = ids.Slug
	}
	return out
}

func buildPayload(kind models.Kind, items []models.Item, to string) writePayload {
	entries := make([]writeEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, writeEntry{To: to, Title: it.Title, Year: it.Year, IDs: payloadIDs(it.IDs)})
	}
	if kind == models.KindShow {
		return writePayload{Shows: entries}
	}
	return writePayload{Movies: entries}
}

// AddBulk puts items of one kind on the plan-to-watch list in a single call.
func (c *Client) AddBulk(ctx context.Context, kind models.Kind, items []models.Item) (provider.BulkResult, error) {
	return c.bulk(ctx, "/sync/add-to-list", kind, items, "plantowatch", false)
}

// RemoveBulk removes items of one kind in a single history/remove call.
// Items the API reports as not found are already absent and count as removed.
func (c *Client) RemoveBulk(ctx context.Context, kind models.Kind, items []models.Item) (provider.BulkResult, error) {
	return c.bulk(ctx, "/sync/history/remove", kind, items, "", true)
}

func (c *Client) bulk(ctx context.Context, path string, kind models.Kind, items []models.Item, to string, notFoundOK bool) (provider.BulkResult, error) {
	res := provider.BulkResult{Failed: make(map[models.Key]error)}
	if len(items) == 0 {
		return res, nil
	}
	if err := c.EnsureToken(ctx); err != nil {
		return res, err
	}

	var resp writeResponse
	if err := c.postJSON(ctx, path, buildPayload(kind, items, to), &resp); err != nil {
		return res, err
	}

	notFound := resp.NotFound.Movies
	if kind == models.KindShow {
		notFound = resp.NotFound.Shows
	}
	for _, it := range items {
		key, ok := it.Key()
		if !ok {
			continue
		}
		if !notFoundOK && matchesAny(it, notFound) {
			res.Failed[key] = provider.ErrNotResolved
			continue
		}
		res.OK = append(res.OK, key)
	}
	return res, nil
}

func matchesAny(it models.Item, candidates []models.Item) bool {
	for _, cand := range candidates {
		if it.IDs.Matches(cand.IDs) || (it.IDs.Slug != "" && it.IDs.Slug == cand.IDs.Slug) {
			return true
		}
	}
	return false
}

// Add writes a single item through the bulk endpoint.
func (c *Client) Add(ctx context.Context, item models.Item) (bool, error) {
	return c.single(ctx, item, c.AddBulk)
}

// Remove removes a single item through the bulk endpoint.
func (c *Client) Remove(ctx context.Context, item models.Item) (bool, error) {
	return c.single(ctx, item, c.RemoveBulk)
}

func (c *Client) single(ctx context.Context, item models.Item, fn func(context.Context, models.Kind, []models.Item) (provider.BulkResult, error)) (bool, error) {
	res, err := fn(ctx, item.Kind, []models.Item{item})
	if err != nil {
		return false, err
	}
	key, _ := item.Key()
	if ferr, failed := res.Failed[key]; failed {
		return false, &provider.ItemError{Key: key, Op: "simkl write", Err: ferr}
	}
	return true, nil
}
