package simkl

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
)

// activityStatuses are the per-type timestamps that can change plan-to-watch membership.
var activityStatuses = []string{"plantowatch", "completed", "dropped", "watching"}

type mediaNode struct {
	Title string                     `json:"title"`
	Year  json.RawMessage            `json:"year"`
	IDs   map[string]json.RawMessage `json:"ids"`
}

type listEntry struct {
	AddedAt string     `json:"added_to_watchlist_at"`
	Movie   *mediaNode `json:"movie"`
	Show    *mediaNode `json:"show"`
}

type allItemsResponse struct {
	Movies []listEntry `json:"movies"`
	Shows  []listEntry `json:"shows"`
}

// List reads movies and shows from the plan-to-watch list.
func (c *Client) List(ctx context.Context, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	movies, err := c.ListKind(ctx, models.KindMovie, nil)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(len(movies), 0)
	}
	shows, err := c.ListKind(ctx, models.KindShow, nil)
	if err != nil {
		return nil, err
	}
	all := append(movies, shows...)
	if progress != nil {
		progress(len(all), len(all))
	}

	c.mu.Lock()
	now := time.Now()
	c.status.LastRead = &now
	c.status.Total = len(all)
	c.status.LastError = ""
	c.mu.Unlock()
	return all, nil
}

// ListKind reads one media kind from the plan-to-watch list.
func (c *Client) ListKind(ctx context.Context, kind models.Kind, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}

	var resp allItemsResponse
	if err := c.getJSON(ctx, "/sync/all-items/"+kind.Plural()+"/plantowatch", &resp); err != nil {
		c.mu.Lock()
		c.status.LastError = err.Error()
		c.mu.Unlock()
		return nil, err
	}

	entries := resp.Movies
	if kind == models.KindShow {
		entries = resp.Shows
	}
	raws := make([]identity.RawItem, 0, len(entries))
	for _, e := range entries {
		primary, secondary := e.Movie, e.Show
		if kind == models.KindShow {
			primary, secondary = e.Show, e.Movie
		}
		node := primary
		if node == nil {
			node = secondary
		}
		if node == nil {
			continue
		}
		raws = append(raws, identity.SimklRaw{
			Kind:    string(kind),
			Title:   node.Title,
			Year:    rawText(node.Year),
			AddedAt: e.AddedAt,
			IDs:     flattenIDs(node.IDs),
		})
	}
	if progress != nil {
		progress(len(raws), len(raws))
	}
	return raws, nil
}

// Activities returns the change timestamps from /sync/activities, flattened to
// keys like "all", "movies.plantowatch" and "tv_shows.completed".
func (c *Client) Activities(ctx context.Context) (map[string]string, error) {
	if err := c.EnsureToken(ctx); err != nil {
		return nil, err
	}
	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, "/sync/activities", &raw); err != nil {
		return nil, err
	}
	return normalizeActivities(raw), nil
}

func normalizeActivities(raw map[string]json.RawMessage) map[string]string {
	out := make(map[string]string)

	// "all" is either a timestamp or {"all": timestamp}
	if v, ok := raw["all"]; ok {
		if s := rawText(v); s != "" {
			out["all"] = s
		} else {
			var nested map[string]json.RawMessage
			if json.Unmarshal(v, &nested) == nil {
				if s := rawText(nested["all"]); s != "" {
					out["all"] = s
				}
			}
		}
	}

	section := func(names ...string) map[string]json.RawMessage {
		for _, n := range names {
			var sec map[string]json.RawMessage
			if v, ok := raw[n]; ok && json.Unmarshal(v, &sec) == nil && sec != nil {
				return sec
			}
		}
		return nil
	}
	for label, names := range map[string][]string{
		"movies":   {"movies"},
		"tv_shows": {"tv_shows", "shows"},
	} {
		sec := section(names...)
		for _, field := range append([]string{"all"}, activityStatuses...) {
			if s := rawText(sec[field]); s != "" {
				out[label+"."+field] = s
			}
		}
	}
	return out
}

// ActivitySection maps a kind to its activities prefix.
func ActivitySection(kind models.Kind) string {
	if kind == models.KindShow {
		return "tv_shows"
	}
	return "movies"
}

// KindChanged reports whether any plan-to-watch relevant timestamp of kind
// moved forward between prev and curr. A missing current value means no change.
func KindChanged(kind models.Kind, prev, curr map[string]string) bool {
	sec := ActivitySection(kind)
	for _, status := range activityStatuses {
		key := sec + "." + status
		cur := models.ParseTimestamp(curr[key])
		if cur == 0 {
			continue
		}
		if cur > models.ParseTimestamp(prev[key]) {
			return true
		}
	}
	return false
}

func flattenIDs(ids map[string]json.RawMessage) map[string]string {
	out := make(map[string]string, len(ids))
	for k, v := range ids {
		if s := rawText(v); s != "" {
			out[k] = s
		}
	}
	return out
}

// rawText renders a JSON string or number; anything else yields "".
func rawText(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' || trimmed == "true" || trimmed == "false" {
		return ""
	}
	return trimmed
}
