package plex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"

	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
)

// List returns the whole watchlist. The discover endpoint is preferred; when it
// fails the metadata provider serves the same listing.
func (c *Client) List(ctx context.Context, progress provider.ProgressFunc) ([]identity.RawItem, error) {
	items, err := c.listFrom(ctx, plexDiscoverBaseURL, progress)
	if err != nil && ctx.Err() == nil && provider.IsRecoverable(err) {
		c.log.Warn().Err(err).Msg("discover watchlist failed, falling back to metadata provider")
		items, err = c.listFrom(ctx, plexMetadataBaseURL, progress)
	}
	if err != nil {
		c.recordStatus(0, err)
		return nil, err
	}

	c.enrich(ctx, items)

	raws := make([]identity.RawItem, 0, len(items))
	c.mu.Lock()
	for _, m := range items {
		raw := m.raw()
		if key, _, ok := identity.Normalize(raw); ok && raw.RatingKey != "" {
			c.ratingKeys[key] = raw.RatingKey
		}
		raws = append(raws, raw)
	}
	c.mu.Unlock()

	c.recordStatus(len(raws), nil)
	c.log.Debug().Int("items", len(raws)).Msg("plex watchlist read")
	return raws, nil
}

func (c *Client) listFrom(ctx context.Context, base string, progress provider.ProgressFunc) ([]metadata, error) {
	var all []metadata
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var page mediaContainer
		if err := c.getJSON(ctx, "plex watchlist", watchlistURL(base, offset), &page); err != nil {
			return nil, err
		}
		got := page.MediaContainer.Metadata
		all = append(all, got...)
		if progress != nil {
			progress(len(all), page.MediaContainer.TotalSize)
		}
		if len(got) < pageSize {
			return all, nil
		}
		offset += len(got)
	}
}

// enrich fetches full metadata for items whose listing carried no usable guid.
// Each item gets at most one lookup; failures leave the item as it was.
func (c *Client) enrich(ctx context.Context, items []metadata) {
	p := pool.New().WithMaxGoroutines(enrichWorkers)
	for i := range items {
		if !items[i].raw().ExtractIDs().Empty() || items[i].RatingKey == "" {
			continue
		}
		p.Go(func() {
			if ctx.Err() != nil {
				return
			}
			detail, err := c.details(ctx, string(items[i].RatingKey))
			if err != nil {
				c.log.Debug().Err(err).Str("rating_key", string(items[i].RatingKey)).Msg("plex enrichment failed")
				return
			}
			if detail.GUID != "" {
				items[i].GUID = detail.GUID
			}
			items[i].Guids = append(items[i].Guids, detail.Guids...)
			if items[i].Year == "" {
				items[i].Year = detail.Year
			}
		})
	}
	p.Wait()
}

func (c *Client) details(ctx context.Context, ratingKey string) (metadata, error) {
	var resp mediaContainer
	detailsURL := fmt.Sprintf("%s/library/metadata/%s?includeGuids=1", plexDiscoverBaseURL, url.PathEscape(ratingKey))
	if err := c.getJSON(ctx, "plex metadata", detailsURL, &resp); err != nil {
		return metadata{}, err
	}
	if len(resp.MediaContainer.Metadata) == 0 {
		return metadata{}, provider.ErrNotResolved
	}
	return resp.MediaContainer.Metadata[0], nil
}

// Add puts an item on the watchlist. "Already on watchlist" counts as success.
func (c *Client) Add(ctx context.Context, item models.Item) (bool, error) {
	return c.write(ctx, item, "addToWatchlist", http.StatusConflict, alreadyOnMarker)
}

// Remove takes an item off the watchlist. "Not on watchlist" counts as success.
func (c *Client) Remove(ctx context.Context, item models.Item) (bool, error) {
	return c.write(ctx, item, "removeFromWatchlist", http.StatusNotFound, notOnListMarker)
}

func (c *Client) write(ctx context.Context, item models.Item, action string, idempotentStatus int, idempotentMarker string) (bool, error) {
	key, _ := item.Key()
	ratingKey, err := c.resolve(ctx, item)
	if err != nil {
		return false, &provider.ItemError{Key: key, Op: "plex " + action, Err: err}
	}

	actionURL := fmt.Sprintf("%s/actions/%s?ratingKey=%s", plexDiscoverBaseURL, action, url.QueryEscape(ratingKey))
	resp, err := c.do(ctx, http.MethodPut, actionURL)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return true, nil
	case idempotentStatus:
		return true, nil
	}

	httpErr := provider.HTTPError("plex "+action, resp)
	if strings.Contains(strings.ToLower(httpErr.Body), idempotentMarker) {
		return true, nil
	}
	if httpErr.Transient() {
		return false, httpErr
	}
	return false, &provider.ItemError{Key: key, Op: "plex " + action, Err: httpErr}
}

// resolve finds the Plex rating key of an item: from the last listing when the
// item was seen there, otherwise by searching discover with each of the item's
// ids and finally its title.
func (c *Client) resolve(ctx context.Context, item models.Item) (string, error) {
	if key, ok := item.Key(); ok {
		c.mu.Lock()
		rk, cached := c.ratingKeys[key]
		c.mu.Unlock()
		if cached {
			return rk, nil
		}
	}

	var lastErr error
	for _, query := range searchCandidates(item) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		results, err := c.search(ctx, query, item.Kind)
		if err != nil {
			lastErr = err
			continue
		}
		for _, m := range results {
			raw := m.raw()
			_, candidate, _ := identity.Normalize(raw)
			if candidate.Kind != item.Kind || m.RatingKey == "" {
				continue
			}
			if identity.Same(item, candidate) {
				return string(m.RatingKey), nil
			}
		}
	}
	if lastErr != nil && !errors.Is(lastErr, provider.ErrNotResolved) {
		return "", lastErr
	}
	return "", provider.ErrNotResolved
}

func searchCandidates(item models.Item) []string {
	var out []string
	for _, ns := range []models.Namespace{models.NamespaceIMDB, models.NamespaceTMDB, models.NamespaceTVDB} {
		if v := item.IDs.Get(ns); v != "" {
			out = append(out, v)
		}
	}
	if t := strings.TrimSpace(item.Title); t != "" {
		out = append(out, t)
	}
	return out
}

func (c *Client) search(ctx context.Context, query string, kind models.Kind) ([]metadata, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("limit", "10")
	params.Set("searchProviders", "discover")
	params.Set("includeMetadata", "1")
	params.Set("includeGuids", "1")
	if kind == models.KindShow {
		params.Set("searchTypes", "tv")
	} else {
		params.Set("searchTypes", "movies")
	}

	var resp mediaContainer
	if err := c.getJSON(ctx, "plex search", plexDiscoverBaseURL+"/library/search?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	out := append([]metadata(nil), resp.MediaContainer.Metadata...)
	for _, group := range resp.MediaContainer.SearchResults {
		for _, r := range group.SearchResult {
			out = append(out, r.Metadata)
		}
	}
	return out, nil
}

func (c *Client) recordStatus(total int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.status.LastRead = &now
	if err != nil {
		c.status.LastError = err.Error()
		return
	}
	c.status.Total = total
	c.status.LastError = ""
}
