package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/identity"
	"watchsync/services/provider"
)

var (
	plexTVBaseURL       = "https://plex.tv/api/v2"
	plexDiscoverBaseURL = "https://discover.provider.plex.tv"
	plexMetadataBaseURL = "https://metadata.provider.plex.tv"
)

const (
	pageSize          = 100
	enrichWorkers     = 10
	productName       = "watchsync"
	placeholderToken  = "YOUR_PLEX_TOKEN"
	alreadyOnMarker   = "already on watchlist"
	notOnListMarker   = "not on watchlist"
	requestsPerSecond = 10
)

// Client reads and writes the Plex account watchlist through the discover API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	token      string
	clientID   string
	log        zerolog.Logger

	mu         sync.Mutex
	ratingKeys map[models.Key]string
	status     provider.Status
}

var (
	_ provider.Provider       = (*Client)(nil)
	_ provider.StatusReporter = (*Client)(nil)
)

// NewClient creates a Plex adapter from the plex settings section.
func NewClient(cfg config.PlexSettings, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
		token:      strings.TrimSpace(cfg.AccountToken),
		clientID:   strings.TrimSpace(cfg.ClientIdentifier),
		log:        log.With().Str("component", "plex").Logger(),
		ratingKeys: make(map[models.Key]string),
		status:     provider.Status{Side: models.SidePlex},
	}
}

func (c *Client) Name() models.Side { return models.SidePlex }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsDryRun:  true,
		SupportsCancel:  true,
		SupportsTimeout: true,
		Bidirectional:   true,
		StatusStream:    true,
	}
}

// Validate requires a real account token.
func (c *Client) Validate() error {
	if c.token == "" || strings.EqualFold(c.token, placeholderToken) {
		return provider.NewConfigError(models.SidePlex, "account_token is not set")
	}
	return nil
}

// Status returns what the last List observed.
func (c *Client) Status() provider.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setPlexHeaders adds required Plex headers to a request
func (c *Client) setPlexHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("X-Plex-Product", productName)
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Platform", "Web")
	req.Header.Set("Accept", "application/json")
}

// do sends one request. Cancellation is honoured before the call; a request
// already on the wire runs to completion.
func (c *Client) do(ctx context.Context, method, rawURL string) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setPlexHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.TransportError("plex "+method, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, op, rawURL string, out any) error {
	_, err := provider.Retry(ctx, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, rawURL)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, provider.HTTPError(op, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode %s response: %w", op, err)
		}
		return struct{}{}, nil
	})
	return err
}

// AuthProbe checks the token against plex.tv.
func (c *Client) AuthProbe(ctx context.Context) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	resp, err := c.do(ctx, http.MethodGet, plexTVBaseURL+"/user")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, provider.HTTPError("plex auth probe", resp)
	}
}

// setBaseURLs points the client at test servers.
func setBaseURLs(tv, discover, metadata string) {
	plexTVBaseURL = tv
	plexDiscoverBaseURL = discover
	plexMetadataBaseURL = metadata
}

// scalar decodes a JSON string or number into its textual form.
type scalar string

func (s *scalar) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar(str)
		return nil
	}
	*s = scalar(strings.TrimSpace(string(data)))
	return nil
}

type guidRef struct {
	ID string `json:"id"`
}

// metadata is one entry of MediaContainer.Metadata.
type metadata struct {
	RatingKey scalar    `json:"ratingKey"`
	GUID      string    `json:"guid"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Year      scalar    `json:"year"`
	AddedAt   scalar    `json:"addedAt"`
	Guids     []guidRef `json:"Guid"`
}

func (m metadata) raw() identity.PlexRaw {
	guids := make([]string, 0, len(m.Guids))
	for _, g := range m.Guids {
		guids = append(guids, g.ID)
	}
	return identity.PlexRaw{
		RatingKey: string(m.RatingKey),
		Type:      m.Type,
		Title:     m.Title,
		Year:      string(m.Year),
		AddedAt:   epochToISO(string(m.AddedAt)),
		GUID:      m.GUID,
		GUIDs:     guids,
	}
}

type mediaContainer struct {
	MediaContainer struct {
		Size          int        `json:"size"`
		TotalSize     int        `json:"totalSize"`
		Metadata      []metadata `json:"Metadata"`
		SearchResults []struct {
			SearchResult []struct {
				Metadata metadata `json:"Metadata"`
			} `json:"SearchResult"`
		} `json:"SearchResults"`
	} `json:"MediaContainer"`
}

// epochToISO converts Plex's unix-second timestamps to RFC 3339.
func epochToISO(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return raw
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339)
}

func watchlistURL(base string, offset int) string {
	params := url.Values{}
	params.Set("includeGuids", "1")
	params.Set("X-Plex-Container-Start", strconv.Itoa(offset))
	params.Set("X-Plex-Container-Size", strconv.Itoa(pageSize))
	return base + "/library/sections/watchlist/all?" + params.Encode()
}
