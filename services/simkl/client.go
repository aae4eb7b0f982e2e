package simkl

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"watchsync/config"
	"watchsync/models"
	"watchsync/services/provider"
)

var simklBaseURL = "https://api.simkl.com"

const (
	userAgent           = "watchsync/1.0"
	refreshLeeway       = 60 // seconds before expiry that trigger a refresh
	defaultTokenTTL     = 3600
	placeholderClientID = "YOUR_SIMKL_CLIENT_ID"
)

// TokenSaver persists refreshed credentials.
type TokenSaver func(accessToken, refreshToken string, expiresAt int64) error

// Client reads and writes the SIMKL plan-to-watch list.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	saveTokens TokenSaver
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	creds  config.SimklSettings
	status provider.Status
}

var (
	_ provider.Provider       = (*Client)(nil)
	_ provider.BulkWriter     = (*Client)(nil)
	_ provider.ActivityReader = (*Client)(nil)
	_ provider.StatusReporter = (*Client)(nil)
)

// NewClient creates a SIMKL adapter. save may be nil, in which case refreshed
// tokens live only as long as the client.
func NewClient(cfg config.SimklSettings, save TokenSaver, log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 45 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		saveTokens: save,
		log:        log.With().Str("component", "simkl").Logger(),
		now:        time.Now,
		creds:      cfg,
		status:     provider.Status{Side: models.SideSimkl},
	}
}

func (c *Client) Name() models.Side { return models.SideSimkl }

func (c *Client) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		SupportsDryRun:  true,
		SupportsCancel:  true,
		SupportsTimeout: true,
		Bidirectional:   true,
		StatusStream:    true,
		BulkWrite:       true,
		Activities:      true,
	}
}

// Validate requires a client id and either an access or a refresh token.
func (c *Client) Validate() error {
	c.mu.Lock()
	creds := c.creds
	c.mu.Unlock()

	clientID := strings.TrimSpace(creds.ClientID)
	if clientID == "" || clientID == placeholderClientID {
		return provider.NewConfigError(models.SideSimkl, "client_id is required")
	}
	access := strings.TrimSpace(creds.AccessToken)
	refresh := strings.TrimSpace(creds.RefreshToken)
	if access == "" && refresh == "" {
		return provider.NewConfigError(models.SideSimkl, "access_token or refresh_token is required")
	}
	if access == "" && strings.TrimSpace(creds.ClientSecret) == "" {
		return provider.NewConfigError(models.SideSimkl, "client_secret is required to refresh tokens")
	}
	return nil
}

// Status returns what the last read observed.
func (c *Client) Status() provider.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setSimklHeaders adds the bearer token and api key.
func (c *Client) setSimklHeaders(req *http.Request) {
	c.mu.Lock()
	token, clientID := c.creds.AccessToken, c.creds.ClientID
	c.mu.Unlock()

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("simkl-api-key", clientID)
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), method, simklBaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setSimklHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, provider.TransportError("simkl "+method+" "+path, err)
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	_, err := provider.Retry(ctx, func() (struct{}, error) {
		resp, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return struct{}{}, provider.HTTPError("simkl GET "+path, resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return struct{}{}, fmt.Errorf("decode %s: %w", path, err)
		}
		return struct{}{}, nil
	})
	return err
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	resp, err := c.do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return provider.HTTPError("simkl POST "+path, resp)
	}
	if out == nil {
		return nil
	}
	// write endpoints may answer with an empty body
	_ = json.NewDecoder(resp.Body).Decode(out)
	return nil
}

// AuthProbe performs a cheap authenticated read.
func (c *Client) AuthProbe(ctx context.Context) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}
	if err := c.EnsureToken(ctx); err != nil {
		return false, err
	}
	resp, err := c.do(ctx, http.MethodPost, "/users/settings", nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return false, nil
	default:
		return false, provider.HTTPError("simkl auth probe", resp)
	}
}

// setBaseURL points the client at a test server.
func setBaseURL(u string) {
	simklBaseURL = u
}
