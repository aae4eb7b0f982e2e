package simkl

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"watchsync/models"
	"watchsync/services/provider"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// tokenExpired reports whether the access token is within the refresh leeway.
func (c *Client) tokenExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if strings.TrimSpace(c.creds.AccessToken) == "" {
		return true
	}
	return c.now().Unix() >= c.creds.TokenExpiresAt-refreshLeeway
}

// EnsureToken refreshes the access token when it is about to expire and a
// refresh token is available.
func (c *Client) EnsureToken(ctx context.Context) error {
	c.mu.Lock()
	hasRefresh := strings.TrimSpace(c.creds.RefreshToken) != ""
	c.mu.Unlock()

	if !hasRefresh || !c.tokenExpired() {
		return nil
	}
	return c.refresh(ctx)
}

func (c *Client) refresh(ctx context.Context) error {
	c.mu.Lock()
	payload := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": c.creds.RefreshToken,
		"client_id":     c.creds.ClientID,
		"client_secret": c.creds.ClientSecret,
	}
	c.mu.Unlock()

	resp, err := c.do(ctx, http.MethodPost, "/oauth/token", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		httpErr := provider.HTTPError("simkl token refresh", resp)
		if httpErr.Transient() {
			return httpErr
		}
		return provider.NewConfigError(models.SideSimkl, "refresh token rejected: %s", httpErr.Error())
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return &provider.RecoverableError{Op: "simkl token refresh", Err: fmt.Errorf("decode response: %w", err)}
	}
	if tok.AccessToken == "" {
		return &provider.RecoverableError{Op: "simkl token refresh", Err: fmt.Errorf("response carried no access_token")}
	}
	ttl := tok.ExpiresIn
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	c.mu.Lock()
	c.creds.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		c.creds.RefreshToken = tok.RefreshToken
	}
	c.creds.TokenExpiresAt = c.now().Unix() + ttl
	access, refresh, exp := c.creds.AccessToken, c.creds.RefreshToken, c.creds.TokenExpiresAt
	c.mu.Unlock()

	c.log.Info().Int64("expires_at", exp).Msg("simkl access token refreshed")

	if c.saveTokens != nil {
		if err := c.saveTokens(access, refresh, exp); err != nil {
			c.log.Warn().Err(err).Msg("persist refreshed simkl tokens failed")
		}
	}
	return nil
}
