// Package twitchapi talks to the Twitch identity service on behalf of the chat
// bot: it validates the bot's user access token and refreshes it before expiry.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"
)

// ErrInvalidToken means Twitch rejected the access or refresh token.
var ErrInvalidToken = errors.New("twitch token rejected")

// ChatScopes are the scopes the bot needs to read and write chat.
var ChatScopes = []string{"chat:read", "chat:edit"}

// Client calls id.twitch.tv. BaseURL and HTTPClient are overridable for tests.
type Client struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client
}

// Validation is the response of the token validation endpoint.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScopes reports whether every required scope was granted.
func (v Validation) HasScopes(required ...string) bool {
	granted := make(map[string]bool, len(v.Scopes))
	for _, s := range v.Scopes {
		granted[s] = true
	}
	for _, s := range required {
		if !granted[s] {
			return false
		}
	}
	return true
}

// Expiry converts ExpiresIn to an absolute time. Zero means the token does not expire.
func (v Validation) Expiry(now time.Time) time.Time {
	if v.ExpiresIn <= 0 {
		return time.Time{}
	}
	return now.Add(time.Duration(v.ExpiresIn) * time.Second)
}

// Token is a refreshed user token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

func (c *Client) endpoint() oauth2.Endpoint {
	if c.BaseURL == "" {
		return twitch.Endpoint
	}
	base := strings.TrimRight(c.BaseURL, "/")
	return oauth2.Endpoint{
		AuthURL:   base + "/oauth2/authorize",
		TokenURL:  base + "/oauth2/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

func (c *Client) validateURL() string {
	if c.BaseURL == "" {
		return "https://id.twitch.tv/oauth2/validate"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/oauth2/validate"
}

// Validate checks accessToken with Twitch. A rejected token returns ErrInvalidToken.
func (c *Client) Validate(ctx context.Context, accessToken string) (*Validation, error) {
	accessToken = strings.TrimPrefix(accessToken, "oauth:")
	if accessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrInvalidToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.validateURL(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	resp, err := c.http().Do(req)
	if err != nil {
		return nil, fmt.Errorf("twitch validate: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err), slog.String("component", "twitchapi"))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrInvalidToken
	case resp.StatusCode != http.StatusOK:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("twitch validate failed: %s: %s", resp.Status, string(b))
	}
	var v Validation
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, fmt.Errorf("decode validate response: %w", err)
	}
	return &v, nil
}

// Refresh exchanges refreshToken for a new user token. Twitch may rotate the
// refresh token; callers should persist the returned one.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	if c.ClientID == "" || c.ClientSecret == "" || refreshToken == "" {
		return Token{}, errors.New("missing client id, client secret or refresh token")
	}
	conf := &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint:     c.endpoint(),
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http())
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil &&
			(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
			return Token{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		return Token{}, fmt.Errorf("twitch refresh: %w", err)
	}
	return Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        scopeString(tok.Extra("scope")),
	}, nil
}

// scopeString flattens the scope field, which Twitch returns as a JSON array.
func scopeString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if str, ok := p.(string); ok {
				parts = append(parts, str)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}
