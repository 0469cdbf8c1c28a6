package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/yellowcrystalz/masa-meter/config"
	"github.com/yellowcrystalz/masa-meter/crypto"
	"github.com/yellowcrystalz/masa-meter/oauth"
	"github.com/yellowcrystalz/masa-meter/twitchapi"
)

// newTokenStore returns the oauth store, sealing tokens when TOKEN_ENCRYPTION_KEY is set.
func newTokenStore(cfg *config.Config, database *sql.DB) (*oauth.Store, error) {
	if cfg.TokenEncryptionKey == "" {
		slog.Warn("TOKEN_ENCRYPTION_KEY not set; oauth tokens are stored in plaintext", slog.String("component", "oauth"))
		return oauth.NewStore(database, nil), nil
	}
	box, err := crypto.NewBox(cfg.TokenEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("token encryption key: %w", err)
	}
	slog.Info("oauth token encryption enabled", slog.String("key_id", box.KeyID()), slog.String("component", "oauth"))
	return oauth.NewStore(database, box), nil
}

// twitchRefreshFunc adapts the Twitch token endpoint to the refresher.
func twitchRefreshFunc(client *twitchapi.Client) oauth.RefreshFunc {
	return func(ctx context.Context, refreshToken string) (oauth.Token, error) {
		t, err := client.Refresh(ctx, refreshToken)
		if err != nil {
			return oauth.Token{}, err
		}
		return oauth.Token{AccessToken: t.AccessToken, RefreshToken: t.RefreshToken, ExpiresAt: t.Expiry, Scope: t.Scope}, nil
	}
}

// botTokens keeps the chat bot's user token current.
type botTokens struct {
	cfg       *config.Config
	store     *oauth.Store
	client    *twitchapi.Client
	refresher *oauth.Refresher // nil without Twitch app credentials
	now       func() time.Time
}

func newBotTokens(cfg *config.Config, store *oauth.Store, client *twitchapi.Client, onRefresh func(oauth.Token)) *botTokens {
	bt := &botTokens{cfg: cfg, store: store, client: client, now: time.Now}
	if cfg.TokenRefreshReady() {
		bt.refresher = oauth.NewRefresher(store, oauth.ProviderTwitchBot, twitchRefreshFunc(client),
			oauth.WithInterval(cfg.TokenRefreshInterval),
			oauth.WithWindow(cfg.TokenRefreshWindow),
			oauth.OnRefresh(onRefresh))
	} else {
		slog.Info("twitch app credentials not set; bot token will not be refreshed", slog.String("component", "oauth"))
	}
	return bt
}

// Prepare returns the access token the bot should log in with. A stored token
// wins over TWITCH_OAUTH_TOKEN, which only seeds an empty store. The token is
// validated against Twitch and refreshed once if it was rejected.
func (bt *botTokens) Prepare(ctx context.Context) (string, error) {
	tok, err := bt.load(ctx)
	if err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("no twitch bot token stored or configured")
	}

	vctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := bt.client.Validate(vctx, tok.AccessToken)
	if errors.Is(err, twitchapi.ErrInvalidToken) {
		if bt.refresher == nil {
			return "", fmt.Errorf("twitch rejected the bot token and refresh is not configured: %w", err)
		}
		slog.Warn("bot token rejected; refreshing", slog.String("component", "oauth"))
		if tok, err = bt.refresher.RefreshNow(ctx); err != nil {
			return "", err
		}
		v, err = bt.client.Validate(vctx, tok.AccessToken)
	}
	if err != nil {
		// Twitch being unreachable should not keep the bot offline.
		slog.Warn("could not validate bot token", slog.Any("err", err), slog.String("component", "oauth"))
		return tok.AccessToken, nil
	}

	if !strings.EqualFold(v.Login, bt.cfg.TwitchBotUsername) {
		slog.Warn("bot token belongs to a different account",
			slog.String("token_login", v.Login), slog.String("bot_username", bt.cfg.TwitchBotUsername),
			slog.String("component", "oauth"))
	}
	if !v.HasScopes(twitchapi.ChatScopes...) {
		slog.Warn("bot token is missing chat scopes", slog.Any("scopes", v.Scopes), slog.Any("required", twitchapi.ChatScopes),
			slog.String("component", "oauth"))
	}

	if expiry := v.Expiry(bt.now()); !expiry.IsZero() {
		tok.ExpiresAt = expiry
	}
	if tok.Scope == "" {
		tok.Scope = strings.Join(v.Scopes, " ")
	}
	if err := bt.store.Save(ctx, tok); err != nil {
		return "", err
	}
	slog.Info("bot token ready", slog.String("login", v.Login), slog.Time("expires_at", tok.ExpiresAt),
		slog.String("component", "oauth"))
	return tok.AccessToken, nil
}

func (bt *botTokens) load(ctx context.Context) (oauth.Token, error) {
	tok, ok, err := bt.store.Get(ctx, oauth.ProviderTwitchBot)
	switch {
	case errors.Is(err, oauth.ErrSealed):
		slog.Warn("stored bot token cannot be opened; reseeding from environment", slog.Any("err", err),
			slog.String("component", "oauth"))
		ok = false
	case err != nil:
		return oauth.Token{}, err
	}
	if ok {
		if tok.RefreshToken == "" && bt.cfg.TwitchRefreshToken != "" {
			tok.RefreshToken = bt.cfg.TwitchRefreshToken
		}
		return tok, nil
	}

	tok = oauth.Token{
		Provider:     oauth.ProviderTwitchBot,
		AccessToken:  strings.TrimPrefix(bt.cfg.TwitchOAuthToken, "oauth:"),
		RefreshToken: bt.cfg.TwitchRefreshToken,
	}
	if tok.AccessToken != "" {
		if err := bt.store.Save(ctx, tok); err != nil {
			return oauth.Token{}, err
		}
	}
	return tok, nil
}

// Run keeps refreshing the token until ctx ends. Without a refresher it returns immediately.
func (bt *botTokens) Run(ctx context.Context) error {
	if bt.refresher == nil {
		return nil
	}
	return bt.refresher.Run(ctx)
}
