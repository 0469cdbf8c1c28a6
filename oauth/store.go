// Package oauth persists OAuth tokens in the oauth_tokens table and refreshes
// them before they expire. Tokens are sealed at rest when a Sealer is configured.
package oauth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProviderTwitchBot is the oauth_tokens key for the chat bot's user token.
const ProviderTwitchBot = "twitch_bot"

// ErrSealed is returned when a stored token was sealed with a key that is not configured.
var ErrSealed = errors.New("stored token is sealed with an unavailable key")

// Token is one provider's credentials.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the expiry is unknown.
	ExpiresAt time.Time
	Scope     string
	UpdatedAt time.Time
}

// Due reports whether the token expires within window of now. Unknown expiry is always due.
func (t Token) Due(now time.Time, window time.Duration) bool {
	return t.ExpiresAt.IsZero() || t.ExpiresAt.Sub(now) <= window
}

// Sealer encrypts token values bound to their provider. *crypto.Box satisfies it.
type Sealer interface {
	Seal(plaintext, context string) (string, error)
	Open(sealed, context string) (string, error)
	KeyID() string
}

// Store reads and writes oauth_tokens.
type Store struct {
	db     *sql.DB
	sealer Sealer
}

// NewStore returns a Store. With a nil sealer tokens are stored in plaintext.
func NewStore(db *sql.DB, sealer Sealer) *Store {
	return &Store{db: db, sealer: sealer}
}

// Get loads provider's token. The bool is false when no row exists.
func (s *Store) Get(ctx context.Context, provider string) (Token, bool, error) {
	var (
		t       = Token{Provider: provider}
		expires sql.NullTime
		keyID   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, scope, encryption_key_id, updated_at
		FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&t.AccessToken, &t.RefreshToken, &expires, &t.Scope, &keyID, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, fmt.Errorf("get %s token: %w", provider, err)
	}
	if expires.Valid {
		t.ExpiresAt = expires.Time.UTC()
	}
	t.UpdatedAt = t.UpdatedAt.UTC()

	if keyID == "" {
		return t, true, nil
	}
	if s.sealer == nil || s.sealer.KeyID() != keyID {
		return Token{}, false, fmt.Errorf("%w: %s token uses key %s", ErrSealed, provider, keyID)
	}
	if t.AccessToken, err = s.sealer.Open(t.AccessToken, provider); err != nil {
		return Token{}, false, fmt.Errorf("open %s access token: %w", provider, err)
	}
	if t.RefreshToken, err = s.sealer.Open(t.RefreshToken, provider); err != nil {
		return Token{}, false, fmt.Errorf("open %s refresh token: %w", provider, err)
	}
	return t, true, nil
}

// Save inserts or replaces t.
func (s *Store) Save(ctx context.Context, t Token) error {
	access, refresh, keyID := t.AccessToken, t.RefreshToken, ""
	if s.sealer != nil {
		var err error
		if access, err = s.sealer.Seal(t.AccessToken, t.Provider); err != nil {
			return fmt.Errorf("seal %s access token: %w", t.Provider, err)
		}
		if refresh, err = s.sealer.Seal(t.RefreshToken, t.Provider); err != nil {
			return fmt.Errorf("seal %s refresh token: %w", t.Provider, err)
		}
		keyID = s.sealer.KeyID()
	}
	expires := sql.NullTime{Time: t.ExpiresAt.UTC(), Valid: !t.ExpiresAt.IsZero()}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO oauth_tokens (provider, access_token, refresh_token, expires_at, scope, encryption_key_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (provider) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			scope = EXCLUDED.scope,
			encryption_key_id = EXCLUDED.encryption_key_id,
			updated_at = NOW()`,
		t.Provider, access, refresh, expires, t.Scope, keyID)
	if err != nil {
		return fmt.Errorf("save %s token: %w", t.Provider, err)
	}
	return nil
}
