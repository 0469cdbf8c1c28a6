package oauth

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// RefreshFunc exchanges a refresh token for a new token. Empty RefreshToken or
// Scope in the result keep the stored values.
type RefreshFunc func(ctx context.Context, refreshToken string) (Token, error)

// TokenStore is the persistence a Refresher needs. *Store satisfies it.
type TokenStore interface {
	Get(ctx context.Context, provider string) (Token, bool, error)
	Save(ctx context.Context, t Token) error
}

// Refresher periodically checks one provider's token and refreshes it when it
// is about to expire.
type Refresher struct {
	store     TokenStore
	provider  string
	refresh   RefreshFunc
	interval  time.Duration
	window    time.Duration
	clock     clockwork.Clock
	onRefresh func(Token)
	jitter    func(max time.Duration) time.Duration
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock overrides the scheduling clock.
func WithClock(c clockwork.Clock) Option { return func(r *Refresher) { r.clock = c } }

// WithInterval sets how often the token is checked (default 5m).
func WithInterval(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithWindow sets how close to expiry a refresh happens (default 15m).
func WithWindow(d time.Duration) Option {
	return func(r *Refresher) {
		if d > 0 {
			r.window = d
		}
	}
}

// OnRefresh registers fn to receive every refreshed token after it is saved.
func OnRefresh(fn func(Token)) Option { return func(r *Refresher) { r.onRefresh = fn } }

// NewRefresher returns a Refresher for provider.
func NewRefresher(store TokenStore, provider string, fn RefreshFunc, opts ...Option) *Refresher {
	r := &Refresher{
		store:    store,
		provider: provider,
		refresh:  fn,
		interval: 5 * time.Minute,
		window:   15 * time.Minute,
		clock:    clockwork.NewRealClock(),
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max) //nolint:gosec // scheduling jitter only
		},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run checks the token until ctx is canceled. The first check is delayed by a
// random fraction of the interval and later checks vary by ±20% so that
// several instances do not refresh in lockstep.
func (r *Refresher) Run(ctx context.Context) error {
	delay := r.jitter(r.interval / 2)
	slog.Info("token refresher started", slog.String("provider", r.provider), slog.Duration("interval", r.interval),
		slog.String("component", "oauth"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(delay):
		}
		if _, err := r.Check(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("token refresh failed", slog.String("provider", r.provider), slog.Any("err", err),
				slog.String("component", "oauth"))
		}
		delay = r.interval - r.interval/5 + r.jitter(2*r.interval/5)
	}
}

// Check refreshes the token if it is due. It reports whether a refresh happened.
// A missing row or a token without a refresh token is not an error.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	tok, ok, err := r.store.Get(ctx, r.provider)
	if err != nil {
		return false, err
	}
	if !ok || tok.RefreshToken == "" || !tok.Due(r.clock.Now(), r.window) {
		return false, nil
	}
	if _, err := r.refreshToken(ctx, tok); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshNow refreshes the stored token regardless of its expiry.
func (r *Refresher) RefreshNow(ctx context.Context) (Token, error) {
	tok, ok, err := r.store.Get(ctx, r.provider)
	if err != nil {
		return Token{}, err
	}
	if !ok || tok.RefreshToken == "" {
		return Token{}, fmt.Errorf("no refresh token stored for %s", r.provider)
	}
	return r.refreshToken(ctx, tok)
}

func (r *Refresher) refreshToken(ctx context.Context, old Token) (Token, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	next, err := r.refresh(ctx, old.RefreshToken)
	if err != nil {
		return Token{}, fmt.Errorf("refresh %s token: %w", r.provider, err)
	}
	next.Provider = r.provider
	if next.RefreshToken == "" {
		next.RefreshToken = old.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = old.Scope
	}
	if err := r.store.Save(ctx, next); err != nil {
		return Token{}, err
	}
	slog.Info("token refreshed", slog.String("provider", r.provider), slog.Time("expires_at", next.ExpiresAt),
		slog.String("component", "oauth"))
	if r.onRefresh != nil {
		r.onRefresh(next)
	}
	return next, nil
}
