// Package auth implements component A, the Token Source.
//
// Grounded on adapter/oauth.go's SaxoAuthClient: token mutex, in-memory
// cached oauth2.Token, refresh-before-expiry logic. The browser-based
// authorization-code flow (loginCLI, GenerateAuthURL, ExchangeCodeForToken,
// openBrowser) is out of scope per spec §1 and is deleted entirely — this
// Token Source only ever performs refresh-token exchanges, bootstrapped
// from a long-lived refresh credential (REFRESH_TOKEN env var / Vault,
// then the State Store once rotated).
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/bjoelf/saxotrader/internal/ports"
	"github.com/bjoelf/saxotrader/internal/saxoerr"
	"github.com/bjoelf/saxotrader/internal/state"
)

// earlyRefreshWindow matches spec §4.A: "within 60s of expiry".
const earlyRefreshWindow = 60 * time.Second

// TokenSource implements ports.TokenSource.
type TokenSource struct {
	cfg          *oauth2.Config
	store        ports.StateStore
	clock        ports.Clock
	logger       *slog.Logger
	bootstrapRT  string // REFRESH_TOKEN env var, used only if the State Store has nothing yet

	mu     sync.Mutex
	cached *oauth2.Token
}

// New builds a Token Source. bootstrapRefreshToken seeds the State Store on
// first use if no `saxotrader:refresh_token` key exists yet.
func New(cfg *oauth2.Config, store ports.StateStore, clock ports.Clock, bootstrapRefreshToken string, logger *slog.Logger) *TokenSource {
	return &TokenSource{
		cfg:         cfg,
		store:       store,
		clock:       clock,
		logger:      logger,
		bootstrapRT: bootstrapRefreshToken,
	}
}

// AccessToken returns a valid bearer token, refreshing if missing or within
// 60s of expiry. On refresh failure it returns an AUTH_UNAVAILABLE error;
// callers must treat that as non-retryable this cycle (spec §4.A/§7).
func (t *TokenSource) AccessToken(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cached != nil && !t.needsRefresh(t.cached) {
		return t.cached.AccessToken, nil
	}

	refreshToken, err := t.currentRefreshToken(ctx)
	if err != nil {
		return "", saxoerr.New(saxoerr.AuthUnavailable, "no refresh credential available", err)
	}

	seed := &oauth2.Token{RefreshToken: refreshToken}
	newToken, err := t.cfg.TokenSource(ctx, seed).Token()
	if err != nil {
		return "", saxoerr.New(saxoerr.AuthUnavailable, "token refresh failed", err)
	}

	// The broker rotates the refresh token on every refresh; persist it.
	if newToken.RefreshToken != "" && newToken.RefreshToken != refreshToken {
		if err := t.store.Set(ctx, state.KeyRefreshToken, newToken.RefreshToken); err != nil {
			t.logger.Warn("failed to persist rotated refresh token", "error", err)
		}
	}

	t.cached = newToken
	t.logger.Info("access token refreshed", "expiry", newToken.Expiry)
	return newToken.AccessToken, nil
}

func (t *TokenSource) needsRefresh(tok *oauth2.Token) bool {
	expiry := tok.Expiry
	if expiry.IsZero() {
		if exp, ok := expiryFromJWT(tok.AccessToken); ok {
			expiry = exp
		} else {
			return false
		}
	}
	return t.clock.Now().Add(earlyRefreshWindow).After(expiry)
}

// currentRefreshToken re-reads the State Store (in case a peer rotated it),
// falling back to the bootstrap REFRESH_TOKEN env var / Vault secret the
// very first time.
func (t *TokenSource) currentRefreshToken(ctx context.Context) (string, error) {
	v, ok, err := t.store.Get(ctx, state.KeyRefreshToken)
	if err != nil {
		return "", fmt.Errorf("read refresh token from state store: %w", err)
	}
	if ok && v != "" {
		return v, nil
	}
	if t.bootstrapRT == "" {
		return "", fmt.Errorf("no refresh token in state store and no bootstrap REFRESH_TOKEN set")
	}
	if err := t.store.Set(ctx, state.KeyRefreshToken, t.bootstrapRT); err != nil {
		t.logger.Warn("failed to seed bootstrap refresh token into state store", "error", err)
	}
	return t.bootstrapRT, nil
}

// expiryFromJWT peeks the access token's "exp" claim when the oauth2
// response didn't carry an expires_in (some brokers omit it on certain
// grants). Parsing is unverified — this token is never used for
// authorization decisions here, only to estimate the refresh-early window.
func expiryFromJWT(accessToken string) (time.Time, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
