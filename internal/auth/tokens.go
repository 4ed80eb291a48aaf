package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/macjediwizard/officebridge/internal/db"
	"github.com/macjediwizard/officebridge/internal/graph"
)

// TokenProvider mints Graph access tokens for office accounts from their
// stored refresh tokens. Azure AD rotates the refresh token on every
// refresh; the rotated token is persisted before the access token is
// handed out, so a persistence failure is fatal for the cycle.
type TokenProvider struct {
	db     *db.DB
	config *oauth2.Config
}

// NewTokenProvider creates a token provider.
func NewTokenProvider(database *db.DB, config *oauth2.Config) *TokenProvider {
	return &TokenProvider{db: database, config: config}
}

// ForAccount returns a graph.TokenSource bound to one account.
func (p *TokenProvider) ForAccount(account *db.OfficeAccount) graph.TokenSource {
	return &accountTokenSource{provider: p, account: account}
}

type accountTokenSource struct {
	provider *TokenProvider
	account  *db.OfficeAccount

	// cached access token, reused until shortly before expiry
	access  string
	expires time.Time
}

// Token implements graph.TokenSource.
func (s *accountTokenSource) Token(ctx context.Context) (string, error) {
	if s.access != "" && time.Now().Before(s.expires.Add(-time.Minute)) {
		return s.access, nil
	}

	if s.account.RefreshToken == "" {
		return "", fmt.Errorf("%w: account %s has no refresh token", graph.ErrConfig, s.account.ID)
	}

	source := s.provider.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: s.account.RefreshToken,
	})
	token, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("token refresh failed for account %s: %w", s.account.ID, err)
	}

	// Persist the rotated refresh token before using the access token.
	if token.RefreshToken != "" && token.RefreshToken != s.account.RefreshToken {
		if err := s.provider.db.UpdateRefreshToken(s.account.ID, token.RefreshToken); err != nil {
			return "", fmt.Errorf("failed to persist rotated refresh token for account %s: %w", s.account.ID, err)
		}
		s.account.RefreshToken = token.RefreshToken
	}

	s.access = token.AccessToken
	s.expires = token.Expiry

	return s.access, nil
}
