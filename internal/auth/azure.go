package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

var (
	ErrOIDCInit      = errors.New("Azure AD initialization failed")
	ErrTokenExchange = errors.New("token exchange failed")
	ErrTokenVerify   = errors.New("token verification failed")
	ErrMissingEmail  = errors.New("email claim is required")
)

// GraphScopes are the delegated permissions requested during consent.
// offline_access yields the refresh token the sync engine lives on.
var GraphScopes = []string{
	oidc.ScopeOpenID,
	"offline_access",
	"Contacts.ReadWrite",
	"Calendars.ReadWrite",
	"Mail.ReadWrite",
}

// Claims represents the identity extracted from an Azure AD ID token.
type Claims struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	// Azure AD puts the address in preferred_username for most tenants.
	PreferredUsername string `json:"preferred_username"`
}

// EmailAddress returns the best available address claim.
func (c *Claims) EmailAddress() string {
	if c.Email != "" {
		return c.Email
	}
	return c.PreferredUsername
}

// AzureProvider drives the Microsoft Graph consent flow: building the
// authorization URL, exchanging the code, and verifying the ID token.
type AzureProvider struct {
	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	config   oauth2.Config
}

// NewAzureProvider creates a provider against the tenant's v2.0 issuer.
func NewAzureProvider(ctx context.Context, issuer, clientID, clientSecret, redirectURL string) (*AzureProvider, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create provider: %w", ErrOIDCInit, err)
	}

	config := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       GraphScopes,
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return &AzureProvider{
		provider: provider,
		verifier: verifier,
		config:   config,
	}, nil
}

// ConsentURL returns the authorization URL for an office account. The
// account id travels in the state parameter so the callback can bind the
// returned refresh token to the right account.
func (p *AzureProvider) ConsentURL(accountID string) string {
	return p.config.AuthCodeURL(accountID,
		oauth2.SetAuthURLParam("access_type", "offline"),
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// Exchange exchanges an authorization code for tokens.
func (p *AzureProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	return token, nil
}

// VerifyIDToken verifies the ID token and extracts identity claims.
func (p *AzureProvider) VerifyIDToken(ctx context.Context, token *oauth2.Token) (*Claims, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing id_token", ErrTokenVerify)
	}

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenVerify, err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %w", ErrTokenVerify, err)
	}

	if claims.EmailAddress() == "" {
		return nil, ErrMissingEmail
	}

	return &claims, nil
}

// OAuthConfig exposes the underlying config for the token provider.
func (p *AzureProvider) OAuthConfig() *oauth2.Config {
	config := p.config
	return &config
}
