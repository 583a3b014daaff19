// Package credential obtains the bearer token attached to model requests.
package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/af-corp/facility-assistant/internal/config"
)

var ErrNoCredential = errors.New("no credential configured")

// TokenSource returns a bearer token for the next request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Static always returns the same key.
type Static string

func (s Static) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoCredential
	}
	return string(s), nil
}

// ClientCredentials mints tokens with the OAuth2 client credentials grant and
// reuses them until shortly before they expire.
type ClientCredentials struct {
	source oauth2.TokenSource
}

// NewClientCredentials builds a token source from cfg. client may be nil to use
// http.DefaultClient.
func NewClientCredentials(cfg config.OAuthConfig, client *http.Client) *ClientCredentials {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	ctx := context.Background()
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return &ClientCredentials{source: cc.TokenSource(ctx)}
}

func (c *ClientCredentials) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := c.source.Token()
	if err != nil {
		return "", fmt.Errorf("client credentials token: %w", err)
	}
	return tok.AccessToken, nil
}

// FromProvider picks OAuth when configured, otherwise the static API key.
func FromProvider(cfg config.ProviderConfig, client *http.Client) TokenSource {
	if cfg.OAuth != nil && cfg.OAuth.TokenURL != "" {
		return NewClientCredentials(*cfg.OAuth, client)
	}
	return Static(cfg.APIKey)
}
