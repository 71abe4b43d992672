package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Issuer obtains a fresh token from an OAuth2 client-credentials endpoint on
// every call.
type Issuer struct {
	config clientcredentials.Config
	http   *http.Client
}

func NewIssuer(tokenURL, clientID, clientSecret string, timeout time.Duration) *Issuer {
	return &Issuer{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     strings.TrimSpace(tokenURL),
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		http: &http.Client{Timeout: timeout},
	}
}

// Token runs one client-credentials exchange. Config.Token builds a new
// token source per call, so nothing is reused between requests.
func (i *Issuer) Token(ctx context.Context) (string, error) {
	if i == nil || i.config.TokenURL == "" {
		return "", ErrAuthUnavailable
	}
	tok, err := i.config.Token(context.WithValue(ctx, oauth2.HTTPClient, i.http))
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}
