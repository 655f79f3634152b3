package notion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
)

// OAuthConfig configures the public integration used to connect workspaces.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BaseURL      string
}

// OAuth runs the authorization code flow. It implements the connector the
// setup flow uses to build "Connect Notion" links.
type OAuth struct {
	config *oauth2.Config
	states *StateSigner
}

// NewOAuth creates an OAuth flow against cfg.BaseURL.
func NewOAuth(cfg OAuthConfig, states *StateSigner) *OAuth {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}

	return &OAuth{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/v1/oauth/authorize",
				TokenURL:  base + "/v1/oauth/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		states: states,
	}
}

// ConnectURL returns the authorization URL for subjectID.
func (o *OAuth) ConnectURL(subjectID int64) (string, error) {
	state, err := o.states.Sign(subjectID)
	if err != nil {
		return "", err
	}
	return o.config.AuthCodeURL(state, oauth2.SetAuthURLParam("owner", "user")), nil
}

// Complete validates the returned state and exchanges the code for an
// access token.
func (o *OAuth) Complete(ctx context.Context, code, state string) (subjectID int64, credential string, err error) {
	subjectID, err = o.states.Verify(state)
	if err != nil {
		return 0, "", err
	}
	if code == "" {
		return 0, "", errors.New("oauth callback without code")
	}

	token, err := o.config.Exchange(ctx, code)
	if err != nil {
		return 0, "", fmt.Errorf("oauth exchange: %w", err)
	}
	return subjectID, token.AccessToken, nil
}
