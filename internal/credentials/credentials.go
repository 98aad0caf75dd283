// Package credentials loads the OAuth2 token file written by
// google-oauthlib-tool and turns it into an authorized HTTP client.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

const defaultTokenURI = "https://oauth2.googleapis.com/token"

// Credentials mirrors the JSON object stored on disk. Besides the fields
// used to mint tokens it accepts the other authorized-user keys Google
// tooling writes, so files from gcloud and google-auth load unchanged.
type Credentials struct {
	Token        string   `json:"token"`
	RefreshToken string   `json:"refresh_token"`
	TokenURI     string   `json:"token_uri"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	Scopes       []string `json:"scopes"`

	Type                string          `json:"type,omitempty"`
	IDToken             string          `json:"id_token,omitempty"`
	QuotaProjectID      string          `json:"quota_project_id,omitempty"`
	Expiry              string          `json:"expiry,omitempty"`
	RAPTToken           string          `json:"rapt_token,omitempty"`
	DefaultScopes       []string        `json:"default_scopes,omitempty"`
	GrantedScopes       []string        `json:"granted_scopes,omitempty"`
	EnableReauthRefresh bool            `json:"enable_reauth_refresh,omitempty"`
	UniverseDomain      string          `json:"universe_domain,omitempty"`
	Account             string          `json:"account,omitempty"`
	TrustBoundary       json.RawMessage `json:"trust_boundary,omitempty"`
}

// Load reads and parses the credentials file at path. Keys outside the
// authorized-user set are rejected so a file of the wrong shape fails here
// instead of at the first token refresh.
func Load(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, fmt.Errorf("credentials file not found: %w", err)
		}
		return Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}
	return Parse(data)
}

// Parse decodes credentials from raw JSON.
func Parse(data []byte) (Credentials, error) {
	var creds Credentials
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.RefreshToken == "" && creds.Token == "" {
		return Credentials{}, errors.New("credentials must contain token or refresh_token")
	}
	if creds.RefreshToken != "" && (creds.ClientID == "" || creds.ClientSecret == "") {
		return Credentials{}, errors.New("credentials with refresh_token need client_id and client_secret")
	}
	if creds.TokenURI == "" {
		creds.TokenURI = defaultTokenURI
	}
	return creds, nil
}

// OAuth2Config returns the client configuration used to refresh tokens.
func (c Credentials) OAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.TokenURI,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// TokenSource returns a refreshing token source. When a refresh token is
// present the stored access token is dropped, so the first request refreshes.
func (c Credentials) TokenSource(ctx context.Context) oauth2.TokenSource {
	tok := &oauth2.Token{
		AccessToken:  c.Token,
		RefreshToken: c.RefreshToken,
	}
	if c.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok)
	}
	tok.AccessToken = ""
	return c.OAuth2Config().TokenSource(ctx, tok)
}

// HTTPClient returns an *http.Client that authorizes every request.
func (c Credentials) HTTPClient(ctx context.Context) *http.Client {
	return oauth2.NewClient(ctx, c.TokenSource(ctx))
}
