// SPDX-License-Identifier: MIT

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"

	"github.com/openbookings/calsync/internal/domain"
)

// oauthBackend carries the pieces shared by the OAuth family: client
// credentials, the token endpoint and the REST base URL of the calendar API.
type oauthBackend struct {
	kind         domain.Kind
	client       *http.Client
	clientID     string
	clientSecret string
	endpoint     oauth2.Endpoint
	apiBase      string
}

func (p *oauthBackend) Kind() domain.Kind { return p.kind }

func (p *oauthBackend) ValidateConfig(creds domain.Credentials) error {
	if creds.RefreshToken == "" && creds.AccessToken == "" {
		return NewError(CodeUnauthorized, "missing OAuth tokens")
	}
	return nil
}

// TokenValid reports whether the access token can still be used as-is.
func (p *oauthBackend) TokenValid(creds domain.Credentials, now time.Time) bool {
	return creds.AccessToken != "" && !creds.TokenExpired(now)
}

// RefreshToken exchanges the stored refresh token for a fresh access token.
// Refresh failures are reported as token_expired; the owner has to
// re-authorize the integration.
func (p *oauthBackend) RefreshToken(ctx context.Context, creds domain.Credentials) (domain.Credentials, error) {
	if creds.RefreshToken == "" {
		return creds, NewError(CodeTokenExpired, "no refresh token on record")
	}

	conf := &oauth2.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		Endpoint:     p.endpoint,
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		return creds, WrapError(CodeTokenExpired, err)
	}

	creds.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		creds.RefreshToken = token.RefreshToken
	}
	creds.Expiry = token.Expiry
	return creds, nil
}

// get performs an authenticated GET against the provider API.
func (p *oauthBackend) get(ctx context.Context, creds domain.Credentials, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+path, nil)
	if err != nil {
		return nil, WrapError(CodeException, err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if cerr := classifyStatus(resp); cerr != nil {
		return nil, cerr
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, Classify(err)
	}
	return body, nil
}

// post performs an authenticated JSON POST against the provider API.
func (p *oauthBackend) post(ctx context.Context, creds domain.Credentials, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(CodeException, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(CodeException, err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, Classify(err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if cerr := classifyStatus(resp); cerr != nil {
		return nil, cerr
	}
	out, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func decode(body []byte, into any) error {
	if err := json.Unmarshal(body, into); err != nil {
		return WrapError(CodeException, fmt.Errorf("decode provider response: %w", err))
	}
	return nil
}
