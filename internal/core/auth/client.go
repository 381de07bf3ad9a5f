package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout = 8 * time.Second
	tokenPath      = "/api/auth/line/token"
	profilePath    = "/api/auth/line/profile"
	maxErrorBody   = 512
)

var (
	// ErrAuthFailed is returned for any non-2xx answer from the backend.
	ErrAuthFailed = errors.New("auth: authentication failed")
	// ErrMissingCode is returned when the callback carried no code.
	ErrMissingCode = errors.New("auth: missing authorization code")
	// ErrNoBackend is returned when the client has no base URL configured.
	ErrNoBackend = errors.New("auth: backend not configured")
)

// TokenResponse mirrors the backend's token payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

type tokenRequest struct {
	Code        string `json:"code"`
	RedirectURI string `json:"redirectUri"`
}

// Client talks to the (mock) LINE Login backend.
type Client struct {
	baseURL string
	http    *http.Client
	group   singleflight.Group
}

// NewClient constructs a backend client rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// ExchangeCode trades an authorization code for an access token. Concurrent
// calls for the same code share one request.
func (c *Client) ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResponse, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return TokenResponse{}, ErrMissingCode
	}
	if c == nil || c.baseURL == "" {
		return TokenResponse{}, ErrNoBackend
	}

	v, err, _ := c.group.Do(code, func() (any, error) {
		return c.exchange(ctx, code, redirectURI)
	})
	if err != nil {
		return TokenResponse{}, err
	}
	return v.(TokenResponse), nil
}

func (c *Client) exchange(ctx context.Context, code, redirectURI string) (TokenResponse, error) {
	payload, err := json.Marshal(tokenRequest{Code: code, RedirectURI: redirectURI})
	if err != nil {
		return TokenResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+tokenPath, bytes.NewReader(payload))
	if err != nil {
		return TokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return TokenResponse{}, fmt.Errorf("auth: token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return TokenResponse{}, fmt.Errorf("%w: token status %d: %s", ErrAuthFailed, resp.StatusCode, drainError(resp.Body))
	}

	var out TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return TokenResponse{}, fmt.Errorf("auth: decode token: %w", err)
	}
	if out.AccessToken == "" {
		return TokenResponse{}, fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}
	return out, nil
}

// FetchProfile resolves the identity bound to token.
func (c *Client) FetchProfile(ctx context.Context, token string) (Identity, error) {
	if c == nil || c.baseURL == "" {
		return Identity{}, ErrNoBackend
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("auth: profile request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Identity{}, fmt.Errorf("%w: profile status %d: %s", ErrAuthFailed, resp.StatusCode, drainError(resp.Body))
	}

	var rec Identity
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return Identity{}, fmt.Errorf("auth: decode profile: %w", err)
	}
	if !rec.Valid() {
		return Identity{}, fmt.Errorf("%w: profile without user id", ErrAuthFailed)
	}
	return rec, nil
}

const authorizeEndpoint = "https://access.line.me/oauth2/v2.1/authorize"

// BuildAuthorizeURL returns the LINE Login redirect for channelID.
func BuildAuthorizeURL(channelID, redirectURI, state string) string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", channelID)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	q.Set("scope", "profile openid")
	return authorizeEndpoint + "?" + q.Encode()
}

func drainError(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(b))
}
