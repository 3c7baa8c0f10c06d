// Package twitch talks to the Twitch identity service and the Helix API over
// plain HTTP. It knows nothing about caching or token lifetimes; callers decide
// which token to send.
package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/svglol/better-clips/internal/domain"
	"github.com/svglol/better-clips/internal/platform/version"
)

const (
	DefaultAuthURL  = "https://id.twitch.tv"
	DefaultHelixURL = "https://api.twitch.tv/helix"

	requestTimeout  = 10 * time.Second
	maxResponseBody = 8 << 20
)

// StatusError is a non-2xx answer from Twitch.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitch responded %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// AuthURL and HelixURL default to the production hosts.
	AuthURL  string
	HelixURL string

	HTTPClient *http.Client
}

type Client struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authURL      string
	helixURL     string
	http         *http.Client
}

var _ domain.TokenExchanger = (*Client)(nil)

func NewClient(cfg Config) *Client {
	c := &Client{
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		redirectURI:  cfg.RedirectURI,
		authURL:      strings.TrimRight(cfg.AuthURL, "/"),
		helixURL:     strings.TrimRight(cfg.HelixURL, "/"),
		http:         cfg.HTTPClient,
	}
	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.helixURL == "" {
		c.helixURL = DefaultHelixURL
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: requestTimeout}
	}
	return c
}

func (c *Client) ClientID() string {
	return c.clientID
}

// AuthorizeURL is where the browser is sent to start the authorization code flow.
func (c *Client) AuthorizeURL(state string, scopes []string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopes, " "))
	q.Set("state", state)
	return c.authURL + "/oauth2/authorize?" + q.Encode()
}

func (c *Client) ClientCredentials(ctx context.Context) (domain.TokenGrant, error) {
	return c.grant(ctx, url.Values{"grant_type": {"client_credentials"}})
}

func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	return c.grant(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	})
}

func (c *Client) AuthorizationCode(ctx context.Context, code string) (domain.TokenGrant, error) {
	return c.grant(ctx, url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {c.redirectURI},
	})
}

func (c *Client) grant(ctx context.Context, form url.Values) (domain.TokenGrant, error) {
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL+"/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	body, err := c.do(req)
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%s grant failed: %w", form.Get("grant_type"), err)
	}

	var grant domain.TokenGrant
	if err := json.Unmarshal(body, &grant); err != nil {
		return domain.TokenGrant{}, fmt.Errorf("failed to decode token response: %w", err)
	}
	if grant.AccessToken == "" {
		return domain.TokenGrant{}, errors.New("token response has no access token")
	}
	return grant, nil
}

// Validate runs the introspection probe. A rejected token is reported as
// Valid=false without an error; errors mean the probe itself failed.
func (c *Client) Validate(ctx context.Context, accessToken string) (domain.TokenValidation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.authURL+"/oauth2/validate", nil)
	if err != nil {
		return domain.TokenValidation{}, fmt.Errorf("failed to build validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+accessToken)
	req.Header.Set("User-Agent", version.UserAgent())

	body, err := c.do(req)
	if statusErr, ok := errors.AsType[*StatusError](err); ok && statusErr.StatusCode == http.StatusUnauthorized {
		return domain.TokenValidation{Valid: false}, nil
	}
	if err != nil {
		return domain.TokenValidation{}, fmt.Errorf("token validation failed: %w", err)
	}

	var v domain.TokenValidation
	if err := json.Unmarshal(body, &v); err != nil {
		return domain.TokenValidation{}, fmt.Errorf("failed to decode validate response: %w", err)
	}
	v.Valid = true
	return v, nil
}

// Get fetches one Helix endpoint, e.g. "clips", and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, endpoint string, query url.Values, token string) ([]byte, error) {
	target := c.helixURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build helix request: %w", err)
	}
	req.Header.Set("Client-Id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
