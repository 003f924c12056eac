// Package client implements the HTTP client for Cloudgene-style imputation
// servers: job lifecycle operations, streamed upload and download, catalog
// retrieval, and the admin surface. All calls are synchronous; a Client is
// not safe for concurrent use.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"
)

const (
	// Version is reported to the server as part of the client identity.
	Version = "1.0.0"

	// apiPrefix is appended to every server base URL.
	apiPrefix = "/api/v2"

	// authHeader carries the bearer token on every authenticated call.
	authHeader = "X-Auth-Token"

	// defaultHTTPTimeout bounds plain request/response calls. Streaming
	// transfers use a separate client with no overall deadline.
	defaultHTTPTimeout = 30 * time.Second
)

// Client talks to one imputation server under one identity (user or admin).
type Client struct {
	baseURL  string
	serverID string
	admin    bool

	httpClient   *http.Client
	streamClient *http.Client
	creds        *CredentialStore
	observer     Observer
	debug        bool
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithAdmin makes the client use the admin role for token acquisition.
func WithAdmin() Option {
	return func(c *Client) { c.admin = true }
}

// WithObserver replaces the slog-backed observability sink.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithDebug enables header/body reporting to the observer.
func WithDebug() Option {
	return func(c *Client) { c.debug = true }
}

// New creates a client bound to one server. serverID names the server for
// token file resolution; baseURL is the scheme+host of the deployment.
func New(serverID, baseURL string, creds *CredentialStore, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimSuffix(baseURL, "/") + apiPrefix,
		serverID:     serverID,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		streamClient: &http.Client{},
		creds:        creds,
		observer:     slogObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServerID returns the registry id of the bound server.
func (c *Client) ServerID() string {
	return c.serverID
}

// token returns the bearer token for this client's role, acquiring it
// lazily: memory cache, then token files, then interactive acquisition.
func (c *Client) token(ctx context.Context) (string, error) {
	token, ok, err := c.creds.CachedToken(c.serverID, c.admin)
	if err != nil {
		return "", err
	}
	if ok {
		return token, nil
	}

	if !c.creds.Interactive() {
		role := "user"
		if c.admin {
			role = "admin"
		}
		return "", fmt.Errorf("no %s token available for server %q (expected %s)",
			role, c.serverID, c.creds.TokenPath(c.serverID, c.admin))
	}

	if c.admin {
		username, password, err := c.creds.PromptLogin()
		if err != nil {
			return "", err
		}
		login, err := c.AdminLogin(ctx, username, password)
		if err != nil {
			return "", err
		}
		if err := c.creds.StoreToken(c.serverID, true, login.AccessToken); err != nil {
			return "", err
		}
		return login.AccessToken, nil
	}

	token, err = c.creds.PromptToken(c.serverID)
	if err != nil {
		return "", err
	}
	if err := c.creds.StoreToken(c.serverID, false, token); err != nil {
		return "", err
	}
	return token, nil
}

// do performs one HTTP call. The response is returned for any status code;
// an error means the request could not be completed at all. Callers own the
// body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string, authed, stream bool) (*http.Response, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if authed {
		token, err := c.token(ctx)
		if err != nil {
			return nil, err
		}
		req.Header.Set(authHeader, token)
	}
	req.Header.Set("User-Agent", "imputectl/"+Version)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	c.observer.CallStarted(method, path)
	if c.debug {
		if dump, err := httputil.DumpRequestOut(req, false); err == nil {
			c.observer.Verbose("request headers", dump)
		}
	}

	httpClient := c.httpClient
	if stream {
		httpClient = c.streamClient
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	c.observer.CallFinished(method, path, resp.StatusCode, time.Since(start))

	if c.debug {
		if dump, err := httputil.DumpResponse(resp, false); err == nil {
			c.observer.Verbose("response headers", dump)
		}
	}

	return resp, nil
}

// get performs an authenticated GET and returns the status code plus the
// full body.
func (c *Client) get(ctx context.Context, path string) (int, []byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil, true, false)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if c.debug {
		c.observer.Verbose("response body", body)
	}
	return resp.StatusCode, body, nil
}

// postForm performs a POST with URL-encoded form values. authed controls
// whether a token is attached (the login endpoint has none to attach yet).
func (c *Client) postForm(ctx context.Context, path string, form url.Values, authed bool) (int, []byte, error) {
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	resp, err := c.do(ctx, http.MethodPost, path, strings.NewReader(form.Encode()), headers, authed, false)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if c.debug {
		c.observer.Verbose("response body", body)
	}
	return resp.StatusCode, body, nil
}
