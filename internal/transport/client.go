package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/straln/braidcore/internal/httputil"
)

// AuthedClient wraps an httputil.HTTPClient with bearer-token injection
// and a fixed per-call timeout. The token travels as a query parameter on
// the first request to a given base URL and as a cookie thereafter,
// mirroring how a browser session would pick up the cookie once set.
type AuthedClient struct {
	underlying httputil.HTTPClient
	token      string

	mu         sync.Mutex
	seenCookie map[string]bool
}

// NewAuthedClient wraps client with bearer-token auth. If client is nil,
// http.DefaultClient is wrapped via httputil.NewStandardClient.
func NewAuthedClient(client httputil.HTTPClient, token string) *AuthedClient {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	return &AuthedClient{
		underlying: client,
		token:      token,
		seenCookie: make(map[string]bool),
	}
}

// Do issues req with the fixed RequestTimeoutSeconds timeout and bearer
// auth applied. The passed context is the parent for the timeout; pass
// context.Background() if the caller has no tighter deadline of its own.
func (c *AuthedClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeoutSeconds*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	host := req.URL.Host
	c.mu.Lock()
	seen := c.seenCookie[host]
	c.mu.Unlock()

	if seen {
		req.AddCookie(&http.Cookie{Name: TokenCookieName, Value: c.token})
	} else {
		q := req.URL.Query()
		q.Set(TokenQueryParam, c.token)
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.underlying.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.URL, err)
	}

	for _, ck := range resp.Cookies() {
		if ck.Name == TokenCookieName {
			c.mu.Lock()
			c.seenCookie[host] = true
			c.mu.Unlock()
		}
	}

	return resp, nil
}

// Get issues a GET request against url.
func (c *AuthedClient) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, req)
}

// PostJSON issues a POST request with a JSON body.
func (c *AuthedClient) PostJSON(ctx context.Context, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}
