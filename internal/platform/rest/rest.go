// Package rest is the small JSON-over-HTTP client shared by the venue adapters.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// maxBody caps how much of a response is read. Pool lists are large.
const maxBody = 256 << 20

// Client issues JSON requests against a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
}

// New creates a Client. timeout bounds every request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		header:     http.Header{},
	}
}

// SetHeader adds a header sent with every request.
func (c *Client) SetHeader(key, value string) { c.header.Set(key, value) }

// BaseURL returns the configured root.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON decodes the response of GET base+path into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, nil, out)
}

// PostJSON encodes in, POSTs it, and decodes the response into out. extra
// headers are added to this request only.
func (c *Client) PostJSON(ctx context.Context, path string, in any, extra http.Header, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return c.Do(ctx, http.MethodPost, path, body, extra, out)
}

// Do performs a request and decodes a JSON response. out may be nil.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, extra http.Header, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 256)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Code, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Float decodes JSON numbers and numeric strings alike. Venue APIs are not
// consistent about which they send.
type Float float64

func (f *Float) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("rest: parse float %q: %w", s, err)
	}
	*f = Float(v)
	return nil
}

// Cached holds one value fetched lazily and refreshed after ttl.
type Cached[T any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	fetch   func(ctx context.Context) (T, error)
	value   T
	fetched time.Time
	now     func() time.Time
}

// NewCached creates a Cached value.
func NewCached[T any](ttl time.Duration, fetch func(ctx context.Context) (T, error)) *Cached[T] {
	return &Cached[T]{ttl: ttl, fetch: fetch, now: time.Now}
}

// Get returns the cached value, refreshing it when expired. A failed refresh
// returns the error; the stale value is not served.
func (c *Cached[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.fetched.IsZero() && c.now().Sub(c.fetched) < c.ttl {
		return c.value, nil
	}
	v, err := c.fetch(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.value = v
	c.fetched = c.now()
	return v, nil
}
