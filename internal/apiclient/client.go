package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"openfms/console/internal/logger"
)

const maxErrorBody = 512

// Client issues every call against the configured backend and carries the
// session cookie the backend sets on login.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
}

type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger.OrNop(l).Named("apiclient")
	}
}

// WithTransport replaces the underlying round tripper.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// New creates a client bound to baseURL, e.g. "https://fleet.example.com/api".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("base url must be absolute, got %q", baseURL)
	}
	jar, err := newSessionJar()
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: u,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured backend base.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ResetSession forgets every cookie the backend has set.
func (c *Client) ResetSession() {
	if jar, ok := c.http.Jar.(*sessionJar); ok {
		jar.reset()
	}
}

// sessionJar is a cookie jar that can be emptied while requests are in flight.
type sessionJar struct {
	mu  sync.RWMutex
	jar http.CookieJar
}

func newSessionJar() (*sessionJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &sessionJar{jar: jar}, nil
}

func (s *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.jar.SetCookies(u, cookies)
}

func (s *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar.Cookies(u)
}

func (s *sessionJar) reset() {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.jar = jar
	s.mu.Unlock()
}

// Endpoint resolves a relative path and an optional raw query against the base URL.
// The raw query is kept verbatim.
func (c *Client) Endpoint(path, rawQuery string) string {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawPath = ""
	u.RawQuery = rawQuery
	return u.String()
}

// Request describes a single backend call.
type Request struct {
	Method   string
	Path     string
	RawQuery string
	Body     io.Reader
	Header   http.Header
}

// Do issues req and returns the response on 2xx. Any other status is returned
// as a *StatusError and the body is closed.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	endpoint := c.Endpoint(req.Path, req.RawQuery)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, req.Body)
	if err != nil {
		return nil, err
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	c.logger.Debug("backend request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, newStatusError(req.Method, req.Path, resp)
	}
	return resp, nil
}

// GetJSON decodes the JSON body of GET path into out.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodGet,
		Path:   path,
		Header: http.Header{"Accept": {"application/json"}},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp.Body, out)
}

// PostJSON sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPost, path, body, out)
}

// PutJSON sends body as JSON and decodes the response into out when out is non-nil.
func (c *Client) PutJSON(ctx context.Context, path string, body, out any) error {
	return c.sendJSON(ctx, http.MethodPut, path, body, out)
}

// PostForm sends an url-encoded form. The response body is discarded.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) error {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   path,
		Body:   strings.NewReader(form.Encode()),
		Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
	})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Delete issues DELETE path and discards the response body.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: path})
	if err != nil {
		return err
	}
	drain(resp)
	return nil
}

// Binary is a raw response body with its declared content type.
type Binary struct {
	Data        []byte
	ContentType string
}

// GetBinary fetches path?rawQuery and returns the whole body.
func (c *Client) GetBinary(ctx context.Context, path, rawQuery string) (*Binary, error) {
	resp, err := c.Do(ctx, Request{
		Method:   http.MethodGet,
		Path:     path,
		RawQuery: rawQuery,
		Header:   http.Header{"Accept": {"*/*"}},
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return &Binary{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	resp, err := c.Do(ctx, Request{
		Method: method,
		Path:   path,
		Body:   bytes.NewReader(payload),
		Header: http.Header{
			"Content-Type": {"application/json"},
			"Accept":       {"application/json"},
		},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return decodeJSON(resp.Body, out)
}

func decodeJSON(r io.Reader, out any) error {
	if err := json.NewDecoder(r).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
