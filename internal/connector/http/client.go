package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Defaults applied by NewClient to zero-valued ClientConfig fields.
// Retries are opt-in: a failed request surfaces to the caller, which
// decides whether to run again.
const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxRetries   = 0
	DefaultRateLimit    = 10.0
	DefaultRateBurst    = 5
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultUserAgent    = "timebridge/1.0"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is prefixed to every request path.
	BaseURL string

	Auth Auth

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts for retryable GETs.
	// Zero or negative sends every request once.
	MaxRetries int

	// RateLimit is requests per second; RateBurst the bucket size.
	RateLimit float64
	RateBurst int

	// RetryBackoff is the first backoff delay; it doubles per attempt.
	RetryBackoff time.Duration

	UserAgent string
	Headers   map[string]string

	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Client is a rate-limited, retrying JSON client bound to one base URL.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a Client, filling zero fields with defaults.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RateLimit == 0 {
		config.RateLimit = DefaultRateLimit
	}
	if config.RateBurst == 0 {
		config.RateBurst = DefaultRateBurst
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Auth == nil {
		config.Auth = NoAuth{}
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// Request is one API call.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    []byte
}

// Response is a fully read 2xx response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON decodes the response body into target.
func (r *Response) JSON(target any) error {
	if err := json.Unmarshal(r.Body, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do sends req. When MaxRetries is set, GETs answered with 429 or 5xx
// are retried with doubling backoff.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	attempts := 1
	if req.Method == http.MethodGet {
		attempts += c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff << uint(attempt-1)
			slog.Debug("retrying request",
				"method", req.Method,
				"path", req.Path,
				"attempt", attempt+1,
				"backoff", backoff,
				"error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.doOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
	}

	if attempts > 1 {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, req *Request) (*Response, error) {
	fullURL := strings.TrimSuffix(c.config.BaseURL, "/")
	if req.Path != "" {
		fullURL += "/" + strings.TrimPrefix(req.Path, "/")
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	c.config.Auth.Apply(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", req.Method, req.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			Method:     req.Method,
			Path:       req.Path,
			StatusCode: resp.StatusCode,
			Message:    string(data),
		}
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}, nil
}

// GetJSON performs a GET and decodes the JSON body into target.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, target any) error {
	resp, err := c.Do(ctx, &Request{
		Method: http.MethodGet,
		Path:   path,
		Query:  query,
	})
	if err != nil {
		return err
	}
	return resp.JSON(target)
}

// PostJSON sends body as JSON. The response is returned undecoded.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return c.Do(ctx, &Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    data,
		Headers: map[string]string{"Content-Type": "application/json"},
	})
}
