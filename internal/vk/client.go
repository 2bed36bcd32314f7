package vk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the vk.com method endpoint.
const DefaultBaseURL = "https://api.vk.com/method/"

// DefaultVersion is the API version requested when none is configured.
const DefaultVersion = "5.92"

// maxResponseSize caps how much of a response body is read into memory.
const maxResponseSize = 32 << 20

// Invoker executes one named remote procedure. It returns either the raw
// "response" value or an error; never both.
type Invoker interface {
	Call(ctx context.Context, method string, params url.Values) (json.RawMessage, error)
}

// Fetcher downloads an arbitrary URL (thumbnails, avatars).
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the method endpoint. Defaults to DefaultBaseURL.
	BaseURL string
	// AccessToken is appended to every call.
	AccessToken string
	// Version is the "v" parameter. Defaults to DefaultVersion.
	Version string
	// HTTPClient is used for all requests. If nil, a client with Timeout is created.
	HTTPClient *http.Client
	// Timeout applies when HTTPClient is nil.
	Timeout time.Duration
	// RequestsPerSecond limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Client is the HTTP implementation of Invoker and Fetcher.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates a vk.com API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("vk: invalid base URL %q: %w", base, err)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    base,
		token:      cfg.AccessToken,
		version:    version,
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

type envelope struct {
	Response json.RawMessage `json:"response"`
	Error    *Error          `json:"error"`
}

// Call invokes method with params. API-level failures come back as *Error.
func (c *Client) Call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	form := url.Values{}
	for k, vs := range params {
		form[k] = append([]string(nil), vs...)
	}
	form.Set("v", c.version)
	if c.token != "" {
		form.Set("access_token", c.token)
	}

	body, err := c.post(ctx, c.baseURL+method, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("vk: %s: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("vk: %s: %w: %v", method, ErrMalformed, err)
	}
	if env.Error != nil {
		c.logger.Debug("api error",
			zap.String("method", method),
			zap.Int("code", env.Error.Code),
			zap.String("msg", env.Error.Message))
		return nil, env.Error
	}
	if env.Response == nil {
		return nil, fmt.Errorf("vk: %s: %w: no response field", method, ErrMalformed)
	}
	return env.Response, nil
}

// Fetch downloads rawURL and returns the body on a 2xx status.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("vk: create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, target, contentType string, body io.Reader) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", req.URL.Host, maxResponseSize)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Host)
	}
	return data, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}
