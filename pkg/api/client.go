package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/neverbiasu/civitai-dl/pkg/logging"
	"github.com/neverbiasu/civitai-dl/pkg/version"
)

const (
	retryMinWait     = 100 * time.Millisecond
	retryMaxWait     = 3000 * time.Millisecond // do not backoff further than 3 seconds
	retrySleepJitter = 500                     // (will add 0-500 additional milliseconds), multiplied by time.Millisecond in backoffFunc

	// rateLimitPenalty is slept in addition to the doubled interval after a
	// 429 response, before the request is reissued.
	rateLimitPenalty = 5 * time.Second

	defaultMinRequestInterval = 1 * time.Second
	defaultTimeout            = 30 * time.Second
	defaultMaxRetries         = 3
)

type Options struct {
	// BaseURL of the REST API, without a trailing slash.
	BaseURL string

	// APIKey is sent as a Bearer token on every request when set.
	APIKey string

	// Timeout bounds a single metadata call, body included. Download
	// requests issued through Do are only bounded up to response headers.
	Timeout time.Duration

	// MinRequestInterval is the initial pacing interval between requests.
	// The interval doubles every time the server throttles us and never
	// decreases for the lifetime of the client.
	MinRequestInterval time.Duration

	// MaxRetries bounds how many times a throttled request is reissued
	// before giving up with a RateLimitError.
	MaxRetries int

	// RateLimitPenalty is the fixed extra sleep after a 429 before the
	// request is reissued.
	RateLimitPenalty time.Duration

	// Transport overrides the underlying round tripper. Used in tests.
	Transport http.RoundTripper
}

// Client is a rate-limited Civitai API client. All outbound requests are
// serialized through a single limiter so that no two requests are issued
// closer together than the current minimum interval.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	penalty    time.Duration

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

type userAgentTransport struct {
	transport http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", fmt.Sprintf("civitai-dl/%s", version.GetVersion()))
	return t.transport.RoundTrip(req)
}

func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://civitai.com/api/v1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MinRequestInterval == 0 {
		opts.MinRequestInterval = defaultMinRequestInterval
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RateLimitPenalty == 0 {
		opts.RateLimitPenalty = rateLimitPenalty
	}
	return &Client{
		http:        newHTTPClient(opts),
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		timeout:     opts.Timeout,
		maxRetries:  opts.MaxRetries,
		penalty:     opts.RateLimitPenalty,
		minInterval: opts.MinRequestInterval,
	}
}

// newHTTPClient wires the retryablehttp client that handles transport-level
// transient failures. Throttling responses are excluded from its retry policy
// because Client.Do owns the 429 semantics (interval doubling and penalty sleep).
func newHTTPClient(opts Options) *http.Client {
	baseTransport := opts.Transport
	if baseTransport == nil {
		baseTransport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: opts.Timeout,
			ExpectContinueTimeout: 1 * time.Second,
		}
	}

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: &userAgentTransport{transport: baseTransport},
		},
		Logger:       nil,
		RetryWaitMin: retryMinWait,
		RetryWaitMax: retryMaxWait,
		RetryMax:     opts.MaxRetries,
		CheckRetry:   checkRetry,
		Backoff:      backoffFunc,
		// surface the last response after retries are spent so the caller
		// can map its status to a typed error
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	return retryClient.StandardClient()
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// backoffFunc adds a random jitter on top of the default exponential backoff
// to avoid thundering herd against a recovering server.
func backoffFunc(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	sleep := time.Duration(rand.Intn(retrySleepJitter)) * time.Millisecond
	sleep += retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
	return sleep
}

// Do issues a single rate-limited request and returns the response with its
// body unread, so callers can stream large payloads. The limiter lock is held
// until response headers arrive, which serializes request issuance; body reads
// happen outside the lock.
//
// On 429 the pacing interval is doubled (it never decays), a fixed penalty is
// slept, and the request is reissued, bounded by MaxRetries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	logger := logging.GetLogger()

	if c.apiKey != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if wait := c.minInterval - time.Since(c.lastRequest); wait > 0 {
			logger.Debug().Dur("wait", wait).Msg("Rate limit pacing")
			if err := sleepContext(req.Context(), wait); err != nil {
				return nil, err
			}
		}

		resp, err := c.http.Do(req)
		c.lastRequest = time.Now()
		if err != nil {
			return nil, &APIError{URL: req.URL.String(), Message: err.Error(), Err: err}
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		drainAndClose(resp.Body)
		c.minInterval *= 2
		logger.Warn().
			Dur("min_interval", c.minInterval).
			Int("attempt", attempt+1).
			Str("url", req.URL.String()).
			Msg("Throttled by server, increasing request interval")

		if attempt >= c.maxRetries {
			return nil, &RateLimitError{URL: req.URL.String(), Retries: attempt}
		}
		if err := sleepContext(req.Context(), c.penalty); err != nil {
			return nil, err
		}
	}
}

// MinInterval reports the current pacing interval. It starts at the
// configured minimum and only ever grows.
func (c *Client) MinInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minInterval
}

// Request builds and issues a rate-limited call against an API endpoint path.
func (c *Client) Request(ctx context.Context, method, path string, params url.Values) (*http.Response, error) {
	u := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", u, err)
	}
	return c.Do(req)
}

// Get issues a metadata call and decodes the JSON response into out. The call
// is bounded by the configured per-call timeout, body included. Error statuses
// are mapped to the typed taxonomy.
func (c *Client) Get(ctx context.Context, path string, params url.Values, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.Request(ctx, http.MethodGet, path, params)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errorFromResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, URL: resp.Request.URL.String(), Message: "invalid JSON response"}
	}
	return nil
}

func errorFromResponse(resp *http.Response) error {
	u := resp.Request.URL.String()
	switch resp.StatusCode {
	case http.StatusNotFound:
		return &NotFoundError{URL: u}
	case http.StatusUnauthorized:
		return &AuthenticationError{URL: u}
	}

	// Surface the server's message when the error body is decodable.
	var body struct {
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &APIError{StatusCode: resp.StatusCode, URL: u, Message: body.Message}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
