package api_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverbiasu/civitai-dl/pkg/api"
)

func newTestClient(t *testing.T, transport *httpmock.MockTransport) *api.Client {
	t.Helper()
	return api.NewClient(api.Options{
		BaseURL:            "https://test.local/api/v1",
		APIKey:             "test-key",
		MinRequestInterval: time.Millisecond,
		MaxRetries:         3,
		RateLimitPenalty:   time.Millisecond,
		Transport:          transport,
	})
}

func TestErrorTaxonomy(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "404 not found",
			status: http.StatusNotFound,
			check: func(t *testing.T, err error) {
				var nfErr *api.NotFoundError
				assert.ErrorAs(t, err, &nfErr)
			},
		},
		{
			name:   "401 authentication",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				var authErr *api.AuthenticationError
				assert.ErrorAs(t, err, &authErr)
			},
		},
		{
			name:   "500 generic with message",
			status: http.StatusInternalServerError,
			body:   `{"message":"boom"}`,
			check: func(t *testing.T, err error) {
				var apiErr *api.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
				assert.Contains(t, apiErr.Error(), "boom")
			},
		},
		{
			name:   "403 generic",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var apiErr *api.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			transport := httpmock.NewMockTransport()
			transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models/42",
				httpmock.NewStringResponder(tc.status, tc.body))

			client := newTestClient(t, transport)
			_, err := client.Model(context.Background(), 42)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestThrottleDoublesIntervalAndRetries(t *testing.T) {
	transport := httpmock.NewMockTransport()
	calls := 0
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models/7",
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusTooManyRequests, ""), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, `{"id":7,"name":"m"}`), nil
		})

	client := api.NewClient(api.Options{
		BaseURL:            "https://test.local/api/v1",
		MinRequestInterval: 10 * time.Millisecond,
		MaxRetries:         3,
		RateLimitPenalty:   time.Millisecond,
		Transport:          transport,
	})

	model, err := client.Model(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 7, model.ID)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 20*time.Millisecond, client.MinInterval())
}

func TestThrottleExhaustionReturnsRateLimitError(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models/7",
		httpmock.NewStringResponder(http.StatusTooManyRequests, ""))

	client := api.NewClient(api.Options{
		BaseURL:            "https://test.local/api/v1",
		MinRequestInterval: time.Millisecond,
		MaxRetries:         2,
		RateLimitPenalty:   time.Millisecond,
		Transport:          transport,
	})

	_, err := client.Model(context.Background(), 7)
	var rlErr *api.RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, 2, rlErr.Retries)
	// one initial call plus two retries
	assert.Equal(t, 3, transport.GetTotalCallCount())
	// doubled on every throttle response
	assert.Equal(t, 8*time.Millisecond, client.MinInterval())
}

func TestRequestSpacingHonorsMinInterval(t *testing.T) {
	const interval = 50 * time.Millisecond

	var mu sync.Mutex
	var stamps []time.Time
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models",
		func(req *http.Request) (*http.Response, error) {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
			return httpmock.NewStringResponse(http.StatusOK, `{"items":[]}`), nil
		})

	client := api.NewClient(api.Options{
		BaseURL:            "https://test.local/api/v1",
		MinRequestInterval: interval,
		Transport:          transport,
	})

	for i := 0; i < 3; i++ {
		_, err := client.Models(context.Background(), nil)
		require.NoError(t, err)
	}

	require.Len(t, stamps, 3)
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		// allow a little scheduler slop below the configured interval
		assert.GreaterOrEqual(t, gap, interval-5*time.Millisecond,
			"requests %d and %d issued %v apart", i-1, i, gap)
	}
}

func TestAuthorizationHeaderSent(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var gotAuth string
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models/1",
		func(req *http.Request) (*http.Response, error) {
			gotAuth = req.Header.Get("Authorization")
			return httpmock.NewStringResponse(http.StatusOK, `{"id":1}`), nil
		})

	client := newTestClient(t, transport)
	_, err := client.Model(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-key", gotAuth)
}

func TestDownloadURL(t *testing.T) {
	client := newTestClient(t, httpmock.NewMockTransport())
	assert.Equal(t, "https://test.local/api/download/models/99?token=test-key", client.DownloadURL(99))

	anon := api.NewClient(api.Options{Transport: httpmock.NewMockTransport()})
	assert.Equal(t, "https://civitai.com/api/download/models/99", anon.DownloadURL(99))
}

func TestContextCancellationDuringPacing(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models",
		httpmock.NewStringResponder(http.StatusOK, `{"items":[]}`))

	client := api.NewClient(api.Options{
		BaseURL:            "https://test.local/api/v1",
		MinRequestInterval: time.Minute,
		Transport:          transport,
	})

	// first request goes out immediately
	_, err := client.Models(context.Background(), nil)
	require.NoError(t, err)

	// second request would wait a minute; the context cuts it short
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Models(ctx, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled),
		"unexpected error: %v", err)
}

func TestTransportErrorKeepsCauseMatchable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models/1",
		func(req *http.Request) (*http.Response, error) {
			cancel()
			return nil, context.Canceled
		})

	client := newTestClient(t, transport)
	_, err := client.Model(ctx, 1)
	require.Error(t, err)

	var apiErr *api.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestModelVersionEndpoint(t *testing.T) {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/model-versions/101",
		httpmock.NewStringResponder(http.StatusOK, `{
			"id": 101, "modelId": 7, "name": "v1.0",
			"files": [{"name": "model.safetensors", "sizeKB": 1024, "primary": true, "downloadUrl": "https://cdn.test/file"}]
		}`))

	client := newTestClient(t, transport)
	version, err := client.ModelVersion(context.Background(), 101)
	require.NoError(t, err)
	assert.Equal(t, 101, version.ID)
	require.Len(t, version.Files, 1)
	assert.True(t, version.Files[0].Primary)
	assert.Equal(t, "model.safetensors", version.Files[0].Name)
}

func TestQueryParamsEncoded(t *testing.T) {
	transport := httpmock.NewMockTransport()
	var gotQuery url.Values
	transport.RegisterResponder(http.MethodGet, "https://test.local/api/v1/models",
		func(req *http.Request) (*http.Response, error) {
			gotQuery = req.URL.Query()
			return httpmock.NewStringResponse(http.StatusOK, `{"items":[]}`), nil
		})

	client := newTestClient(t, transport)
	params := url.Values{}
	params.Set("query", "anime style")
	params.Set("limit", "20")
	_, err := client.Models(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "anime style", gotQuery.Get("query"))
	assert.Equal(t, "20", gotQuery.Get("limit"))
}

func ExampleClient_DownloadURL() {
	client := api.NewClient(api.Options{APIKey: "secret"})
	fmt.Println(client.DownloadURL(12345))
	// Output: https://civitai.com/api/download/models/12345?token=secret
}
