package api

import "fmt"

// APIError is the generic error for API calls: any response status >= 400
// that has no more specific type below, and transport-level failures
// (StatusCode is 0 when the request never produced a response).
type APIError struct {
	StatusCode int
	URL        string
	Message    string
	Err        error // underlying transport error, nil for status errors
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("api request failed: %s: %s", e.URL, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s: %s", e.StatusCode, e.URL, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.URL)
}

// Unwrap exposes the transport error so context cancellation and net errors
// stay matchable with errors.Is.
func (e *APIError) Unwrap() error { return e.Err }

// NotFoundError is returned for 404 responses.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.URL)
}

// AuthenticationError is returned for 401 responses.
type AuthenticationError struct {
	URL string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("api authentication failed: %s", e.URL)
}

// RateLimitError is returned once 429 retries are exhausted.
type RateLimitError struct {
	URL     string
	Retries int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("api rate limit exceeded after %d retries: %s", e.Retries, e.URL)
}
