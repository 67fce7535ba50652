package ai

import (
	"context"
	"errors"
	"net"
	"net/http"
)

var (
	ErrEmptyResponse    = errors.New("model returned an empty response")
	ErrNotConfigured    = errors.New("model client not configured")
	ErrEmbeddingMissing = errors.New("embedding missing from response")
)

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// ProviderError normalizes errors from the OpenAI and Ollama SDKs so callers
// can classify them without importing either SDK.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) HTTPStatus() int {
	return e.StatusCode
}

// IsTransient reports whether err is worth retrying: timeouts, rate limits
// and server side failures. Auth and request errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		status := sc.HTTPStatus()
		switch {
		case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
			return true
		case status >= 500:
			return true
		case status > 0:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
