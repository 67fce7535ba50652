package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/loader"

	"golang.org/x/time/rate"
)

const (
	defaultMaxBytes  = 64 << 20
	defaultTimeout   = 2 * time.Minute
	defaultUserAgent = "paperqa/1.0 (+https://github.com/OFFIS-RIT/paperqa)"
)

// WebLoader downloads raw file bytes over HTTP.
type WebLoader struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxBytes   int64
	userAgent  string
}

type Option func(*WebLoader)

func WithHTTPClient(hc *http.Client) Option {
	return func(l *WebLoader) {
		l.httpClient = hc
	}
}

// WithLimiter throttles downloads, e.g. with the limiter shared with the
// arXiv API client.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(l *WebLoader) {
		l.limiter = limiter
	}
}

func WithMaxBytes(n int64) Option {
	return func(l *WebLoader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

func NewWebLoader(opts ...Option) *WebLoader {
	l := &WebLoader{
		httpClient: &http.Client{Timeout: defaultTimeout},
		maxBytes:   defaultMaxBytes,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// GetFileText fetches file.URL and returns the response body.
func (l *WebLoader) GetFileText(ctx context.Context, file loader.File) ([]byte, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", file.URL, err)
	}
	req.Header.Set("User-Agent", l.userAgent)

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", file.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", loader.ErrUnavailable, file.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file.URL, err)
	}
	if int64(len(body)) > l.maxBytes {
		return nil, fmt.Errorf("%w: %s", loader.ErrTooLarge, file.URL)
	}
	return body, nil
}
