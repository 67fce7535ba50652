package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/OFFIS-RIT/paperqa/backend/pkg/logger"

	"golang.org/x/time/rate"
)

const (
	// BaseURL is the arXiv export API query endpoint.
	BaseURL = "https://export.arxiv.org/api/query"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultInterval is the delay between requests asked for by the arXiv
	// API terms of use.
	DefaultInterval = 3 * time.Second

	// DefaultPageSize is the number of entries requested per page.
	DefaultPageSize = 100
)

// Client is a rate-limited client for the arXiv export API.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	pageSize   int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithLimiter shares a limiter with other arXiv consumers such as the PDF
// downloader, so the combined request rate stays within the terms of use.
func WithLimiter(l *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithPageSize sets how many entries are requested per page.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// NewLimiter returns a limiter allowing one request per interval.
func NewLimiter(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// NewClient creates a new arXiv API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    NewLimiter(DefaultInterval),
		baseURL:    BaseURL,
		pageSize:   DefaultPageSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search returns a lazy sequence of entries for query, sorted by relevance.
// Pages are requested only as the sequence is consumed and the sequence
// ends after maxResults entries or when the feed runs out. Each range over
// the sequence issues fresh requests.
//
// An invalid query or limit is yielded as the first error without any
// network call. Iteration stops after the first error.
func (c *Client) Search(ctx context.Context, query string, maxResults int) iter.Seq2[Entry, error] {
	query = strings.TrimSpace(query)
	return func(yield func(Entry, error) bool) {
		if query == "" {
			yield(Entry{}, ErrEmptyQuery)
			return
		}
		if maxResults <= 0 {
			yield(Entry{}, ErrInvalidLimit)
			return
		}

		yielded := 0
		start := 0
		for yielded < maxResults {
			size := min(c.pageSize, maxResults-yielded)
			feed, err := c.fetchPage(ctx, query, start, size)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			if len(feed.Entries) == 0 {
				return
			}

			for _, raw := range feed.Entries {
				if raw.isError() {
					yield(Entry{}, &APIError{StatusCode: http.StatusBadRequest, Body: strings.TrimSpace(raw.Summary)})
					return
				}
				if !yield(raw.toEntry(), nil) {
					return
				}
				yielded++
				if yielded >= maxResults {
					return
				}
			}

			start += len(feed.Entries)
			if len(feed.Entries) < size {
				return
			}
			if feed.TotalResults > 0 && start >= feed.TotalResults {
				return
			}
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Entry, error]) ([]Entry, error) {
	var out []Entry
	for e, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) fetchPage(ctx context.Context, query string, start, size int) (*atomFeed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", strconv.Itoa(start))
	params.Set("max_results", strconv.Itoa(size))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/atom+xml")

	logger.Debug("Querying arXiv", "query", query, "start", start, "size", size)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return &feed, nil
}
