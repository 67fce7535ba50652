package arxiv

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrEmptyQuery   = errors.New("search query is empty")
	ErrInvalidLimit = errors.New("max results must be positive")
	ErrRateLimited  = errors.New("rate limited by arXiv API")
	ErrDecode       = errors.New("failed to decode arXiv feed")
)

// APIError is returned for non-200 responses from the export API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("arxiv API error (status %d): %s", e.StatusCode, e.Body)
}

// Is lets errors.Is(err, ErrRateLimited) match throttling responses. arXiv
// answers with 503 as often as 429 when a client is too fast.
func (e *APIError) Is(target error) bool {
	if target == ErrRateLimited {
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}
