package domain

import "context"

// Fetcher performs a blocking GET of url and returns the body. It
// reports byte-level progress through onProgress when non-nil.
type Fetcher interface {
	Get(ctx context.Context, url string, onProgress ProgressFunc) ([]byte, error)
}
