// Package transport fetches index and bundle files from the
// distribution server over HTTP.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/bundlesync/internal/domain"
)

const (
	defaultTimeout = 5 * time.Minute
	userAgent      = "bundlesync/1.0"
)

// Client implements domain.Fetcher.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a fetcher. A zero timeout selects the default.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Get performs a GET of url and returns the whole body.
func (c *Client) Get(ctx context.Context, url string, onProgress domain.ProgressFunc) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("fetch request", "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Error("fetch request failed", "url", url, "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	total := resp.ContentLength
	var buf bytes.Buffer
	if total > 0 {
		buf.Grow(int(total))
	}

	var body io.Reader = resp.Body
	if onProgress != nil {
		onProgress(0, total)
		body = &progressReader{r: resp.Body, total: total, fn: onProgress}
	}
	if _, err := io.Copy(&buf, body); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return buf.Bytes(), nil
}

// progressReader reports cumulative bytes read.
type progressReader struct {
	r     io.Reader
	read  int64
	total int64
	fn    domain.ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.fn(p.read, p.total)
	}
	return n, err
}

// BaseURL normalizes a server address. A bare host[:port] is given an
// http scheme and trailing slashes are dropped.
func BaseURL(server string) string {
	server = strings.TrimSpace(server)
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	return strings.TrimRight(server, "/")
}

// JoinURL joins path segments onto base with single slashes.
func JoinURL(base string, segments ...string) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(base, "/"))
	for _, s := range segments {
		s = strings.Trim(strings.ReplaceAll(s, "\\", "/"), "/")
		if s == "" {
			continue
		}
		sb.WriteByte('/')
		sb.WriteString(s)
	}
	return sb.String()
}
