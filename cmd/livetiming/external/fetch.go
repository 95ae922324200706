// Package external reads race schedules and championship standings from third party sites
package external

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Frank-III/f1-swifty-sub002/internal"
	"go.uber.org/zap"
)

// SourceError is returned when an upstream site cannot be read or parsed
type SourceError struct {
	Source string
	URL    string
	Status int
	Err    error
}

func (e *SourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s answered %d", e.Source, e.URL, e.Status)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source, e.URL, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

const maxBodySize = 8 << 20

type fetcher struct {
	client  *http.Client
	retries int
}

func newFetcher(client *http.Client) fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return fetcher{client: client, retries: 3}
}

// getUrlWithRetry retries transport errors and 5xx answers with a backoff
func (f fetcher) getUrlWithRetry(ctx context.Context, source string, url string) ([]byte, error) {
	var lastErr error
	for i := 0; i < f.retries; i++ {
		if i > 0 {
			if err := internal.SleepBackedOff(ctx, int64(i), 200*time.Millisecond, 2*time.Second); err != nil {
				return nil, &SourceError{Source: source, URL: url, Err: err}
			}
		}
		body, status, err := f.getUrl(ctx, url)
		switch {
		case err != nil:
			lastErr = &SourceError{Source: source, URL: url, Err: err}
		case status == http.StatusOK:
			return body, nil
		case status >= 500 || status == http.StatusTooManyRequests:
			lastErr = &SourceError{Source: source, URL: url, Status: status}
		default:
			return nil, &SourceError{Source: source, URL: url, Status: status}
		}
		zap.S().Debugf("Fetching %s failed (attempt %d): %s", url, i+1, lastErr)
	}
	return nil, lastErr
}

// getUrl executes a GET request to an url and returns the body as bytes
func (f fetcher) getUrl(ctx context.Context, url string) (body []byte, status int, err error) {
	var req *http.Request
	/* #nosec G107 -- the urls come from configuration */
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("User-Agent", "livetiming/1.0")

	var resp *http.Response
	resp, err = f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	status = resp.StatusCode
	if status != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
		return nil, status, nil
	}
	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	return body, status, err
}
