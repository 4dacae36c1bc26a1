package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"
)

// RequestJSON performs an HTTP request, retrying transport errors and 5xx
// responses. Waits between attempts honor ctx cancellation; a final 5xx is
// returned as a status, not an error, so callers classify it themselves.
func RequestJSON(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string, retries int, retryDelay time.Duration) (int, []byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if retries < 0 {
		retries = 0
	}
	var (
		lastStatus int
		lastBody   []byte
		lastErr    error
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if err := waitRetry(ctx, retryDelay); err != nil {
				return 0, nil, err
			}
		}
		status, respBody, err := doJSONRequest(ctx, client, method, url, body, headers)
		if err != nil {
			lastStatus, lastBody, lastErr = 0, nil, err
			continue
		}
		lastStatus, lastBody, lastErr = status, respBody, nil
		if status < http.StatusInternalServerError {
			return status, respBody, nil
		}
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return lastStatus, lastBody, nil
}

func doJSONRequest(ctx context.Context, client *http.Client, method, url string, body []byte, headers map[string]string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// waitRetry blocks for the backoff delay unless the request context ends
// first; a cancelled caller never sits out a retry sleep.
func waitRetry(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
