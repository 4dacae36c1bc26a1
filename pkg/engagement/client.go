package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/apierr"
	"github.com/vyakhyaagoyal/Techmentorx-Cybirbs/pkg/httpx"
)

// Client talks to the external computer-vision engagement service. The
// service's payloads are passed through untouched; this backend does not own
// their schema.
type Client struct {
	BaseURL    string
	HTTP       *http.Client
	AuthHeader string
	AuthToken  string
	Retries    int
	RetryDelay time.Duration
}

func (c *Client) headers() map[string]string {
	if c.AuthHeader == "" || c.AuthToken == "" {
		return nil
	}
	return map[string]string{c.AuthHeader: c.AuthToken}
}

func (c *Client) ListLectures(ctx context.Context) (json.RawMessage, error) {
	status, body, err := httpx.RequestJSON(ctx, c.HTTP, http.MethodGet, c.BaseURL+"/api/lectures", nil, c.headers(), c.Retries, c.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("engagement service unavailable: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("engagement service returned status %d", status)
	}
	return body, nil
}

func (c *Client) Report(ctx context.Context, lectureID string) (json.RawMessage, error) {
	status, body, err := httpx.RequestJSON(ctx, c.HTTP, http.MethodGet, c.BaseURL+"/api/engagement/"+url.PathEscape(lectureID), nil, c.headers(), c.Retries, c.RetryDelay)
	if err != nil {
		return nil, fmt.Errorf("engagement service unavailable: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, apierr.NotFound("lecture not found")
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("engagement service returned status %d", status)
	}
	return body, nil
}

func (c *Client) DeleteLecture(ctx context.Context, lectureID string) error {
	status, _, err := httpx.RequestJSON(ctx, c.HTTP, http.MethodDelete, c.BaseURL+"/api/engagement/"+url.PathEscape(lectureID), nil, c.headers(), c.Retries, c.RetryDelay)
	if err != nil {
		return fmt.Errorf("engagement service unavailable: %w", err)
	}
	if status == http.StatusNotFound {
		return apierr.NotFound("lecture not found")
	}
	if status != http.StatusOK {
		return fmt.Errorf("engagement service returned status %d", status)
	}
	return nil
}
