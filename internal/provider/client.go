package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Guizzs26/go-paysync/pkg/infra"
	"github.com/Guizzs26/go-paysync/pkg/metrics"
)

const (
	maxAttempts = 3

	// error bodies are truncated to this many bytes
	maxErrorBody = 512
)

// APIError is a non-2xx provider response
type APIError struct {
	Provider string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Body)
}

// Retryable reports whether the request may succeed when repeated
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// client is the shared JSON-over-HTTP transport of the provider clients
type client struct {
	name       string
	baseURL    string
	http       *http.Client
	authorize  func(*http.Request)
	newBackoff func() *infra.Backoff
	logger     *slog.Logger
}

func newClient(name, baseURL string, httpClient *http.Client, authorize func(*http.Request), logger *slog.Logger) *client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &client{
		name:      name,
		baseURL:   baseURL,
		http:      httpClient,
		authorize: authorize,
		newBackoff: func() *infra.Backoff {
			return infra.NewBackoff(500*time.Millisecond, 8*time.Second, 2.0)
		},
		logger: logger.With("provider", name),
	}
}

// getJSON issues GET baseURL+path and decodes the body into out. Rate limits,
// 5xx responses and transport errors are retried with jittered backoff.
func (c *client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	start := time.Now()
	status := "ok"
	defer func() {
		metrics.ProviderRequestDuration.WithLabelValues(c.name, status).Observe(time.Since(start).Seconds())
	}()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	backoff := c.newBackoff()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = c.do(ctx, endpoint, out)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == maxAttempts {
			break
		}

		var apiErr *APIError
		if errors.As(lastErr, &apiErr) && apiErr.Status == http.StatusTooManyRequests {
			c.logger.Warn("Rate limited by provider, backing off", "attempt", attempt)
		} else {
			c.logger.Warn("Provider request failed, retrying", "attempt", attempt, "error", lastErr)
		}
		metrics.ProviderRetries.WithLabelValues(c.name).Inc()

		if _, err := backoff.Wait(ctx); err != nil {
			status = "canceled"
			return err
		}
	}

	status = "error"
	return lastErr
}

func (c *client) do(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: c.name, Status: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s decode: %w", c.name, err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func unixParam(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}
