package watrack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/ageentiq/watrack/internal/metrics"
)

// RetryTraceFunc receives one diagnostic trace per retry attempt. The default
// sink writes to the standard logger (stderr) so stdout stays machine-readable.
type RetryTraceFunc func(method, url string, attempt, maxAttempts int, delay time.Duration, cause error)

type ClientOptions struct {
	BaseURL    string
	APIPrefix  string
	Headers    map[string]string
	HTTPClient *http.Client
	MaxRetries int
	BaseDelay  time.Duration
	Trace      RetryTraceFunc
}

// Client talks to the n8n REST API with bounded exponential-backoff retry on
// transient failures.
type Client struct {
	baseURL    string
	apiPrefix  string
	headers    map[string]string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	trace      RetryTraceFunc
	jitter     func() float64
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	apiPrefix := strings.TrimSpace(opts.APIPrefix)
	if apiPrefix == "" {
		apiPrefix = "/api/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 600 * time.Millisecond
	}
	trace := opts.Trace
	if trace == nil {
		trace = func(method, url string, attempt, maxAttempts int, delay time.Duration, cause error) {
			log.Printf("[retry] %s %s attempt %d/%d failed: %v. sleep %.2fs", method, url, attempt, maxAttempts, cause, delay.Seconds())
		}
	}
	headers := make(map[string]string, len(opts.Headers))
	for k, v := range opts.Headers {
		headers[k] = v
	}
	return &Client{
		baseURL:    baseURL,
		apiPrefix:  apiPrefix,
		headers:    headers,
		httpClient: httpClient,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		trace:      trace,
		jitter:     rand.Float64,
	}
}

// SetHeaders replaces the auth headers sent with every request. Used by serve
// mode when credentials are rotated via the watched env file.
func (c *Client) SetHeaders(headers map[string]string) {
	replacement := make(map[string]string, len(headers))
	for k, v := range headers {
		replacement[k] = v
	}
	c.headers = replacement
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// doRequest performs one logical call with up to maxRetries attempts.
// Transient statuses (429/5xx) are converted into retryable errors; any other
// response, success or not, is returned to the caller for inspection. The
// error from the final attempt propagates unmodified.
func (c *Client) doRequest(ctx context.Context, method, url string, jsonBody any) (*http.Response, error) {
	var bodyBytes []byte
	if jsonBody != nil {
		encoded, err := json.Marshal(jsonBody)
		if err != nil {
			return nil, err
		}
		bodyBytes = encoded
	}

	for attempt := 1; ; attempt++ {
		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}

		resp, doErr := c.httpClient.Do(req)
		if doErr == nil {
			if !isTransientStatus(resp.StatusCode) {
				return resp, nil
			}
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			_ = resp.Body.Close()
			doErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		}
		if attempt >= c.maxRetries {
			return nil, doErr
		}
		delay := c.retryDelay(attempt)
		c.trace(method, url, attempt, c.maxRetries, delay, doErr)
		metrics.HTTPRetriesTotal.Inc()
		if waitErr := sleepContext(ctx, delay); waitErr != nil {
			return nil, waitErr
		}
	}
}

// retryDelay implements baseDelay * 2^(attempt-1) plus up to half the base
// delay of uniform jitter (0.6s * 2^(n-1) + U(0, 0.3s) at the defaults).
func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := time.Duration(c.jitter() * float64(c.baseDelay) / 2)
	return delay + jitter
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
