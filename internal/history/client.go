// Package history is a client for the backend's historical REST endpoints,
// used to backfill the log store after (re)connecting and to load chart data.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/aetherius/gcs-realtime/internal/storage"
)

const (
	logsPath      = "/api/log/historical"
	telemetryPath = "/api/telemetry/historical"

	// DefaultTimeout applies when the caller's context has no deadline.
	DefaultTimeout = 15 * time.Second

	maxBodyPreview = 256
)

// Config configures a Client.
type Config struct {
	// BaseURL is the backend's HTTP root, e.g. http://127.0.0.1:8000.
	BaseURL string
	Timeout time.Duration
	// MaxResponseBytes caps a response body. Zero uses fasthttp's default.
	MaxResponseBytes int
}

// Client fetches historical logs and telemetry.
type Client struct {
	base    string
	timeout time.Duration
	client  *fasthttp.Client
}

// NewClient creates a client for the backend at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("history base URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("history base URL must be http or https: %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		base:    base,
		timeout: cfg.Timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     4,
			MaxIdleConnDuration: 30 * time.Second,
			ReadTimeout:         cfg.Timeout,
			WriteTimeout:        cfg.Timeout,
			MaxResponseBodySize: cfg.MaxResponseBytes,
		},
	}, nil
}

// FetchLogs returns raw log records with timestamps in [start, end].
// end <= 0 leaves the upper bound open ("until now").
func (c *Client) FetchLogs(ctx context.Context, start, end int64) ([]json.RawMessage, error) {
	var records []json.RawMessage
	if err := c.get(ctx, logsPath, start, end, &records); err != nil {
		return nil, fmt.Errorf("fetch historical logs: %w", err)
	}
	return records, nil
}

// FetchTelemetry returns telemetry samples in [start, end], oldest first.
func (c *Client) FetchTelemetry(ctx context.Context, start, end int64) ([]storage.Sample, error) {
	var samples []storage.Sample
	if err := c.get(ctx, telemetryPath, start, end, &samples); err != nil {
		return nil, fmt.Errorf("fetch historical telemetry: %w", err)
	}
	return samples, nil
}

func (c *Client) get(ctx context.Context, path string, start, end int64, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(c.base + path)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")
	args := req.URI().QueryArgs()
	args.Add("start", strconv.FormatInt(start, 10))
	if end > 0 {
		args.Add("end", strconv.FormatInt(end, 10))
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	// fasthttp only honours the deadline, so cancellation is handled here.
	// An abandoned request keeps running until its deadline and releases
	// req and resp itself.
	done := make(chan error, 1)
	go func() {
		done <- c.client.DoDeadline(req, resp, deadline)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		go func() {
			<-done
			fasthttp.ReleaseRequest(req)
			fasthttp.ReleaseResponse(resp)
		}()
		return ctx.Err()
	}
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}

	status := resp.StatusCode()
	if status < 200 || status >= 300 {
		body := resp.Body()
		if len(body) > maxBodyPreview {
			body = body[:maxBodyPreview]
		}
		return fmt.Errorf("%s returned status %d: %s", path, status, body)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
