package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to a running daemon's HTTP API.
type Client struct {
	baseURL    string
	token      string
	owner      string
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = strings.TrimSpace(token) }
}

// WithOwner overrides the caller identity header.
func WithOwner(owner string) ClientOption {
	return func(c *Client) { c.owner = strings.TrimSpace(owner) }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client for the daemon at bind (host:port or URL).
func NewClient(bind string, opts ...ClientOption) *Client {
	base := strings.TrimSpace(bind)
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	client := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Status fetches the daemon status report.
func (c *Client) Status(ctx context.Context) (*StatusView, error) {
	var view StatusView
	if err := c.doJSON(ctx, http.MethodGet, "/api/status", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Pipelines lists the pipeline kinds the daemon can run.
func (c *Client) Pipelines(ctx context.Context) ([]PipelineView, error) {
	var views []PipelineView
	if err := c.doJSON(ctx, http.MethodGet, "/api/pipelines", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// SubmitJob uploads one deck and starts a job of the given pipeline kind.
func (c *Client) SubmitJob(ctx context.Context, kind, deckPath string) (*JobView, error) {
	var view JobView
	if err := c.doUpload(ctx, "/api/jobs", kind, []string{deckPath}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// ListJobs lists the caller's jobs, newest first.
func (c *Client) ListJobs(ctx context.Context) ([]JobView, error) {
	var views []JobView
	if err := c.doJSON(ctx, http.MethodGet, "/api/jobs", nil, &views); err != nil {
		return nil, err
	}
	return views, nil
}

// GetJob fetches one job with stage detail.
func (c *Client) GetJob(ctx context.Context, id int64) (*JobView, error) {
	var view JobView
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/jobs/%d", id), nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// RetryJob re-runs a failed stage.
func (c *Client) RetryJob(ctx context.Context, id int64, stage string) (*JobView, error) {
	var view JobView
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/retry", id), RetryRequest{Stage: stage}, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// CancelJob requests cancellation at the next stage boundary.
func (c *Client) CancelJob(ctx context.Context, id int64) error {
	var resp CancelResponse
	return c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/jobs/%d/cancel", id), nil, &resp)
}

// RemoveJob deletes a settled job.
func (c *Client) RemoveJob(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/jobs/%d", id), nil, nil)
}

// SubmitBatch uploads several decks as one batch.
func (c *Client) SubmitBatch(ctx context.Context, kind string, deckPaths []string) (*BatchView, error) {
	var view BatchView
	if err := c.doUpload(ctx, "/api/batches", kind, deckPaths, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// GetBatch fetches the batch aggregate.
func (c *Client) GetBatch(ctx context.Context, batchID string) (*BatchView, error) {
	var view BatchView
	if err := c.doJSON(ctx, http.MethodGet, "/api/batches/"+batchID, nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// CancelBatch requests cancellation for every active job in the batch.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (int, error) {
	var resp BatchCancelResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/batches/"+batchID+"/cancel", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cancelled, nil
}

// CacheStats fetches result cache counters.
func (c *Client) CacheStats(ctx context.Context) (*CacheStatsView, error) {
	var view CacheStatsView
	if err := c.doJSON(ctx, http.MethodGet, "/api/cache/stats", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// CacheInvalidate removes entries matching a key pattern.
func (c *Client) CacheInvalidate(ctx context.Context, pattern string) (int, error) {
	var resp InvalidateResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/cache/invalidate", InvalidateRequest{Pattern: pattern}, &resp); err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) doUpload(ctx context.Context, path, kind string, filePaths []string, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("kind", kind); err != nil {
		return fmt.Errorf("encode upload: %w", err)
	}
	for _, filePath := range filePaths {
		if err := attachFile(writer, filePath); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("encode upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return c.do(req, out)
}

func attachFile(writer *multipart.Writer, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", filePath, err)
	}
	defer file.Close()

	part, err := writer.CreateFormFile("deck", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("encode upload: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("read %s: %w", filePath, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.owner != "" {
		req.Header.Set("X-Owner-Id", c.owner)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body ErrorBody
		if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr == nil && body.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
