// Package workers provides HTTP clients for the external services that
// execute pipeline stages: script generation, speech synthesis, and video
// rendering. Each client implements the stage.Worker contract.
package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"deckforge/internal/config"
	"deckforge/internal/job"
	"deckforge/internal/services"
	"deckforge/internal/stage"
)

// Client invokes one external worker service over HTTP. Stage requests POST
// to /v1/stages/{stage}; readiness probes GET /healthz.
type Client struct {
	service    string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ stage.Worker = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client (used in tests).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a worker client for one configured endpoint.
func NewClient(service string, endpoint config.WorkerEndpoint, opts ...Option) (*Client, error) {
	baseURL := strings.TrimSpace(endpoint.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("%s worker base url required", service)
	}
	timeout := time.Duration(endpoint.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := &Client{
		service:    service,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(endpoint.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// stageRequest is the wire format for a stage invocation.
type stageRequest struct {
	JobID          int64                  `json:"job_id"`
	Kind           string                 `json:"kind"`
	Stage          string                 `json:"stage"`
	SourcePath     string                 `json:"source_path"`
	SourceName     string                 `json:"source_name"`
	Prior          map[string]job.Payload `json:"prior,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key"`
	Attempt        int                    `json:"attempt"`
}

type stageResponse struct {
	Output job.Payload `json:"output"`
	Error  string      `json:"error,omitempty"`
}

// Invoke executes one stage attempt against the remote service. HTTP 4xx is
// a validation failure, 429 and 5xx are transient, transport errors are
// infrastructure failures.
func (c *Client) Invoke(ctx context.Context, in stage.Input) (stage.Output, error) {
	body, err := json.Marshal(stageRequest{
		JobID:          in.JobID,
		Kind:           in.Kind,
		Stage:          in.Stage,
		SourcePath:     in.SourcePath,
		SourceName:     in.SourceName,
		Prior:          in.Prior,
		IdempotencyKey: in.IdempotencyKey,
		Attempt:        in.Attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode stage request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/stages/%s", c.baseURL, in.Stage)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build stage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(
				services.ErrTimeout, in.Stage, "invoke "+c.service,
				fmt.Sprintf("%s service did not answer in time", c.service), err)
		}
		return nil, services.Wrap(
			services.ErrInfrastructure, in.Stage, "invoke "+c.service,
			fmt.Sprintf("%s service unreachable", c.service), err)
	}
	defer resp.Body.Close()

	var payload stageResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&payload); decodeErr != nil && resp.StatusCode == http.StatusOK {
		return nil, services.Wrap(
			services.ErrInfrastructure, in.Stage, "invoke "+c.service,
			fmt.Sprintf("%s service returned an unreadable response", c.service), decodeErr)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return stage.Output(payload.Output), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, services.Wrap(
			services.ErrTransient, in.Stage, "invoke "+c.service,
			remoteDetail(c.service, resp.StatusCode, payload.Error), nil)
	default:
		return nil, services.Wrap(
			services.ErrValidation, in.Stage, "invoke "+c.service,
			remoteDetail(c.service, resp.StatusCode, payload.Error), nil)
	}
}

// HealthCheck probes the service's /healthz endpoint.
func (c *Client) HealthCheck(ctx context.Context) stage.Health {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return stage.Unhealthy(c.service, err.Error())
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stage.Unhealthy(c.service, "unreachable: "+err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return stage.Unhealthy(c.service, fmt.Sprintf("health probe returned %d", resp.StatusCode))
	}
	return stage.Healthy(c.service)
}

func remoteDetail(service string, status int, remoteErr string) string {
	if remoteErr != "" {
		return fmt.Sprintf("%s service returned %d: %s", service, status, remoteErr)
	}
	return fmt.Sprintf("%s service returned %d", service, status)
}
