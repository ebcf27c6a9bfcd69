package jobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gengate/internal/domain"
	"gengate/internal/infra"
)

// ErrMissingBaseURL indicates the client was configured without a store endpoint.
var ErrMissingBaseURL = errors.New("jobstore: base url is required")

// Options configures the backend job store client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the backend job record API. The store is
// the authoritative owner of job records; the gateway never persists them
// locally.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{baseURL: baseURL, apiKey: strings.TrimSpace(opts.APIKey), httpClient: httpClient, logger: logger}, nil
}

func collectionPath(kind domain.JobKind) string {
	if kind == domain.JobKindImage {
		return "/image-jobs"
	}
	return "/video-jobs"
}

type envelope struct {
	Success bool            `json:"success"`
	ID      string          `json:"id,omitempty"`
	Item    *JobRecord      `json:"item,omitempty"`
	Items   []JobRecord     `json:"items,omitempty"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// CreateJob inserts a new record and returns the store-assigned record id.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (string, error) {
	if req.ExecutionID == "" {
		return "", fmt.Errorf("jobstore: %w: execution id", domain.ErrMissingInput)
	}
	env, err := c.do(ctx, http.MethodPost, collectionPath(req.Kind), nil, req)
	if err != nil {
		return "", err
	}
	if env.ID == "" {
		return "", errors.New("jobstore: store returned no record id")
	}
	c.logger.Debug().Str("record_id", env.ID).Str("execution_id", req.ExecutionID).Msg("jobstore: record created")
	return env.ID, nil
}

// MarkProcessing transitions the record keyed by execution id to processing.
func (c *Client) MarkProcessing(ctx context.Context, kind domain.JobKind, executionID string) error {
	path := collectionPath(kind) + "/" + url.PathEscape(executionID) + "/processing"
	_, err := c.do(ctx, http.MethodPost, path, nil, nil)
	return err
}

// CompleteJob finalizes the record as completed with its durable outputs.
// Transient references are stripped before the write; the store never sees
// them.
func (c *Client) CompleteJob(ctx context.Context, kind domain.JobKind, executionID string, outputURLs []string, duration time.Duration) error {
	body := map[string]any{
		"status":      domain.JobStatusCompleted,
		"output_urls": domain.FilterDurableURLs(outputURLs),
	}
	if duration > 0 {
		body["duration_ms"] = duration.Milliseconds()
	}
	path := collectionPath(kind) + "/" + url.PathEscape(executionID) + "/complete"
	_, err := c.do(ctx, http.MethodPost, path, nil, body)
	return err
}

// FailJob finalizes the record as failed with a captured message.
func (c *Client) FailJob(ctx context.Context, kind domain.JobKind, executionID, message string) error {
	body := map[string]any{
		"status":        domain.JobStatusFailed,
		"error_message": message,
	}
	path := collectionPath(kind) + "/" + url.PathEscape(executionID) + "/fail"
	_, err := c.do(ctx, http.MethodPost, path, nil, body)
	return err
}

// GetByExecutionID fetches one record by its engine execution id.
func (c *Client) GetByExecutionID(ctx context.Context, kind domain.JobKind, executionID string) (*JobRecord, error) {
	path := collectionPath(kind) + "/" + url.PathEscape(executionID)
	env, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if env.Item == nil {
		return nil, fmt.Errorf("jobstore: record %s: %w", executionID, domain.ErrNotFound)
	}
	return env.Item, nil
}

// List fetches a page of records from one collection, newest first.
func (c *Client) List(ctx context.Context, q ListQuery) ([]JobRecord, error) {
	query := url.Values{}
	if q.WorkflowName != "" {
		query.Set("workflow_name", q.WorkflowName)
	}
	if q.Offset > 0 {
		query.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.CompletedOnly {
		query.Set("completed_only", "true")
	}
	env, err := c.do(ctx, http.MethodGet, collectionPath(q.Kind), query, nil)
	if err != nil {
		return nil, err
	}
	return env.Items, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*envelope, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("jobstore: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("jobstore: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jobstore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("jobstore: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jobstore: %s %s returned status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("jobstore: decode response: %w", err)
	}
	if !env.Success {
		detail := env.Error
		if detail == "" {
			detail = "store reported failure without detail"
		}
		return nil, fmt.Errorf("jobstore: %s %s: %s", method, path, detail)
	}
	return &env, nil
}
