package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// gatewayClient is a thin client for the gateway's HTTP API.
type gatewayClient struct {
	baseURL    string
	httpClient *http.Client
}

func newGatewayClient(baseURL string) *gatewayClient {
	return &gatewayClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *gatewayClient) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("gateway: %s (%s)", apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("gateway: unexpected status %d", res.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type engineStatusResponse struct {
	Online  bool `json:"online"`
	Running int  `json:"running"`
	Pending int  `json:"pending"`
}

type submissionResponse struct {
	RecordID    string `json:"record_id"`
	ExecutionID string `json:"execution_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
}

type jobStatusResponse struct {
	RecordID     string   `json:"record_id"`
	ExecutionID  string   `json:"execution_id"`
	Kind         string   `json:"kind"`
	Status       string   `json:"status"`
	WorkflowName string   `json:"workflow_name"`
	ResultURL    string   `json:"result_url"`
	OutputURLs   []string `json:"output_urls"`
	ErrorMessage string   `json:"error_message"`
	DurationMS   int64    `json:"duration_ms"`
}

type feedItemResponse struct {
	RecordID     string    `json:"record_id"`
	ExecutionID  string    `json:"execution_id"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	WorkflowName string    `json:"workflow_name"`
	URL          string    `json:"url"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreatedAt    time.Time `json:"created_at"`
}

type feedResponse struct {
	Items   []feedItemResponse `json:"items"`
	Partial bool               `json:"partial"`
}

type workflowInfoResponse struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	MaxSubjects  int    `json:"max_subjects"`
	Placeholders []struct {
		Token    string `json:"token"`
		Required bool   `json:"required"`
	} `json:"placeholders"`
}

type workflowsResponse struct {
	Workflows []workflowInfoResponse `json:"workflows"`
}
