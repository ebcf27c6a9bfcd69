package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gengate/internal/infra"
)

// ErrEngineURLRequired indicates a call was made without an engine base URL.
var ErrEngineURLRequired = errors.New("comfy: engine url is required")

// Options configures the execution engine client.
type Options struct {
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a ComfyUI-compatible execution engine.
// The engine base URL is supplied per call: callers may target independent
// deployments through the same client.
type Client struct {
	httpClient *http.Client
	logger     *infra.Logger
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
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
	return &Client{httpClient: httpClient, logger: logger}
}

// EngineStatus reports reachability plus queue depth when the engine exposes it.
type EngineStatus struct {
	Running int
	Pending int
}

// Health probes the engine's queue endpoint. A non-nil error means the engine
// must be treated as unreachable; submission flows abort before any upload.
func (c *Client) Health(ctx context.Context, baseURL string) (*EngineStatus, error) {
	base, err := cleanBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/queue", nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: engine unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: queue endpoint returned status %d", resp.StatusCode)
	}
	var decoded struct {
		QueueRunning []json.RawMessage `json:"queue_running"`
		QueuePending []json.RawMessage `json:"queue_pending"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("comfy: decode queue response: %w", err)
	}
	return &EngineStatus{Running: len(decoded.QueueRunning), Pending: len(decoded.QueuePending)}, nil
}

// UploadMedia pushes binary media to the engine and returns the engine-assigned
// filename. The engine accepts all media kinds on its image upload endpoint
// under the form field "image", audio and video included.
func (c *Client) UploadMedia(ctx context.Context, baseURL, filename, mime string, data []byte) (string, error) {
	base, err := cleanBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", errors.New("comfy: upload payload is empty")
	}
	if strings.TrimSpace(filename) == "" {
		filename = "upload-" + uuid.NewString()[:8]
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", fmt.Errorf("comfy: build multipart form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("comfy: write multipart payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("comfy: finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/upload/image", body)
	if err != nil {
		return "", fmt.Errorf("comfy: build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: upload request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy: read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comfy: upload failed with status %d", resp.StatusCode)
	}

	assigned := parseAssignedFilename(raw)
	if assigned == "" {
		assigned = filename
	}
	c.logger.Debug().Str("filename", assigned).Str("mime", mime).Msg("comfy: uploaded media")
	return assigned, nil
}

// parseAssignedFilename handles the engine's loose upload response formats:
// an object with a name/filename field, a bare array of names, or plain text.
func parseAssignedFilename(raw []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		if name, ok := obj["name"].(string); ok && name != "" {
			return name
		}
		if name, ok := obj["filename"].(string); ok && name != "" {
			return name
		}
		return ""
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return strings.TrimSpace(string(raw))
}

type promptRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResponse struct {
	PromptID   string `json:"prompt_id"`
	PromptIDv2 string `json:"promptId"`
	NodeErrors any    `json:"node_errors"`
	Error      any    `json:"error"`
}

// SubmitPrompt sends a filled workflow to the engine and returns the execution
// id used for subsequent history polling. Rejections surface the remote error
// detail verbatim when the engine provides one.
func (c *Client) SubmitPrompt(ctx context.Context, baseURL string, workflow map[string]any) (string, error) {
	base, err := cleanBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	payload := promptRequest{
		Prompt:   workflow,
		ClientID: "gengate-" + uuid.NewString()[:8],
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("comfy: build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comfy: prompt request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("comfy: read prompt response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := remoteErrorDetail(raw)
		if detail != "" {
			return "", fmt.Errorf("comfy: prompt rejected (%d): %s", resp.StatusCode, detail)
		}
		return "", fmt.Errorf("comfy: prompt rejected with status %d", resp.StatusCode)
	}

	var decoded promptResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("comfy: decode prompt response: %w", err)
	}
	execID := decoded.PromptID
	if execID == "" {
		execID = decoded.PromptIDv2
	}
	if execID == "" {
		return "", fmt.Errorf("comfy: engine returned no execution id: %s", strings.TrimSpace(string(raw)))
	}
	c.logger.Debug().Str("execution_id", execID).Msg("comfy: prompt accepted")
	return execID, nil
}

func remoteErrorDetail(raw []byte) string {
	var decoded struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return strings.TrimSpace(string(raw))
	}
	switch e := decoded.Error.(type) {
	case string:
		if e != "" {
			return e
		}
	case map[string]any:
		if msg, ok := e["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if decoded.Message != "" {
		return decoded.Message
	}
	return strings.TrimSpace(string(raw))
}

// History fetches the execution record for one execution id. An empty history
// object means the job is still queued or running.
func (c *Client) History(ctx context.Context, baseURL, executionID string) (*History, error) {
	base, err := cleanBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(executionID) == "" {
		return nil, errors.New("comfy: execution id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/history/"+url.PathEscape(executionID), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: history request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: history fetch failed with status %d", resp.StatusCode)
	}
	var envelope map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("comfy: decode history response: %w", err)
	}
	entry, ok := envelope[executionID]
	if !ok {
		return &History{State: StateRunning}, nil
	}
	return entry.toHistory(), nil
}

// ViewURL builds the engine's documented retrieval URL for an output.
// The subfolder parameter is omitted entirely when absent.
func ViewURL(baseURL string, ref OutputRef) (string, error) {
	base, err := cleanBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("filename", ref.Filename)
	if ref.Subfolder != "" {
		q.Set("subfolder", ref.Subfolder)
	}
	q.Set("type", ref.Type)
	return base + "/view?" + q.Encode(), nil
}

func cleanBaseURL(baseURL string) (string, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return "", ErrEngineURLRequired
	}
	return baseURL, nil
}
