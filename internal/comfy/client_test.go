package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealthReportsQueueDepth(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/queue", map[string]any{
		"queue_running": []any{[]any{0, "a"}},
		"queue_pending": []any{[]any{1, "b"}, []any{2, "c"}},
	})

	status, err := client.Health(context.Background(), "https://engine.example.com/")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if status.Running != 1 || status.Pending != 2 {
		t.Fatalf("status = %+v, want running=1 pending=2", status)
	}
}

func TestHealthRequiresBaseURL(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.Health(context.Background(), "  "); err != ErrEngineURLRequired {
		t.Fatalf("err = %v, want ErrEngineURLRequired", err)
	}
}

func TestUploadMediaParsesAssignedName(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/upload/image", map[string]any{"name": "voice (1).wav", "subfolder": ""})

	name, err := client.UploadMedia(context.Background(), "https://engine.example.com", "voice.wav", "audio/wav", []byte{0x52, 0x49})
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if name != "voice (1).wav" {
		t.Fatalf("name = %q, want %q", name, "voice (1).wav")
	}
	if !strings.Contains(string(transport.lastBody), `filename="voice.wav"`) {
		t.Fatalf("multipart body missing filename part: %s", transport.lastBody)
	}
	if !strings.Contains(string(transport.lastBody), `name="image"`) {
		t.Fatalf("multipart body must use the image form field: %s", transport.lastBody)
	}
}

func TestUploadMediaRejectsEmptyPayload(t *testing.T) {
	client := NewClient(Options{})
	if _, err := client.UploadMedia(context.Background(), "https://engine.example.com", "x.png", "image/png", nil); err == nil {
		t.Fatalf("expected error for empty payload")
	}
}

func TestSubmitPromptReturnsExecutionID(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("/prompt", map[string]any{"prompt_id": "exec-42"})

	execID, err := client.SubmitPrompt(context.Background(), "https://engine.example.com", map[string]any{"1": map[string]any{}})
	if err != nil {
		t.Fatalf("SubmitPrompt: %v", err)
	}
	if execID != "exec-42" {
		t.Fatalf("execID = %q, want exec-42", execID)
	}
	var sent promptRequest
	if err := json.Unmarshal(transport.lastBody, &sent); err != nil {
		t.Fatalf("decode sent payload: %v", err)
	}
	if !strings.HasPrefix(sent.ClientID, "gengate-") {
		t.Fatalf("client id = %q, want gengate- prefix", sent.ClientID)
	}
}

func TestSubmitPromptSurfacesRemoteDetail(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.responses["/prompt"] = responseStub{
		status: http.StatusBadRequest,
		body:   []byte(`{"error": {"type": "invalid_prompt", "message": "missing node 17"}}`),
	}

	_, err := client.SubmitPrompt(context.Background(), "https://engine.example.com", map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "missing node 17") {
		t.Fatalf("err = %v, want remote detail surfaced", err)
	}
}

func TestHistoryEmptyObjectMeansRunning(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("https://engine.example.com/history/exec-1", map[string]any{})

	h, err := client.History(context.Background(), "https://engine.example.com", "exec-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if h.State != StateRunning {
		t.Fatalf("state = %q, want running", h.State)
	}
}

func TestHistoryDecodesOutputsAndError(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client := NewClient(Options{HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("https://engine.example.com/history/exec-2", map[string]any{
		"exec-2": map[string]any{
			"status": map[string]any{"status_str": "success", "completed": true},
			"outputs": map[string]any{
				"131": map[string]any{
					"gifs": []any{map[string]any{"filename": "out.mp4", "subfolder": "video", "type": "output"}},
				},
				"17": map[string]any{
					"images": []any{map[string]any{"filename": "frame.png", "subfolder": "", "type": "temp"}},
				},
			},
		},
	})

	h, err := client.History(context.Background(), "https://engine.example.com", "exec-2")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if h.State != StateSuccess {
		t.Fatalf("state = %q, want success", h.State)
	}
	designated := h.OutputsFor("131")
	if len(designated) != 1 || designated[0].Filename != "out.mp4" {
		t.Fatalf("designated outputs = %#v", designated)
	}
	if all := h.OutputsFor(""); len(all) != 2 {
		t.Fatalf("all outputs = %d, want 2", len(all))
	}

	transport.setJSONResponse("https://engine.example.com/history/exec-3", map[string]any{
		"exec-3": map[string]any{
			"status": map[string]any{
				"status_str": "error",
				"completed":  false,
				"messages": []any{
					[]any{"execution_start", map[string]any{}},
					[]any{"execution_error", map[string]any{"exception_message": "CUDA out of memory"}},
				},
			},
		},
	})
	h, err = client.History(context.Background(), "https://engine.example.com", "exec-3")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if h.State != StateError || h.Message != "CUDA out of memory" {
		t.Fatalf("history = %+v, want error with message", h)
	}
}

func TestViewURLOmitsEmptySubfolder(t *testing.T) {
	got, err := ViewURL("https://engine.example.com/", OutputRef{Filename: "out.mp4", Type: "output"})
	if err != nil {
		t.Fatalf("ViewURL: %v", err)
	}
	want := "https://engine.example.com/view?filename=out.mp4&type=output"
	if got != want {
		t.Fatalf("ViewURL = %q, want %q", got, want)
	}

	got, err = ViewURL("https://engine.example.com", OutputRef{Filename: "out.mp4", Subfolder: "video", Type: "output"})
	if err != nil {
		t.Fatalf("ViewURL: %v", err)
	}
	want = "https://engine.example.com/view?filename=out.mp4&subfolder=video&type=output"
	if got != want {
		t.Fatalf("ViewURL = %q, want %q", got, want)
	}
}

type captureTransport struct {
	responses map[string]responseStub
	lastBody  []byte
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	return responseStub{status: http.StatusNotFound, body: []byte("not stubbed")}.toResponse(), nil
}

func (s responseStub) toResponse() *http.Response {
	status := s.status
	if status == 0 {
		status = http.StatusOK
	}
	header := s.header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}

func (c *captureTransport) setJSONResponse(key string, payload any) {
	body, _ := json.Marshal(payload)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	c.responses[key] = responseStub{status: http.StatusOK, header: header, body: body}
}
