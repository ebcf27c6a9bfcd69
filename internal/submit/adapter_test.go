package submit

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gengate/internal/comfy"
	"gengate/internal/domain"
	"gengate/internal/jobstore"
	"gengate/internal/workflow"
)

type fakeEngine struct {
	healthErr  error
	uploadErr  error
	uploadFail string // fail only the upload whose filename contains this
	submitErr  error

	healthCalls int
	uploads     []string
	submitted   map[string]any
	executionID string
}

func (f *fakeEngine) Health(_ context.Context, _ string) (*comfy.EngineStatus, error) {
	f.healthCalls++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &comfy.EngineStatus{}, nil
}

func (f *fakeEngine) UploadMedia(_ context.Context, _, filename, _ string, _ []byte) (string, error) {
	if f.uploadErr != nil && (f.uploadFail == "" || bytes.Contains([]byte(filename), []byte(f.uploadFail))) {
		return "", f.uploadErr
	}
	f.uploads = append(f.uploads, filename)
	return filename, nil
}

func (f *fakeEngine) SubmitPrompt(_ context.Context, _ string, wf map[string]any) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = wf
	if f.executionID == "" {
		f.executionID = "exec-123"
	}
	return f.executionID, nil
}

type fakeRecords struct {
	createErr     error
	processingErr error

	created     []jobstore.CreateJobRequest
	processing  []string
	failed      []string
	failureMsgs []string
}

func (f *fakeRecords) CreateJob(_ context.Context, req jobstore.CreateJobRequest) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return "rec-1", nil
}

func (f *fakeRecords) MarkProcessing(_ context.Context, _ domain.JobKind, executionID string) error {
	if f.processingErr != nil {
		return f.processingErr
	}
	f.processing = append(f.processing, executionID)
	return nil
}

func (f *fakeRecords) FailJob(_ context.Context, _ domain.JobKind, executionID, message string) error {
	f.failed = append(f.failed, executionID)
	f.failureMsgs = append(f.failureMsgs, message)
	return nil
}

func testRegistry(t *testing.T) *workflow.Registry {
	t.Helper()
	reg, err := workflow.NewRegistry()
	require.NoError(t, err)
	return reg
}

func pngDataURL(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 255, A: 255})
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func lipsyncRequest(t *testing.T, subjects int) LipsyncRequest {
	t.Helper()
	req := LipsyncRequest{
		EngineURL:    "http://engine:8188",
		ImageDataURL: pngDataURL(t, 32, 32),
		Width:        640,
		Height:       360,
		Prompt:       "two people talking",
	}
	for i := 0; i < subjects; i++ {
		req.Subjects = append(req.Subjects, SubjectMedia{
			Mask:      domain.Mask{ID: "m", X: 0.1, Y: 0.1, W: 0.3, H: 0.5},
			AudioName: "voice.wav",
			AudioData: []byte{0x52, 0x49, 0x46, 0x46},
			Start:     time.Second,
			Length:    3 * time.Second,
		})
	}
	return req
}

func TestSubmitLipsyncSuccess(t *testing.T) {
	engine := &fakeEngine{}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	sub, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 2))
	require.NoError(t, err)

	assert.Equal(t, "rec-1", sub.RecordID)
	assert.Equal(t, "exec-123", sub.ExecutionID)
	assert.Equal(t, domain.JobKindVideo, sub.Kind)
	assert.Equal(t, "131", sub.OutputNode)

	require.Len(t, records.created, 1)
	created := records.created[0]
	assert.Equal(t, "exec-123", created.ExecutionID)
	assert.Equal(t, "lipsync_multitalk", created.WorkflowName)
	assert.Len(t, created.InputAudioURLs, 2)
	assert.Equal(t, []string{"exec-123"}, records.processing)

	// 1 image + 2 audio clips
	assert.Len(t, engine.uploads, 3)
	assert.Equal(t, 1, engine.healthCalls)
	assert.NotNil(t, engine.submitted)
}

func TestSubmitLipsyncSubjectLimitPrecedesNetwork(t *testing.T) {
	engine := &fakeEngine{}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	_, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, domain.MaxSubjects+1))
	require.ErrorIs(t, err, domain.ErrTooManySubjects)

	assert.Zero(t, engine.healthCalls)
	assert.Empty(t, engine.uploads)
	assert.Empty(t, records.created)
}

func TestSubmitLipsyncEngineDownAbortsBeforeUpload(t *testing.T) {
	engine := &fakeEngine{healthErr: errors.New("connection refused")}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	_, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 1))
	require.ErrorIs(t, err, domain.ErrEngineUnreachable)

	assert.Empty(t, engine.uploads)
	assert.Empty(t, records.created)
}

func TestSubmitLipsyncUploadFailureLeavesNoRecord(t *testing.T) {
	engine := &fakeEngine{uploadErr: errors.New("disk full"), uploadFail: "voice"}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	_, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 1))
	require.Error(t, err)

	assert.Empty(t, records.created)
	assert.Empty(t, records.processing)
}

func TestSubmitLipsyncPromptRejectionLeavesNoRecord(t *testing.T) {
	engine := &fakeEngine{submitErr: errors.New("invalid prompt: missing node 42")}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	_, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine rejected prompt")
	assert.Empty(t, records.created)
}

func TestSubmitLipsyncMissingAudio(t *testing.T) {
	engine := &fakeEngine{}
	adapter := NewAdapter(engine, &fakeRecords{}, testRegistry(t), nil)

	req := lipsyncRequest(t, 1)
	req.Subjects[0].AudioData = nil
	_, err := adapter.SubmitLipsync(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Zero(t, engine.healthCalls)
}

func TestSubmitLipsyncProcessingWriteFailureIsNonFatal(t *testing.T) {
	engine := &fakeEngine{}
	records := &fakeRecords{processingErr: errors.New("store timeout")}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	sub, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "rec-1", sub.RecordID)
}

func TestSubmitLipsyncRecordCreationFailure(t *testing.T) {
	engine := &fakeEngine{}
	records := &fakeRecords{createErr: errors.New("store unavailable")}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	_, err := adapter.SubmitLipsync(context.Background(), lipsyncRequest(t, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create job record")
	assert.Empty(t, records.processing)
}

func TestSubmitImageTextToImage(t *testing.T) {
	engine := &fakeEngine{executionID: "exec-img"}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	sub, err := adapter.SubmitImage(context.Background(), ImageRequest{
		EngineURL:    "http://engine:8188",
		WorkflowName: "image_generate",
		Width:        1024,
		Height:       768,
		Params: map[string]any{
			"PROMPT": "a lighthouse at dawn",
			"WIDTH":  1024,
			"HEIGHT": 768,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.JobKindImage, sub.Kind)
	assert.Equal(t, "exec-img", sub.ExecutionID)
	assert.Empty(t, engine.uploads)
	require.Len(t, records.created, 1)
	assert.Equal(t, "image_generate", records.created[0].WorkflowName)
}

func TestSubmitImageStyleTransferUploadsSource(t *testing.T) {
	engine := &fakeEngine{}
	records := &fakeRecords{}
	adapter := NewAdapter(engine, records, testRegistry(t), nil)

	sub, err := adapter.SubmitImage(context.Background(), ImageRequest{
		EngineURL:     "http://engine:8188",
		WorkflowName:  "style_transfer",
		SourceDataURL: pngDataURL(t, 16, 16),
		SourceName:    "portrait.png",
		Params: map[string]any{
			"STYLE_PROMPT": "oil painting",
		},
	})
	require.NoError(t, err)

	require.Len(t, engine.uploads, 1)
	assert.Equal(t, "portrait.png", engine.uploads[0])
	require.Len(t, records.created, 1)
	assert.Equal(t, []string{"portrait.png"}, records.created[0].InputImageURLs)
	assert.Equal(t, "27", sub.OutputNode)
}

func TestSubmitImageUnknownWorkflow(t *testing.T) {
	engine := &fakeEngine{}
	adapter := NewAdapter(engine, &fakeRecords{}, testRegistry(t), nil)

	_, err := adapter.SubmitImage(context.Background(), ImageRequest{
		EngineURL:    "http://engine:8188",
		WorkflowName: "does_not_exist",
	})
	require.Error(t, err)
	assert.Zero(t, engine.healthCalls)
}
