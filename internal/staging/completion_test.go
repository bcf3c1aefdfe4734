package staging

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/roomstage/internal/ai"
)

func submitAsync(t *testing.T, h *harness, userID uint64) *Job {
	t.Helper()
	res, err := h.svc.SubmitStaging(context.Background(), SubmitRequest{
		UserID: userID, RoomType: "living-room", Styles: []string{"modern"}, ImageURL: "https://img/a.jpg",
	})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 1)
	return res.Jobs[0]
}

func TestWebhookThenPoll_NoSecondUpload(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()
	job := submitAsync(t, h, 5)

	err := h.svc.HandleProviderWebhook(ctx, "replicate", http.Header{}, []byte("pred-123|succeeded|https://cdn/x.png"))
	require.NoError(t, err)

	done := h.reload(t, job.ID)
	assert.Equal(t, StatusCompleted, done.Status)
	assertTerminalShape(t, done)
	assert.Equal(t, "https://store/user-5/"+job.ID+"/mirror", *done.StagedImageURL)
	assert.Equal(t, []string{"https://cdn/x.png"}, h.storage.mirrors)

	// provider now reports something else; the stored result must not move
	rep.status = ai.StatusResult{Success: true, Status: ai.RemoteFailed, Error: "late"}
	for i := 0; i < 3; i++ {
		got, err := h.svc.GetJobStatus(ctx, 5, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, *done.StagedImageURL, *got.StagedImageURL)
	}
	assert.Len(t, h.storage.mirrors, 1)
	assert.Zero(t, rep.polls)
	assert.Len(t, h.notifier.completed, 1)
}

func TestWebhook_DuplicateIsNoOp(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()
	job := submitAsync(t, h, 1)

	body := []byte("pred-123|failed|CUDA out of memory")
	require.NoError(t, h.svc.HandleProviderWebhook(ctx, "replicate", nil, body))
	first := h.reload(t, job.ID)

	require.NoError(t, h.svc.HandleProviderWebhook(ctx, "replicate", nil, body))
	second := h.reload(t, job.ID)

	assert.Equal(t, StatusFailed, second.Status)
	assertTerminalShape(t, second)
	assert.Equal(t, "CUDA out of memory", *second.ErrorMessage)
	assert.Equal(t, first.CompletedAt.UnixNano(), second.CompletedAt.UnixNano())
	assert.Equal(t, *first.ProcessingTimeMs, *second.ProcessingTimeMs)
	assert.Len(t, h.notifier.failed, 1)
}

func TestWebhook_NonTerminalAndUnknownHandle(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()
	job := submitAsync(t, h, 1)

	require.NoError(t, h.svc.HandleProviderWebhook(ctx, "replicate", nil, []byte("pred-123|processing|")))
	assert.Equal(t, StatusProcessing, h.reload(t, job.ID).Status)

	err := h.svc.HandleProviderWebhook(ctx, "replicate", nil, []byte("pred-999|succeeded|https://cdn/y.png"))
	assert.True(t, errors.Is(err, ErrJobNotFound))
	assert.True(t, IsIgnorable(err))

	err = h.svc.HandleProviderWebhook(ctx, "replicate", nil, []byte("garbage"))
	assert.True(t, errors.Is(err, ErrInvalidInput))

	err = h.svc.HandleProviderWebhook(ctx, "nope", nil, []byte("x"))
	assert.True(t, errors.Is(err, ai.ErrUnknownProvider))
}

func TestWebhook_VerificationFailureRejected(t *testing.T) {
	rep := newFakeAsync("replicate")
	rep.verify = ai.ErrInvalidSignature
	h := newHarness(t, "replicate", rep)
	job := submitAsync(t, h, 1)

	err := h.svc.HandleProviderWebhook(context.Background(), "replicate", nil, []byte("pred-123|succeeded|https://cdn/x.png"))
	assert.True(t, errors.Is(err, ai.ErrInvalidSignature))
	assert.Equal(t, StatusProcessing, h.reload(t, job.ID).Status)
}

func TestWebhook_SyncProviderRejected(t *testing.T) {
	h := newHarness(t, "gemini", newFakeSync("gemini"))

	err := h.svc.HandleProviderWebhook(context.Background(), "gemini", nil, []byte("x|succeeded|y"))
	assert.True(t, errors.Is(err, ai.ErrCapability))
}

func TestPoll_DiscoversTerminalStatus(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()
	job := submitAsync(t, h, 2)

	rep.status = ai.StatusResult{Success: true, Status: ai.RemoteSucceeded, OutputURL: "https://cdn/z.png"}
	got, err := h.svc.GetJobStatus(ctx, 2, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assertTerminalShape(t, got)
	assert.Equal(t, 1, rep.polls)

	// late webhook after the poll won
	require.NoError(t, h.svc.HandleProviderWebhook(ctx, "replicate", nil, []byte("pred-123|succeeded|https://cdn/z.png")))
	assert.Len(t, h.storage.mirrors, 1)
	assert.Len(t, h.notifier.completed, 1)
}

func TestWebhook_BeforeHandleRecordedIsRecoveredByPoll(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()

	var early error
	rep.onStart = func(handle string) {
		early = h.svc.HandleProviderWebhook(ctx, "replicate", nil, []byte(handle+"|succeeded|https://cdn/early.png"))
	}
	job := submitAsync(t, h, 4)

	require.Error(t, early)
	assert.True(t, IsIgnorable(early))
	assert.Equal(t, StatusProcessing, job.Status)
	require.NotNil(t, job.ProviderJobHandle)

	rep.status = ai.StatusResult{Success: true, Status: ai.RemoteSucceeded, OutputURL: "https://cdn/early.png"}
	got, err := h.svc.GetJobStatus(ctx, 4, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assertTerminalShape(t, got)
}

func TestPoll_ThrottledPerJob(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	ctx := context.Background()
	job := submitAsync(t, h, 2)

	for i := 0; i < 3; i++ {
		got, err := h.svc.GetJobStatus(ctx, 2, job.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, got.Status)
	}
	assert.Equal(t, 1, rep.polls, "poll interval is an hour in the harness")

	fast := NewDetector(h.repo, ai.NewRegistry(rep), h.storage, h.notifier, time.Millisecond, zerolog.Nop())
	fresh := h.reload(t, job.ID)
	_, _ = fast.Poll(ctx, fresh)
	time.Sleep(5 * time.Millisecond)
	_, _ = fast.Poll(ctx, fresh)
	assert.Equal(t, 3, rep.polls)
}

func TestPoll_MirrorFailureFailsJob(t *testing.T) {
	rep := newFakeAsync("replicate")
	h := newHarness(t, "replicate", rep)
	h.storage.mirrorErr = errors.New("bucket unavailable")
	job := submitAsync(t, h, 2)

	rep.status = ai.StatusResult{Success: true, Status: ai.RemoteSucceeded, OutputURL: "https://cdn/z.png"}
	got, err := h.svc.GetJobStatus(context.Background(), 2, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assertTerminalShape(t, got)
	assert.Contains(t, *got.ErrorMessage, "bucket unavailable")
}

func TestGetJobStatus_HidesForeignJobs(t *testing.T) {
	h := newHarness(t, "replicate", newFakeAsync("replicate"))
	job := submitAsync(t, h, 2)

	_, err := h.svc.GetJobStatus(context.Background(), 99, job.ID)
	assert.True(t, errors.Is(err, ErrJobNotFound))
}
