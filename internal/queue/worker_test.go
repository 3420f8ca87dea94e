package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fireHandlerStub struct {
	calls []SchedulePostPayload
	err   error
}

func (s *fireHandlerStub) FireJob(_ context.Context, postID int64, jobID string) error {
	s.calls = append(s.calls, SchedulePostPayload{PostID: postID, JobID: jobID})
	return s.err
}

func newTask(t *testing.T, p SchedulePostPayload) *asynq.Task {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(TaskTypeSchedulePost, b)
}

func TestWorker_HandleSchedulePostTask(t *testing.T) {
	stub := &fireHandlerStub{}
	w := NewWorker(stub)

	err := w.HandleSchedulePostTask(context.Background(), newTask(t, SchedulePostPayload{PostID: 42, JobID: "job-1"}))
	require.NoError(t, err)
	require.Len(t, stub.calls, 1)
	assert.Equal(t, int64(42), stub.calls[0].PostID)
	assert.Equal(t, "job-1", stub.calls[0].JobID)
}

func TestWorker_BadPayloadSkipsRetry(t *testing.T) {
	stub := &fireHandlerStub{}
	w := NewWorker(stub)

	err := w.HandleSchedulePostTask(context.Background(), asynq.NewTask(TaskTypeSchedulePost, []byte("{")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.HandleSchedulePostTask(context.Background(), newTask(t, SchedulePostPayload{PostID: 1}))
	require.Error(t, err)
	assert.Empty(t, stub.calls)
}

func TestWorker_HandlerErrorSkipsRetry(t *testing.T) {
	stub := &fireHandlerStub{err: errors.New("publish failed after 3 attempts")}
	w := NewWorker(stub)

	err := w.HandleSchedulePostTask(context.Background(), newTask(t, SchedulePostPayload{PostID: 3, JobID: "j"}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestCancelResultString(t *testing.T) {
	assert.Equal(t, "ok", CancelOK.String())
	assert.Equal(t, "already_gone", CancelAlreadyGone.String())
}
