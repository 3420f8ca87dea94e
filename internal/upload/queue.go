// Package upload runs the media uploads of one composer session strictly one
// at a time and reports each task's progress as events.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/observability"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusFailed    Status = "failed"
)

// Slot is where an upload lands: media position Index of thread segment
// Segment, or of the single-post media list when Segment is SingleList.
type Slot struct {
	Segment int `json:"segment"`
	Index   int `json:"index"`
}

const SingleList = -1

func (s Slot) String() string {
	if s.Segment == SingleList {
		return fmt.Sprintf("media[%d]", s.Index)
	}
	return fmt.Sprintf("segment[%d].media[%d]", s.Segment, s.Index)
}

type Task struct {
	ID   int
	Slot Slot
	Name string
	Data []byte
}

type EventKind string

const (
	TaskStarted   EventKind = "started"
	TaskSucceeded EventKind = "succeeded"
	TaskFailed    EventKind = "failed"
)

type Event struct {
	Kind     EventKind
	TaskID   int
	Slot     Slot
	MediaRef string
	Err      error
}

type Uploader interface {
	Upload(ctx context.Context, task Task) (string, error)
}

type UploaderFunc func(ctx context.Context, task Task) (string, error)

func (f UploaderFunc) Upload(ctx context.Context, task Task) (string, error) {
	return f(ctx, task)
}

var ErrClosed = errors.New("upload queue closed")

type Options struct {
	SuccessDelay time.Duration
	FailureDelay time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// Queue is a FIFO drained by at most one goroutine at a time, so there is
// never more than one upload in flight.
type Queue struct {
	ctx      context.Context
	uploader Uploader
	opts     Options
	events   chan Event

	mu       sync.Mutex
	pending  []Task
	draining bool
	closed   bool
	nextID   int
	idle     chan struct{}
}

func NewQueue(ctx context.Context, uploader Uploader, opts Options) *Queue {
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ctx:      ctx,
		uploader: uploader,
		opts:     opts,
		events:   make(chan Event, opts.Buffer),
		idle:     idle,
	}
}

// Events delivers progress for every enqueued task. The channel is closed
// after Close once the queue has drained.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue appends a task and starts draining if the queue was idle. It
// returns the task id.
func (q *Queue) Enqueue(task Task) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0, ErrClosed
	}

	q.nextID++
	task.ID = q.nextID
	q.pending = append(q.pending, task)

	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain(q.idle)
	}
	return task.ID, nil
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		q.draining = false
		return Task{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t, true
}

func (q *Queue) drain(done chan struct{}) {
	defer close(done)
	for {
		task, ok := q.pop()
		if !ok {
			return
		}

		q.emit(Event{Kind: TaskStarted, TaskID: task.ID, Slot: task.Slot})
		ref, err := q.uploader.Upload(q.ctx, task)

		delay := q.opts.SuccessDelay
		if err != nil {
			delay = q.opts.FailureDelay
			observability.UploadOutcomes.WithLabelValues(string(StatusFailed)).Inc()
			slog.Warn("upload failed", "task_id", task.ID, "slot", task.Slot.String(), "error", err)
			q.emit(Event{Kind: TaskFailed, TaskID: task.ID, Slot: task.Slot, Err: err})
		} else {
			observability.UploadOutcomes.WithLabelValues(string(StatusUploaded)).Inc()
			q.emit(Event{Kind: TaskSucceeded, TaskID: task.ID, Slot: task.Slot, MediaRef: ref})
		}

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-q.ctx.Done():
			}
		}
	}
}

func (q *Queue) emit(ev Event) {
	q.events <- ev
}

// Close stops accepting tasks, lets the pending ones finish and then closes
// the events channel.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	idle := q.idle
	q.mu.Unlock()

	go func() {
		<-idle
		close(q.events)
	}()
}
