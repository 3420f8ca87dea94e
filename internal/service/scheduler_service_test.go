package service

import (
	"context"
	"errors"
	"testing"
	"time"

	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(jobs JobScheduler, now time.Time) *SchedulerService {
	s := NewSchedulerService(jobs, config.Scheduler{MaxAhead: 7 * 24 * time.Hour, CallTimeout: time.Second})
	s.now = func() time.Time { return now }
	return s
}

func TestSchedulerService_ResolveFireAt(t *testing.T) {
	s := newTestScheduler(newFakeJobs(), time.Now())

	tests := []struct {
		name     string
		local    string
		timezone string
		want     time.Time
		wantErr  error
	}{
		{
			name:     "new york winter",
			local:    "2026-01-15T09:30",
			timezone: "America/New_York",
			want:     time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC),
		},
		{
			name:     "new york summer with seconds",
			local:    "2026-07-15T09:30:15",
			timezone: "America/New_York",
			want:     time.Date(2026, 7, 15, 13, 30, 15, 0, time.UTC),
		},
		{
			name:     "kolkata",
			local:    "2026-01-15 09:30",
			timezone: "Asia/Kolkata",
			want:     time.Date(2026, 1, 15, 4, 0, 0, 0, time.UTC),
		},
		{
			name:  "empty zone is utc",
			local: "2026-01-15T09:30",
			want:  time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "explicit offset wins",
			local:    "2026-01-15T09:30:00+02:00",
			timezone: "America/New_York",
			want:     time.Date(2026, 1, 15, 7, 30, 0, 0, time.UTC),
		},
		{
			name:     "unknown zone",
			local:    "2026-01-15T09:30",
			timezone: "Mars/Olympus",
			wantErr:  models.ErrInvalidTimezone,
		},
		{
			name:     "garbage time",
			local:    "next tuesday",
			timezone: "UTC",
			wantErr:  models.ErrInvalidSchedule,
		},
		{
			name:     "empty time",
			timezone: "UTC",
			wantErr:  models.ErrInvalidSchedule,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ResolveFireAt(tt.local, tt.timezone)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s, got %s", tt.want, got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestSchedulerService_ValidateFireAt(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(newFakeJobs(), now)

	tests := []struct {
		name   string
		fireAt time.Time
		valid  bool
	}{
		{"now", now, false},
		{"past", now.Add(-time.Minute), false},
		{"one second ahead", now.Add(time.Second), true},
		{"three days", now.Add(72 * time.Hour), true},
		{"exactly seven days", now.Add(7 * 24 * time.Hour), true},
		{"past seven days", now.Add(7*24*time.Hour + time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateFireAt(tt.fireAt)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, models.ErrInvalidSchedule)
			}
		})
	}
}

func TestSchedulerService_Schedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	jobs := newFakeJobs()
	s := newTestScheduler(jobs, now)

	job, err := s.Schedule(context.Background(), 7, "2026-05-02T08:00", "UTC")
	require.NoError(t, err)
	assert.Equal(t, []string{job.JobID}, jobs.liveFor(7))
	assert.True(t, job.FireAt.Equal(time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC)))

	_, err = s.Schedule(context.Background(), 7, "2026-04-30T08:00", "UTC")
	assert.ErrorIs(t, err, models.ErrInvalidSchedule)
	assert.Equal(t, 1, jobs.creates)

	jobs.createErr = errors.New("redis down")
	_, err = s.Schedule(context.Background(), 8, "2026-05-02T08:00", "UTC")
	assert.ErrorIs(t, err, models.ErrSchedulerUnavailable)
}

func TestSchedulerService_Reschedule(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	t.Run("replaces the live job", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestScheduler(jobs, now)
		first, err := s.Schedule(ctx, 1, "2026-05-04T12:00", "UTC")
		require.NoError(t, err)

		second, err := s.Reschedule(ctx, 1, first.JobID, "2026-05-02T12:00", "UTC", nil)
		require.NoError(t, err)
		assert.NotEqual(t, first.JobID, second.JobID)
		assert.Equal(t, []string{second.JobID}, jobs.liveFor(1))
	})

	t.Run("invalid time keeps the old job", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestScheduler(jobs, now)
		first, err := s.Schedule(ctx, 1, "2026-05-04T12:00", "UTC")
		require.NoError(t, err)

		_, err = s.Reschedule(ctx, 1, first.JobID, "2026-06-30T12:00", "UTC", nil)
		assert.ErrorIs(t, err, models.ErrInvalidSchedule)
		assert.Equal(t, []string{first.JobID}, jobs.liveFor(1))
		assert.Equal(t, 0, jobs.cancels)
	})

	t.Run("cancel failure is not fatal", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestScheduler(jobs, now)
		first, err := s.Schedule(ctx, 1, "2026-05-04T12:00", "UTC")
		require.NoError(t, err)

		jobs.cancelErr = errors.New("timeout")
		second, err := s.Reschedule(ctx, 1, first.JobID, "2026-05-02T12:00", "UTC", nil)
		require.NoError(t, err)
		assert.NotEmpty(t, second.JobID)
	})

	t.Run("create failure keeps the old job", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestScheduler(jobs, now)
		first, err := s.Schedule(ctx, 1, "2026-05-04T12:00", "UTC")
		require.NoError(t, err)

		jobs.createErr = errors.New("redis down")
		_, err = s.Reschedule(ctx, 1, first.JobID, "2026-05-02T12:00", "UTC", nil)
		assert.ErrorIs(t, err, models.ErrSchedulerUnavailable)
		assert.Equal(t, []string{first.JobID}, jobs.liveFor(1))
		assert.Equal(t, 0, jobs.cancels)
	})

	t.Run("commit failure cancels the new job", func(t *testing.T) {
		jobs := newFakeJobs()
		s := newTestScheduler(jobs, now)
		first, err := s.Schedule(ctx, 1, "2026-05-04T12:00", "UTC")
		require.NoError(t, err)

		_, err = s.Reschedule(ctx, 1, first.JobID, "2026-05-02T12:00", "UTC", func(ScheduledJob) error {
			return models.ErrStorage
		})
		assert.ErrorIs(t, err, models.ErrStorage)
		assert.Equal(t, []string{first.JobID}, jobs.liveFor(1))
	})
}

func TestSchedulerService_CancelIsIdempotent(t *testing.T) {
	jobs := newFakeJobs()
	s := newTestScheduler(jobs, time.Now())
	ctx := context.Background()

	id, err := jobs.CreateJob(ctx, time.Now().Add(time.Hour), 1)
	require.NoError(t, err)

	assert.NoError(t, s.Cancel(ctx, id))
	assert.NoError(t, s.Cancel(ctx, id))
	assert.NoError(t, s.Cancel(ctx, ""))
	assert.Empty(t, jobs.liveFor(1))

	jobs.cancelErr = errors.New("connection refused")
	assert.ErrorIs(t, s.Cancel(ctx, "job-x"), models.ErrSchedulerUnavailable)
}
