package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/service"
)

// Sweeper drops expired entries from an in-memory store.
type Sweeper interface {
	Sweep() int
}

type MaintenanceJob struct {
	ps      service.PostService
	sweeper Sweeper
	timeout time.Duration

	// recovering guards against overlapping recovery runs.
	mu         sync.Mutex
	recovering bool
}

func NewMaintenanceJob(ps service.PostService, sweeper Sweeper, timeout time.Duration) *MaintenanceJob {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &MaintenanceJob{
		ps:      ps,
		sweeper: sweeper,
		timeout: timeout,
	}
}

// RecoverOverdue publishes scheduled posts whose delayed job was lost.
func (j *MaintenanceJob) RecoverOverdue() {
	j.mu.Lock()
	if j.recovering {
		j.mu.Unlock()
		slog.Info("overdue recovery still running, skipping")
		return
	}
	j.recovering = true
	j.mu.Unlock()

	defer func() {
		j.mu.Lock()
		j.recovering = false
		j.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	n, err := j.ps.RecoverOverdue(ctx)
	if err != nil {
		slog.Info(err.Error())
		return
	}
	if n > 0 {
		slog.Info("recovered overdue posts", "count", n)
	}
}

func (j *MaintenanceJob) SweepCounters() {
	if j.sweeper == nil {
		return
	}
	if n := j.sweeper.Sweep(); n > 0 {
		slog.Debug("swept expired rate limit counters", "count", n)
	}
}
