package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/observability"
)

// Link is one named store in a Chain.
type Link struct {
	Name  string
	Store Store
}

// Chain asks each link in order and returns the first counter obtained
// without error. Failed links are logged and counted.
type Chain struct {
	links []Link
}

func NewChain(links ...Link) *Chain {
	return &Chain{links: links}
}

func (c *Chain) IncrementAndGet(ctx context.Context, key string, window time.Duration) (Counter, error) {
	var errs []error
	for _, l := range c.links {
		counter, err := l.Store.IncrementAndGet(ctx, key, window)
		if err == nil {
			if counter.Source == "" {
				counter.Source = l.Name
			}
			return counter, nil
		}
		slog.Warn("counter store link failed", "link", l.Name, "key", key, "error", err)
		observability.CounterStoreFallbacks.WithLabelValues(l.Name).Inc()
		errs = append(errs, fmt.Errorf("%s: %w", l.Name, err))
	}
	if len(errs) == 0 {
		return Counter{}, fmt.Errorf("%w: no links configured", ErrStoreUnavailable)
	}
	return Counter{}, errors.Join(errs...)
}
