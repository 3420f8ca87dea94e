package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/observability"
)

type Rule struct {
	Limit  int
	Window time.Duration
}

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	store Store
	rules map[string]Rule
}

func NewLimiter(store Store, rules map[string]Rule) *Limiter {
	return &Limiter{store: store, rules: rules}
}

func Key(operation, subject string) string {
	return fmt.Sprintf("rl:%s:%s", operation, subject)
}

// CheckLimit counts one call by subject for operation against limit calls per
// window.
func (l *Limiter) CheckLimit(ctx context.Context, subject, operation string, limit int, window time.Duration) (Decision, error) {
	counter, err := l.store.IncrementAndGet(ctx, Key(operation, subject), window)
	if err != nil {
		return Decision{}, err
	}

	remaining := limit - int(counter.Count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   counter.Count <= int64(limit),
		Remaining: remaining,
		ResetAt:   counter.ResetAt,
	}

	outcome := "allowed"
	if !d.Allowed {
		outcome = "rejected"
	}
	observability.RateLimitDecisions.WithLabelValues(operation, outcome).Inc()
	return d, nil
}

// Check applies the configured rule for operation. Operations without a rule
// are not limited and report Remaining as -1.
func (l *Limiter) Check(ctx context.Context, subject, operation string) (Decision, error) {
	rule, ok := l.rules[operation]
	if !ok || rule.Limit <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}
	return l.CheckLimit(ctx, subject, operation, rule.Limit, rule.Window)
}

// Enforce is Check returning a *models.RateLimitError when the call is denied.
func (l *Limiter) Enforce(ctx context.Context, subject, operation string) (Decision, error) {
	d, err := l.Check(ctx, subject, operation)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		return d, &models.RateLimitError{Operation: operation, Remaining: d.Remaining, ResetAt: d.ResetAt}
	}
	return d, nil
}
