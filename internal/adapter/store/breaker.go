package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"taskrails/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker around the task store.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
}

// BreakerStore wraps a TaskStore with circuit breaker protection. Caller
// errors (invalid status, unknown id) never count as failures; only the
// database misbehaving does.
type BreakerStore struct {
	inner   domain.TaskStore
	breaker *gobreaker.CircuitBreaker[int]
	logger  *slog.Logger
}

// WithBreaker wraps inner. Zero config values fall back to defaults.
func WithBreaker(inner domain.TaskStore, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}

	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        "task-store",
		MaxRequests: 1,
		Interval:    defaultCBInterval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, domain.ErrInvalidInput) ||
				errors.Is(err, domain.ErrNotFound) ||
				errors.Is(err, context.Canceled)
		},
	})

	return &BreakerStore{inner: inner, breaker: cb, logger: logger}
}

// CountTasks implements domain.TaskReader.
func (s *BreakerStore) CountTasks(ctx context.Context) (int, error) {
	n, err := s.breaker.Execute(func() (int, error) {
		return s.inner.CountTasks(ctx)
	})
	return n, s.wrap(err)
}

// UpdateTaskStatus implements domain.TaskStore.
func (s *BreakerStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, comment string) error {
	_, err := s.breaker.Execute(func() (int, error) {
		return 0, s.inner.UpdateTaskStatus(ctx, id, status, comment)
	})
	return s.wrap(err)
}

// CountByStatus delegates to the wrapped store when it supports per-status
// counts. It does not pass through the breaker.
func (s *BreakerStore) CountByStatus(ctx context.Context) (map[domain.TaskStatus]int, error) {
	counter, ok := s.inner.(interface {
		CountByStatus(context.Context) (map[domain.TaskStatus]int, error)
	})
	if !ok {
		return nil, fmt.Errorf("count by status: %w", errors.ErrUnsupported)
	}
	return counter.CountByStatus(ctx)
}

// State returns the current circuit breaker state for monitoring.
func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func (s *BreakerStore) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}

var _ domain.TaskStore = (*BreakerStore)(nil)
