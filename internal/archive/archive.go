// Package archive retires correlations once their alerts are done with.
package archive

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/emirozbir/erp-sentinel/internal/events"
	"github.com/emirozbir/erp-sentinel/internal/metrics"
)

type Store interface {
	ResolveDrainedCorrelations(ctx context.Context, at time.Time) ([]string, error)
	CloseResolvedCorrelations(ctx context.Context, before, at time.Time) (int64, error)
}

type Sweeper struct {
	store      Store
	closeAfter time.Duration
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time
}

func NewSweeper(store Store, closeAfter time.Duration, publisher events.Publisher, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		closeAfter: closeAfter,
		publisher:  publisher,
		logger:     logger.Named("archive"),
		now:        time.Now,
	}
}

type Result struct {
	Resolved int   `json:"resolved"`
	Closed   int64 `json:"closed"`
}

func (s *Sweeper) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx)
	return err
}

// Sweep resolves Open correlations whose members are all resolved, then
// closes correlations that have stayed Resolved for longer than closeAfter.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	now := s.now()
	result := &Result{}

	ids, err := s.store.ResolveDrainedCorrelations(ctx, now)
	if err != nil {
		return result, err
	}
	result.Resolved = len(ids)
	for _, id := range ids {
		metrics.CorrelationsTotal.WithLabelValues("resolved").Inc()
		payload := map[string]interface{}{"id": id, "resolved_at": now}
		if err := s.publisher.Publish(events.CorrelationResolved, payload); err != nil {
			s.logger.Warn("Failed to publish event", zap.String("event", events.CorrelationResolved), zap.Error(err))
		}
	}

	if s.closeAfter > 0 {
		closed, err := s.store.CloseResolvedCorrelations(ctx, now.Add(-s.closeAfter), now)
		if err != nil {
			return result, err
		}
		result.Closed = closed
		metrics.CorrelationsTotal.WithLabelValues("closed").Add(float64(closed))
	}

	if result.Resolved > 0 || result.Closed > 0 {
		s.logger.Info("Archive sweep finished",
			zap.Int("resolved", result.Resolved),
			zap.Int64("closed", result.Closed),
		)
	}
	return result, nil
}
