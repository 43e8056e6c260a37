package client

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"presence-service/internal/domain"
)

// EntityFetcher fetches one entity's presence
type EntityFetcher interface {
	FetchOne(ctx context.Context, entityID string) (PresenceSample, error)
}

// SequentialSource adapts a per-entity endpoint to PresenceSource. It waits
// delay between entities to stay under the source's rate limit.
type SequentialSource struct {
	fetcher EntityFetcher
	delay   time.Duration
	clock   quartz.Clock
	logger  *zap.Logger
}

// NewSequentialSource creates a new SequentialSource
func NewSequentialSource(fetcher EntityFetcher, delay time.Duration, clock quartz.Clock, logger *zap.Logger) *SequentialSource {
	return &SequentialSource{
		fetcher: fetcher,
		delay:   delay,
		clock:   clock,
		logger:  logger,
	}
}

// FetchPresence fetches entities one at a time. Missing entities are reported
// in NotFound; an authorization or transient failure ends the fetch.
func (s *SequentialSource) FetchPresence(ctx context.Context, entityIDs []string) (*PresenceBatch, error) {
	batch := &PresenceBatch{
		ObservedAt: s.clock.Now().Unix(),
		Presences:  make(map[string]PresenceSample, len(entityIDs)),
	}

	for i, entityID := range entityIDs {
		if i > 0 && s.delay > 0 {
			if err := s.wait(ctx); err != nil {
				return nil, err
			}
		}

		sample, err := s.fetcher.FetchOne(ctx, entityID)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("Entity not found in presence source", zap.String("entity_id", entityID))
			batch.NotFound = append(batch.NotFound, entityID)
			continue
		}
		if err != nil {
			return nil, err
		}
		batch.Presences[entityID] = sample
	}

	return batch, nil
}

func (s *SequentialSource) wait(ctx context.Context) error {
	timer := s.clock.NewTimer(s.delay, "presence", "sequential")
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
