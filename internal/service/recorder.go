package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/publisher"
	"presence-service/internal/repository"
)

// RecordOutcome says what RecordObservation did to the store
type RecordOutcome string

const (
	OutcomeOpened       RecordOutcome = "opened"
	OutcomeUnchanged    RecordOutcome = "unchanged"
	OutcomeTransitioned RecordOutcome = "transitioned"
)

// RecordResult carries the entity's open interval after an observation.
// Closed is set only when the observation was a transition.
type RecordResult struct {
	Interval *domain.Interval
	Closed   *domain.Interval
	Outcome  RecordOutcome
}

// RecordHook receives the entity's current state after every successful recording.
// It runs while the entity is still locked, so hooks see recordings in store order.
type RecordHook func(entityID string, state domain.PresenceState)

// IntervalRecorder turns presence observations into a gap-free chain of intervals
type IntervalRecorder struct {
	repo      repository.IntervalRepository
	publisher publisher.Publisher
	clock     quartz.Clock
	metrics   *metrics.Metrics
	logger    *zap.Logger
	locks     *entityLocks

	hooksMu sync.RWMutex
	hooks   []RecordHook
}

// NewIntervalRecorder creates a new IntervalRecorder
func NewIntervalRecorder(
	repo repository.IntervalRepository,
	pub publisher.Publisher,
	clock quartz.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IntervalRecorder {
	if pub == nil {
		pub = publisher.NopPublisher{}
	}
	return &IntervalRecorder{
		repo:      repo,
		publisher: pub,
		clock:     clock,
		metrics:   m,
		logger:    logger,
		locks:     newEntityLocks(),
	}
}

// Now returns the injected clock's time in unix seconds
func (r *IntervalRecorder) Now() int64 {
	return r.clock.Now().Unix()
}

// OnRecorded registers a hook run after every successful RecordObservation, whichever caller made it
func (r *IntervalRecorder) OnRecorded(hook RecordHook) {
	r.hooksMu.Lock()
	r.hooks = append(r.hooks, hook)
	r.hooksMu.Unlock()
}

// RecordObservation applies one observation of entityID being in state at observedAt.
// Calls for the same entity are serialised. A repeat of the open state is a no-op
// whatever its time; a transition older than the open interval is dropped with
// ErrOutOfOrderObservation.
func (r *IntervalRecorder) RecordObservation(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*RecordResult, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, domain.NewValidationError("entityId", "must not be empty")
	}
	if !state.IsValid() {
		return nil, domain.NewValidationError("state", fmt.Sprintf("unsupported presence state %q", state))
	}

	unlock := r.locks.Lock(entityID)
	defer unlock()

	res, err := r.apply(ctx, entityID, state, observedAt)
	if err != nil {
		return nil, err
	}

	r.hooksMu.RLock()
	for _, hook := range r.hooks {
		hook(entityID, res.Interval.State)
	}
	r.hooksMu.RUnlock()
	return res, nil
}

func (r *IntervalRecorder) apply(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*RecordResult, error) {
	open, err := r.repo.FindOpen(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to find open interval: %w", err)
	}

	if open == nil {
		return r.openFirst(ctx, entityID, state, observedAt)
	}

	if open.State == state {
		return &RecordResult{Interval: open, Outcome: OutcomeUnchanged}, nil
	}

	if observedAt < open.StartTime {
		r.logger.Warn("Dropping out-of-order presence observation",
			zap.String("entity_id", entityID),
			zap.String("state", state.String()),
			zap.Int64("observed_at", observedAt),
			zap.Int64("open_start", open.StartTime),
		)
		r.metrics.IncrementOutOfOrder()
		return nil, fmt.Errorf("%w: entity %s observed at %d before open interval start %d",
			domain.ErrOutOfOrderObservation, entityID, observedAt, open.StartTime)
	}

	return r.transition(ctx, open, state, observedAt)
}

func (r *IntervalRecorder) openFirst(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*RecordResult, error) {
	interval := domain.NewOpenInterval(entityID, state, observedAt)
	if err := r.repo.CreateOpen(ctx, interval); err != nil {
		return nil, fmt.Errorf("failed to open first interval: %w", err)
	}

	r.logger.Debug("Opened first interval",
		zap.String("entity_id", entityID),
		zap.String("state", state.String()),
		zap.Int64("start_time", observedAt),
	)
	r.publishRecordChanged(ctx, interval, domain.RecordOpened, observedAt)

	return &RecordResult{Interval: interval, Outcome: OutcomeOpened}, nil
}

func (r *IntervalRecorder) transition(ctx context.Context, open *domain.Interval, state domain.PresenceState, observedAt int64) (*RecordResult, error) {
	oldState := open.State
	next := domain.NewOpenInterval(open.EntityID, state, observedAt)

	if err := r.repo.CloseAndOpen(ctx, open, observedAt, next); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			r.logger.Warn("Open interval changed during transition",
				zap.String("entity_id", open.EntityID),
				zap.String("interval_id", open.ID.String()),
			)
		}
		return nil, fmt.Errorf("failed to record transition: %w", err)
	}

	r.metrics.IncrementTransition(oldState.String(), state.String())

	event := domain.TransitionEvent{
		EntityID:   open.EntityID,
		OldState:   oldState,
		NewState:   state,
		ObservedAt: observedAt,
		IsOnline:   state.IsOnline(),
	}
	if err := r.publisher.PublishTransition(ctx, event); err != nil {
		r.logger.Error("Failed to publish transition",
			zap.String("entity_id", open.EntityID),
			zap.Error(err),
		)
	}
	r.publishRecordChanged(ctx, open, domain.RecordClosed, observedAt)
	r.publishRecordChanged(ctx, next, domain.RecordOpened, observedAt)

	return &RecordResult{Interval: next, Closed: open, Outcome: OutcomeTransitioned}, nil
}

func (r *IntervalRecorder) publishRecordChanged(ctx context.Context, interval *domain.Interval, change domain.RecordChange, at int64) {
	event := domain.RecordChangedEvent{
		EntityID:   interval.EntityID,
		IntervalID: interval.ID,
		Change:     change,
		State:      interval.State,
		At:         at,
	}
	if err := r.publisher.PublishRecordChanged(ctx, event); err != nil {
		r.logger.Error("Failed to publish record change",
			zap.String("entity_id", interval.EntityID),
			zap.String("change", string(change)),
			zap.Error(err),
		)
	}
}
