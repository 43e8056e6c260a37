package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"presence-service/internal/domain"
)

func TestIntervalRecorder_FirstObservationOpens(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	result, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 0)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOpened, result.Outcome)
	assert.Nil(t, result.Closed)
	assert.Equal(t, domain.PresenceStateAway, result.Interval.State)
	assert.Equal(t, int64(0), result.Interval.StartTime)
	assert.True(t, result.Interval.IsOpen())

	assert.Empty(t, f.publisher.Transitions(), "first-ever observation is not a transition")
	records := f.publisher.Records()
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordOpened, records[0].Change)
}

func TestIntervalRecorder_SameStateIsNoop(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	first, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 100)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		result, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, int64(200+i))
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnchanged, result.Outcome)
		assert.Equal(t, first.Interval.ID, result.Interval.ID)
	}

	history, err := f.repo.FindByEntity(ctx, "U1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Empty(t, f.publisher.Transitions())
	assert.Len(t, f.publisher.Records(), 1)
}

func TestIntervalRecorder_EndToEndScenario(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	_, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 0)
	require.NoError(t, err)
	second, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 120)
	require.NoError(t, err)
	third, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 500)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTransitioned, second.Outcome)
	require.NotNil(t, second.Closed)
	assert.Equal(t, int64(120), *second.Closed.Duration)
	assert.Equal(t, OutcomeTransitioned, third.Outcome)
	assert.Equal(t, int64(500), third.Interval.StartTime)

	history, err := f.repo.FindByEntity(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, domain.PresenceStateAway, history[0].State)
	assert.Equal(t, int64(0), history[0].StartTime)
	assert.Equal(t, int64(120), *history[0].EndTime)
	assert.Equal(t, int64(120), *history[0].Duration)

	assert.Equal(t, domain.PresenceStateActive, history[1].State)
	assert.Equal(t, int64(120), history[1].StartTime)
	assert.Equal(t, int64(500), *history[1].EndTime)
	assert.Equal(t, int64(380), *history[1].Duration)

	assert.Equal(t, domain.PresenceStateAway, history[2].State)
	assert.Equal(t, int64(500), history[2].StartTime)
	assert.True(t, history[2].IsOpen())

	transitions := f.publisher.Transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, domain.TransitionEvent{
		EntityID:   "U1",
		OldState:   domain.PresenceStateAway,
		NewState:   domain.PresenceStateActive,
		ObservedAt: 120,
		IsOnline:   true,
	}, transitions[0])
	assert.Equal(t, domain.PresenceStateAway, transitions[1].NewState)
	assert.False(t, transitions[1].IsOnline)

	// one open for the first observation, then a close and an open per transition
	assert.Len(t, f.publisher.Records(), 5)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TransitionsTotal.WithLabelValues("away", "active")))

	agg, err := NewAggregationService(f.repo, time.UTC, f.metrics, zap.NewNop()).
		Aggregate(ctx, AggregateRequest{Start: 0, End: 1000, State: "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(380), agg.TotalSeconds)
}

func TestIntervalRecorder_OutOfOrderRejected(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	opened, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1000)
	require.NoError(t, err)

	result, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 900)
	assert.ErrorIs(t, err, domain.ErrOutOfOrderObservation)
	assert.Nil(t, result)

	open, err := f.repo.FindOpen(ctx, "U1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, opened.Interval.ID, open.ID)
	assert.Equal(t, domain.PresenceStateActive, open.State)
	assert.Equal(t, int64(1000), open.StartTime)

	assert.Empty(t, f.publisher.Transitions())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.OutOfOrderTotal))
}

func TestIntervalRecorder_StaleSameStateIsNoop(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	opened, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1000)
	require.NoError(t, err)

	result, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 900)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, result.Outcome)
	assert.Equal(t, opened.Interval.ID, result.Interval.ID)
	assert.Equal(t, int64(1000), result.Interval.StartTime)

	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.OutOfOrderTotal))
	assert.Empty(t, f.publisher.Transitions())
}

func TestIntervalRecorder_OnRecordedHook(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	type call struct {
		entityID string
		state    domain.PresenceState
	}
	var calls []call
	f.recorder.OnRecorded(func(entityID string, state domain.PresenceState) {
		calls = append(calls, call{entityID, state})
	})

	_, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1000)
	require.NoError(t, err)
	_, err = f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1100)
	require.NoError(t, err)
	_, err = f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 1200)
	require.NoError(t, err)

	_, err = f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1100)
	require.ErrorIs(t, err, domain.ErrOutOfOrderObservation)
	_, err = f.recorder.RecordObservation(ctx, " ", domain.PresenceStateActive, 1300)
	require.Error(t, err)

	assert.Equal(t, []call{
		{"U1", domain.PresenceStateActive},
		{"U1", domain.PresenceStateActive},
		{"U1", domain.PresenceStateAway},
	}, calls)
}

func TestIntervalRecorder_SameSecondTransition(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	_, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 1000)
	require.NoError(t, err)
	result, err := f.recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 1000)
	require.NoError(t, err)

	require.NotNil(t, result.Closed)
	assert.Equal(t, int64(0), *result.Closed.Duration)
	assert.Equal(t, int64(1000), result.Interval.StartTime)
}

func TestIntervalRecorder_Validation(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	_, err := f.recorder.RecordObservation(ctx, "  ", domain.PresenceStateActive, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.recorder.RecordObservation(ctx, "U1", domain.PresenceState("busy"), 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestIntervalRecorder_StoreFailure(t *testing.T) {
	storeErr := errors.New("connection reset")
	repo := &MockIntervalRepository{
		FindOpenFunc: func(ctx context.Context, entityID string) (*domain.Interval, error) {
			return nil, errors.Join(domain.ErrTransientIO, storeErr)
		},
	}
	pub := &recordingPublisher{}
	f := newRecorderFixture(t)
	recorder := NewIntervalRecorder(repo, pub, f.clock, f.metrics, zap.NewNop())

	_, err := recorder.RecordObservation(context.Background(), "U1", domain.PresenceStateActive, 0)
	assert.ErrorIs(t, err, domain.ErrTransientIO)
	assert.Empty(t, pub.Records())
}

func TestIntervalRecorder_ConcurrentModificationSurfaces(t *testing.T) {
	open := domain.NewOpenInterval("U1", domain.PresenceStateAway, 0)
	repo := &MockIntervalRepository{
		FindOpenFunc: func(ctx context.Context, entityID string) (*domain.Interval, error) {
			return open, nil
		},
		CloseAndOpenFunc: func(ctx context.Context, o *domain.Interval, closedAt int64, next *domain.Interval) error {
			return domain.ErrConcurrentModification
		},
	}
	pub := &recordingPublisher{}
	f := newRecorderFixture(t)
	recorder := NewIntervalRecorder(repo, pub, f.clock, f.metrics, zap.NewNop())

	_, err := recorder.RecordObservation(context.Background(), "U1", domain.PresenceStateActive, 10)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Empty(t, pub.Transitions())
}

func TestIntervalRecorder_PublishFailureDoesNotFailRecording(t *testing.T) {
	f := newRecorderFixture(t)
	f.publisher.err = errors.New("redis down")
	recorder := NewIntervalRecorder(f.repo, f.publisher, f.clock, f.metrics, zap.NewNop())
	ctx := context.Background()

	_, err := recorder.RecordObservation(ctx, "U1", domain.PresenceStateAway, 0)
	require.NoError(t, err)
	result, err := recorder.RecordObservation(ctx, "U1", domain.PresenceStateActive, 10)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTransitioned, result.Outcome)
}

// Push events and the poller may race on the same entity
func TestIntervalRecorder_ConcurrentSameEntity(t *testing.T) {
	f := newRecorderFixture(t)
	ctx := context.Background()

	states := []domain.PresenceState{domain.PresenceStateActive, domain.PresenceStateAway, domain.PresenceStateDND}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = f.recorder.RecordObservation(ctx, "U1", states[i%len(states)], int64(i))
		}(i)
	}
	wg.Wait()

	assertIntervalChain(t, f.repo, "U1")
	assert.Zero(t, f.recorder.locks.size())
}

func TestIntervalRecorder_Now(t *testing.T) {
	f := newRecorderFixture(t)
	f.clock.Set(time.Unix(1700000000, 0))
	assert.Equal(t, int64(1700000000), f.recorder.Now())
}
