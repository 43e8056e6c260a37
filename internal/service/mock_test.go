package service

import (
	"context"
	"sync"
	"testing"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"presence-service/internal/database"
	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
)

// MockIntervalRepository is a mock implementation of IntervalRepository
type MockIntervalRepository struct {
	FindOpenFunc         func(ctx context.Context, entityID string) (*domain.Interval, error)
	FindAllOpenFunc      func(ctx context.Context) ([]*domain.Interval, error)
	CreateOpenFunc       func(ctx context.Context, interval *domain.Interval) error
	CloseAndOpenFunc     func(ctx context.Context, open *domain.Interval, closedAt int64, next *domain.Interval) error
	FindOverlappingFunc  func(ctx context.Context, query repository.IntervalQuery) ([]*domain.Interval, error)
	FindByEntityFunc     func(ctx context.Context, entityID string) ([]*domain.Interval, error)
	CountOpenByStateFunc func(ctx context.Context) (map[domain.PresenceState]int64, error)
}

func (m *MockIntervalRepository) FindOpen(ctx context.Context, entityID string) (*domain.Interval, error) {
	if m.FindOpenFunc != nil {
		return m.FindOpenFunc(ctx, entityID)
	}
	return nil, nil
}

func (m *MockIntervalRepository) FindAllOpen(ctx context.Context) ([]*domain.Interval, error) {
	if m.FindAllOpenFunc != nil {
		return m.FindAllOpenFunc(ctx)
	}
	return nil, nil
}

func (m *MockIntervalRepository) CreateOpen(ctx context.Context, interval *domain.Interval) error {
	if m.CreateOpenFunc != nil {
		return m.CreateOpenFunc(ctx, interval)
	}
	return nil
}

func (m *MockIntervalRepository) CloseAndOpen(ctx context.Context, open *domain.Interval, closedAt int64, next *domain.Interval) error {
	if m.CloseAndOpenFunc != nil {
		return m.CloseAndOpenFunc(ctx, open, closedAt, next)
	}
	return nil
}

func (m *MockIntervalRepository) FindOverlapping(ctx context.Context, query repository.IntervalQuery) ([]*domain.Interval, error) {
	if m.FindOverlappingFunc != nil {
		return m.FindOverlappingFunc(ctx, query)
	}
	return nil, nil
}

func (m *MockIntervalRepository) FindByEntity(ctx context.Context, entityID string) ([]*domain.Interval, error) {
	if m.FindByEntityFunc != nil {
		return m.FindByEntityFunc(ctx, entityID)
	}
	return nil, nil
}

func (m *MockIntervalRepository) CountOpenByState(ctx context.Context) (map[domain.PresenceState]int64, error) {
	if m.CountOpenByStateFunc != nil {
		return m.CountOpenByStateFunc(ctx)
	}
	return map[domain.PresenceState]int64{}, nil
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu          sync.Mutex
	transitions []domain.TransitionEvent
	records     []domain.RecordChangedEvent
	err         error
}

func (p *recordingPublisher) PublishTransition(_ context.Context, event domain.TransitionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, event)
	return p.err
}

func (p *recordingPublisher) PublishRecordChanged(_ context.Context, event domain.RecordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, event)
	return p.err
}

func (p *recordingPublisher) Transitions() []domain.TransitionEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TransitionEvent(nil), p.transitions...)
}

func (p *recordingPublisher) Records() []domain.RecordChangedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.RecordChangedEvent(nil), p.records...)
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry(), zap.NewNop())
}

type recorderFixture struct {
	recorder  *IntervalRecorder
	repo      repository.IntervalRepository
	publisher *recordingPublisher
	clock     *quartz.Mock
	metrics   *metrics.Metrics
}

func newRecorderFixture(t *testing.T) *recorderFixture {
	m := testMetrics()
	repo := repository.NewIntervalRepository(setupTestDB(t), m)
	pub := &recordingPublisher{}
	clock := quartz.NewMock(t)

	return &recorderFixture{
		recorder:  NewIntervalRecorder(repo, pub, clock, m, zap.NewNop()),
		repo:      repo,
		publisher: pub,
		clock:     clock,
		metrics:   m,
	}
}
