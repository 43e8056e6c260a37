package job

import (
	"context"
	"testing"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"presence-service/internal/client"
	"presence-service/internal/database"
	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/publisher"
	"presence-service/internal/repository"
	"presence-service/internal/service"
)

// MockPresenceSource is a mock implementation of PresenceSource
type MockPresenceSource struct {
	mock.Mock
}

func (m *MockPresenceSource) FetchPresence(ctx context.Context, entityIDs []string) (*client.PresenceBatch, error) {
	args := m.Called(ctx, entityIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.PresenceBatch), args.Error(1)
}

// MockObservationRecorder is a mock implementation of ObservationRecorder
type MockObservationRecorder struct {
	mock.Mock
}

func (m *MockObservationRecorder) RecordObservation(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*service.RecordResult, error) {
	args := m.Called(ctx, entityID, state, observedAt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RecordResult), args.Error(1)
}

// MockIntervalRepository is a mock implementation of IntervalRepository
type MockIntervalRepository struct {
	mock.Mock
}

func (m *MockIntervalRepository) FindOpen(ctx context.Context, entityID string) (*domain.Interval, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Interval), args.Error(1)
}

func (m *MockIntervalRepository) FindAllOpen(ctx context.Context) ([]*domain.Interval, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Interval), args.Error(1)
}

func (m *MockIntervalRepository) CreateOpen(ctx context.Context, interval *domain.Interval) error {
	args := m.Called(ctx, interval)
	return args.Error(0)
}

func (m *MockIntervalRepository) CloseAndOpen(ctx context.Context, open *domain.Interval, closedAt int64, next *domain.Interval) error {
	args := m.Called(ctx, open, closedAt, next)
	return args.Error(0)
}

func (m *MockIntervalRepository) FindOverlapping(ctx context.Context, query repository.IntervalQuery) ([]*domain.Interval, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Interval), args.Error(1)
}

func (m *MockIntervalRepository) FindByEntity(ctx context.Context, entityID string) ([]*domain.Interval, error) {
	args := m.Called(ctx, entityID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Interval), args.Error(1)
}

func (m *MockIntervalRepository) CountOpenByState(ctx context.Context) (map[domain.PresenceState]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[domain.PresenceState]int64), args.Error(1)
}

// MockCacheReconciler is a mock implementation of CacheReconciler
type MockCacheReconciler struct {
	mock.Mock
}

func (m *MockCacheReconciler) Reconcile(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func testMetrics() *metrics.Metrics {
	return metrics.NewWithRegistry(prometheus.NewRegistry(), zap.NewNop())
}

func setupTestRepository(t *testing.T, m *metrics.Metrics) repository.IntervalRepository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return repository.NewIntervalRepository(db, m)
}

// batchOf builds a batch where every entity was observed at observedAt
func batchOf(observedAt int64, labels map[string]string, notFound ...string) *client.PresenceBatch {
	batch := &client.PresenceBatch{
		ObservedAt: observedAt,
		Presences:  make(map[string]client.PresenceSample, len(labels)),
		NotFound:   notFound,
	}
	for id, label := range labels {
		batch.Presences[id] = client.PresenceSample{Label: label, ObservedAt: observedAt}
	}
	return batch
}

type pollerFixture struct {
	poller   *Poller
	recorder *service.IntervalRecorder
	source   *MockPresenceSource
	repo     repository.IntervalRepository
	clock    *quartz.Mock
	metrics  *metrics.Metrics
}

// newStorePollerFixture wires a poller to a real recorder on sqlite
func newStorePollerFixture(t *testing.T, cfg PollerConfig) *pollerFixture {
	m := testMetrics()
	repo := setupTestRepository(t, m)
	clock := quartz.NewMock(t)
	source := new(MockPresenceSource)
	recorder := service.NewIntervalRecorder(repo, publisher.NopPublisher{}, clock, m, zap.NewNop())

	return &pollerFixture{
		poller:   NewPoller(source, recorder, repo, service.NewPresenceCache(), clock, cfg, m, zap.NewNop()),
		recorder: recorder,
		source:   source,
		repo:     repo,
		clock:    clock,
		metrics:  m,
	}
}
