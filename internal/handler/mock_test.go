package handler

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"presence-service/internal/database"
	"presence-service/internal/job"
	"presence-service/internal/metrics"
	"presence-service/internal/publisher"
	"presence-service/internal/repository"
	"presence-service/internal/service"
)

// MockAggregator is a mock implementation of Aggregator
type MockAggregator struct {
	mock.Mock
}

func (m *MockAggregator) Aggregate(ctx context.Context, req service.AggregateRequest) (*service.AggregateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AggregateResult), args.Error(1)
}

func (m *MockAggregator) Heatmap(ctx context.Context, req service.HeatmapRequest) (*service.HeatmapResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.HeatmapResult), args.Error(1)
}

func (m *MockAggregator) Overview(ctx context.Context, req service.OverviewRequest) (*service.OverviewResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OverviewResult), args.Error(1)
}

func (m *MockAggregator) HourlyPattern(ctx context.Context, req service.HourlyPatternRequest) (*service.HourlyPatternResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.HourlyPatternResult), args.Error(1)
}

// MockPollerControl is a mock implementation of PollerControl
type MockPollerControl struct {
	mock.Mock
	cache *service.PresenceCache
}

func (m *MockPollerControl) State() job.PollerState {
	return m.Called().Get(0).(job.PollerState)
}

func (m *MockPollerControl) Running() bool {
	return m.Called().Bool(0)
}

func (m *MockPollerControl) NeedsReauthorization() bool {
	return m.Called().Bool(0)
}

func (m *MockPollerControl) Resume(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockPollerControl) Cache() *service.PresenceCache {
	if m.cache == nil {
		m.cache = service.NewPresenceCache()
	}
	return m.cache
}

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// storeFixture is a recorder and aggregator sharing one sqlite store
type storeFixture struct {
	repo       repository.IntervalRepository
	recorder   *service.IntervalRecorder
	aggregator *service.AggregationService
	clock      *quartz.Mock
}

func newStoreFixture(t *testing.T) *storeFixture {
	m := metrics.NewWithRegistry(prometheus.NewRegistry(), zap.NewNop())
	repo := repository.NewIntervalRepository(setupTestDB(t), m)
	clock := quartz.NewMock(t)
	clock.Set(time.Unix(5000, 0))

	return &storeFixture{
		repo:       repo,
		recorder:   service.NewIntervalRecorder(repo, publisher.NopPublisher{}, clock, m, zap.NewNop()),
		aggregator: service.NewAggregationService(repo, time.UTC, m, zap.NewNop()),
		clock:      clock,
	}
}

func newTestEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}
