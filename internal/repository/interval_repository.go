package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"presence-service/internal/domain"
	"presence-service/internal/metrics"
)

const intervalsTable = "presence_intervals"

// IntervalQuery selects intervals overlapping [Start, End), optionally narrowed by entity and state.
type IntervalQuery struct {
	Start    int64
	End      int64
	EntityID *string
	State    *domain.PresenceState
}

// IntervalRepository defines the interface for interval data access
type IntervalRepository interface {
	// FindOpen returns the entity's open interval, or nil when the entity was never observed.
	FindOpen(ctx context.Context, entityID string) (*domain.Interval, error)
	FindAllOpen(ctx context.Context) ([]*domain.Interval, error)
	CreateOpen(ctx context.Context, interval *domain.Interval) error
	// CloseAndOpen closes open at closedAt and inserts next in one transaction.
	CloseAndOpen(ctx context.Context, open *domain.Interval, closedAt int64, next *domain.Interval) error
	FindOverlapping(ctx context.Context, query IntervalQuery) ([]*domain.Interval, error)
	FindByEntity(ctx context.Context, entityID string) ([]*domain.Interval, error)
	CountOpenByState(ctx context.Context) (map[domain.PresenceState]int64, error)
}

// intervalRepositoryImpl is the GORM implementation of IntervalRepository
type intervalRepositoryImpl struct {
	db      *gorm.DB
	metrics *metrics.Metrics
}

// NewIntervalRepository creates a new instance of IntervalRepository
func NewIntervalRepository(db *gorm.DB, m *metrics.Metrics) IntervalRepository {
	return &intervalRepositoryImpl{db: db, metrics: m}
}

func (r *intervalRepositoryImpl) observe(operation string, start time.Time, err error) error {
	r.metrics.RecordDBQuery(operation, intervalsTable, time.Since(start), err)
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransientIO, operation, intervalsTable, err)
	}
	return err
}

// FindOpen finds the open interval of an entity
func (r *intervalRepositoryImpl) FindOpen(ctx context.Context, entityID string) (*domain.Interval, error) {
	start := time.Now()
	var intervals []*domain.Interval
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND end_time IS NULL", entityID).
		Limit(1).
		Find(&intervals).Error
	if err := r.observe("select", start, err); err != nil {
		return nil, err
	}
	if len(intervals) == 0 {
		return nil, nil
	}
	return intervals[0], nil
}

// FindAllOpen finds every open interval, one per observed entity
func (r *intervalRepositoryImpl) FindAllOpen(ctx context.Context) ([]*domain.Interval, error) {
	start := time.Now()
	var intervals []*domain.Interval
	err := r.db.WithContext(ctx).
		Where("end_time IS NULL").
		Order("entity_id ASC").
		Find(&intervals).Error
	if err := r.observe("select", start, err); err != nil {
		return nil, err
	}
	return intervals, nil
}

// CreateOpen inserts the first interval of an entity
func (r *intervalRepositoryImpl) CreateOpen(ctx context.Context, interval *domain.Interval) error {
	start := time.Now()
	err := r.db.WithContext(ctx).Create(interval).Error
	return r.observe("insert", start, err)
}

// CloseAndOpen applies a transition atomically. The guarded update fails with
// ErrConcurrentModification if the open interval was closed by someone else.
func (r *intervalRepositoryImpl) CloseAndOpen(ctx context.Context, open *domain.Interval, closedAt int64, next *domain.Interval) error {
	closed := *open
	if err := closed.Close(closedAt); err != nil {
		return err
	}

	start := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&domain.Interval{}).
			Where("id = ? AND end_time IS NULL", open.ID).
			Updates(map[string]interface{}{
				"end_time": *closed.EndTime,
				"duration": *closed.Duration,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return fmt.Errorf("%w: interval %s for entity %s", domain.ErrConcurrentModification, open.ID, open.EntityID)
		}

		return tx.Create(next).Error
	})
	if err := r.observe("transition", start, err); err != nil {
		return err
	}

	open.EndTime = closed.EndTime
	open.Duration = closed.Duration
	return nil
}

// FindOverlapping finds intervals with startTime < End AND (endTime > Start OR endTime IS NULL)
func (r *intervalRepositoryImpl) FindOverlapping(ctx context.Context, query IntervalQuery) ([]*domain.Interval, error) {
	start := time.Now()
	db := r.db.WithContext(ctx).
		Where("start_time < ?", query.End).
		Where("(end_time > ? OR end_time IS NULL)", query.Start)

	if query.EntityID != nil {
		db = db.Where("entity_id = ?", *query.EntityID)
	}
	if query.State != nil {
		db = db.Where("state = ?", *query.State)
	}

	var intervals []*domain.Interval
	err := db.Order("entity_id ASC").Order("start_time ASC").Find(&intervals).Error
	if err := r.observe("select", start, err); err != nil {
		return nil, err
	}
	return intervals, nil
}

// FindByEntity finds an entity's full history in chronological order
func (r *intervalRepositoryImpl) FindByEntity(ctx context.Context, entityID string) ([]*domain.Interval, error) {
	start := time.Now()
	var intervals []*domain.Interval
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("start_time ASC").
		Order("created_at ASC").
		Find(&intervals).Error
	if err := r.observe("select", start, err); err != nil {
		return nil, err
	}
	return intervals, nil
}

// CountOpenByState counts open intervals grouped by state
func (r *intervalRepositoryImpl) CountOpenByState(ctx context.Context) (map[domain.PresenceState]int64, error) {
	start := time.Now()
	var rows []struct {
		State domain.PresenceState
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.Interval{}).
		Select("state, COUNT(*) AS count").
		Where("end_time IS NULL").
		Group("state").
		Scan(&rows).Error
	if err := r.observe("select", start, err); err != nil {
		return nil, err
	}

	counts := make(map[domain.PresenceState]int64, len(rows))
	for _, row := range rows {
		counts[row.State] = row.Count
	}
	return counts, nil
}
