package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Interval is one contiguous span during which an entity held a single presence state.
// EndTime and Duration are nil while the interval is open.
type Interval struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID  string        `gorm:"type:varchar(64);not null;index:idx_presence_intervals_entity_start,priority:1" json:"entityId"`
	State     PresenceState `gorm:"type:varchar(20);not null;index:idx_presence_intervals_state" json:"state"`
	StartTime int64         `gorm:"not null;index:idx_presence_intervals_entity_start,priority:2;index:idx_presence_intervals_start_time" json:"startTime"`
	EndTime   *int64        `gorm:"index:idx_presence_intervals_end_time" json:"endTime"`
	Duration  *int64        `json:"duration"`
	CreatedAt time.Time     `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time     `gorm:"not null" json:"updatedAt"`
}

// TableName specifies the table name for Interval
func (Interval) TableName() string {
	return "presence_intervals"
}

// BeforeCreate assigns a fresh identity so IDs are never reused.
func (i *Interval) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// NewOpenInterval builds an open interval starting at startTime.
func NewOpenInterval(entityID string, state PresenceState, startTime int64) *Interval {
	return &Interval{
		ID:        uuid.New(),
		EntityID:  entityID,
		State:     state,
		StartTime: startTime,
	}
}

// IsOpen reports whether the interval is the entity's current state.
func (i *Interval) IsOpen() bool {
	return i.EndTime == nil
}

// Close sets EndTime and Duration. It refuses to close before the interval began.
func (i *Interval) Close(at int64) error {
	if !i.IsOpen() {
		return fmt.Errorf("interval %s already closed", i.ID)
	}
	if at < i.StartTime {
		return fmt.Errorf("%w: close at %d precedes start %d", ErrOutOfOrderObservation, at, i.StartTime)
	}
	end := at
	duration := at - i.StartTime
	i.EndTime = &end
	i.Duration = &duration
	return nil
}

// EffectiveEnd returns EndTime, or limit when the interval is still open.
func (i *Interval) EffectiveEnd(limit int64) int64 {
	if i.EndTime == nil {
		return limit
	}
	return *i.EndTime
}
