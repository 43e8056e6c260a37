package domain

import "github.com/google/uuid"

// TransitionEvent is published when an entity moves from one presence state to another.
type TransitionEvent struct {
	EntityID   string        `json:"entityId"`
	OldState   PresenceState `json:"oldState"`
	NewState   PresenceState `json:"newState"`
	ObservedAt int64         `json:"observedAt"`
	IsOnline   bool          `json:"isOnline"`
}

// RecordChange describes what happened to an interval row.
type RecordChange string

const (
	RecordOpened RecordChange = "opened"
	RecordClosed RecordChange = "closed"
)

// RecordChangedEvent is published whenever an interval row is written, so that
// aggregate consumers know their cached results are stale.
type RecordChangedEvent struct {
	EntityID   string        `json:"entityId"`
	IntervalID uuid.UUID     `json:"intervalId"`
	Change     RecordChange  `json:"change"`
	State      PresenceState `json:"state"`
	At         int64         `json:"at"`
}
