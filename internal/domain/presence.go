package domain

import "strings"

// PresenceState is the closed set of presence states an entity can hold.
type PresenceState string

const (
	PresenceStateActive  PresenceState = "active"
	PresenceStateAway    PresenceState = "away"
	PresenceStateDND     PresenceState = "dnd"
	PresenceStateOffline PresenceState = "offline"
	// PresenceStateUnknown holds any label the presence source reports that is not modelled yet.
	PresenceStateUnknown PresenceState = "unknown"
)

// knownStates maps accepted labels to states. "online" is what older sources report for active.
var knownStates = map[string]PresenceState{
	"active":  PresenceStateActive,
	"online":  PresenceStateActive,
	"away":    PresenceStateAway,
	"dnd":     PresenceStateDND,
	"offline": PresenceStateOffline,
	"unknown": PresenceStateUnknown,
}

// ParsePresenceState converts a source label into a PresenceState.
// Unrecognised labels map to PresenceStateUnknown and ok=false.
func ParsePresenceState(label string) (PresenceState, bool) {
	state, ok := knownStates[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return PresenceStateUnknown, false
	}
	return state, true
}

// ParseStateFilter converts a query filter label into a PresenceState.
// ok=false means the filter can never match a stored interval.
func ParseStateFilter(label string) (PresenceState, bool) {
	state := PresenceState(strings.ToLower(strings.TrimSpace(label)))
	if !state.IsValid() {
		return "", false
	}
	return state, true
}

// IsValid reports whether s is one of the enumerated states.
func (s PresenceState) IsValid() bool {
	switch s {
	case PresenceStateActive, PresenceStateAway, PresenceStateDND, PresenceStateOffline, PresenceStateUnknown:
		return true
	}
	return false
}

// IsOnline reports whether the state counts as online.
func (s PresenceState) IsOnline() bool {
	return s == PresenceStateActive
}

func (s PresenceState) String() string {
	return string(s)
}
