package service

import (
	"sort"
	"sync"

	"presence-service/internal/domain"
)

// PresenceCache holds the last observed state per entity. The interval store
// stays authoritative; the cache only spares the poller a store read when
// nothing changed.
type PresenceCache struct {
	mu     sync.RWMutex
	states map[string]domain.PresenceState
}

// NewPresenceCache creates an empty cache
func NewPresenceCache() *PresenceCache {
	return &PresenceCache{states: make(map[string]domain.PresenceState)}
}

func (c *PresenceCache) Get(entityID string) (domain.PresenceState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	state, ok := c.states[entityID]
	return state, ok
}

func (c *PresenceCache) Set(entityID string, state domain.PresenceState) {
	c.mu.Lock()
	c.states[entityID] = state
	c.mu.Unlock()
}

func (c *PresenceCache) Delete(entityID string) {
	c.mu.Lock()
	delete(c.states, entityID)
	c.mu.Unlock()
}

func (c *PresenceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

// Snapshot returns a copy of the cached states
func (c *PresenceCache) Snapshot() map[string]domain.PresenceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]domain.PresenceState, len(c.states))
	for id, state := range c.states {
		out[id] = state
	}
	return out
}

// EntityIDs returns the cached entity ids in ascending order
func (c *PresenceCache) EntityIDs() []string {
	c.mu.RLock()
	ids := make([]string, 0, len(c.states))
	for id := range c.states {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Rebuild replaces the cache contents with the states of the given open intervals
func (c *PresenceCache) Rebuild(open []*domain.Interval) {
	states := make(map[string]domain.PresenceState, len(open))
	for _, interval := range open {
		states[interval.EntityID] = interval.State
	}
	c.mu.Lock()
	c.states = states
	c.mu.Unlock()
}
