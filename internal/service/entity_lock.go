package service

import "sync"

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// entityLocks serialises work per entity id. Entries are dropped once no
// goroutine holds or waits on them.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*entityLock
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*entityLock)}
}

// Lock blocks until the entity is free and returns its unlock func
func (l *entityLocks) Lock(entityID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[entityID]
	if !ok {
		lock = &entityLock{}
		l.locks[entityID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, entityID)
		}
		l.mu.Unlock()
	}
}

func (l *entityLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
