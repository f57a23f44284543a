package catalog

import "sync"

// Locks hands out one RWMutex per profile. Writers hold it while mutating
// the profile's catalog; API reads hold it shared.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.RWMutex)}
}

func (l *Locks) get(profileID string) *sync.RWMutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[profileID]
	if !ok {
		m = &sync.RWMutex{}
		l.locks[profileID] = m
	}
	return m
}

// Lock takes the profile's write lock and returns its release func.
func (l *Locks) Lock(profileID string) func() {
	m := l.get(profileID)
	m.Lock()
	return m.Unlock
}

func (l *Locks) RLock(profileID string) func() {
	m := l.get(profileID)
	m.RLock()
	return m.RUnlock
}

// WithLock runs fn under the profile's write lock.
func (l *Locks) WithLock(profileID string, fn func() error) error {
	defer l.Lock(profileID)()
	return fn()
}
