// Package cache holds the bounded caches used in front of slow collaborators.
package cache

import (
	"sync"
	"time"

	"conti/internal/log"
)

// Cache is the lookup surface callers depend on.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	Size() int
}

// Cleaner is a cache that can drop its expired entries.
type Cleaner interface {
	CleanExpired() int
}

var _ Cache[string] = (*LRUCache[string])(nil)

// Manager periodically sweeps every registered cache.
type Manager struct {
	mu      sync.Mutex
	caches  []Cleaner
	logger  *log.Logger
	stop    chan struct{}
	done    chan struct{}
	running bool
}

func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Discard()
	}
	return &Manager{logger: logger.WithComponent(log.ComponentCache)}
}

func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Sweep cleans every registered cache once and returns the number of entries removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	total := 0
	for _, c := range caches {
		total += c.CleanExpired()
	}
	if total > 0 {
		m.logger.Debug("Expired cache entries removed", "removed", total)
	}
	return total
}

// StartCleanup sweeps every interval until Stop. A second call is a no-op.
func (m *Manager) StartCleanup(interval time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running || interval <= 0 {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.cleanup(interval, m.stop, m.done)
}

func (m *Manager) cleanup(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-stop:
			return
		}
	}
}

// Stop ends the cleanup loop and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}
