package memory

import (
	"context"
	"sync"
	"time"
)

// Backend is an in-process store, used by tests and single-replica
// deployments. It is not shared across proxy replicas.
type Backend struct {
	locks  sync.Map // map[string]*sync.Mutex
	values sync.Map // map[string]memoryValue
}

type memoryValue struct {
	value      string
	expiration time.Time
}

// New initializes a new in-memory backend.
func New() *Backend {
	return &Backend{}
}

// getLock returns a mutex for the given key
func (m *Backend) getLock(key string) *sync.Mutex {
	actual, _ := m.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

func (m *Backend) Get(ctx context.Context, key string) (string, error) {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	valAny, exists := m.values.Load(key)
	if !exists {
		return "", nil
	}

	val := valAny.(memoryValue)
	if !val.expiration.IsZero() && time.Now().After(val.expiration) {
		m.values.Delete(key) // Clean up expired key
		return "", nil
	}

	return val.value, nil
}

// CheckAndSet atomically sets key to newValue only if the current value
// matches oldValue. oldValue="" means "only set if key doesn't exist".
func (m *Backend) CheckAndSet(ctx context.Context, key, oldValue, newValue string, expiration time.Duration) (bool, error) {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	valAny, exists := m.values.Load(key)
	var val memoryValue
	if exists {
		val = valAny.(memoryValue)
		if !val.expiration.IsZero() && time.Now().After(val.expiration) {
			// Key has expired, treat as non-existent
			exists = false
			m.values.Delete(key)
		}
	}

	if oldValue == "" {
		if exists {
			return false, nil
		}
		m.store(key, newValue, expiration)
		return true, nil
	}

	if !exists || val.value != oldValue {
		return false, nil
	}

	m.store(key, newValue, expiration)
	return true, nil
}

func (m *Backend) store(key, value string, expiration time.Duration) {
	var expirationTime time.Time
	if expiration > 0 {
		expirationTime = time.Now().Add(expiration)
	}
	m.values.Store(key, memoryValue{
		value:      value,
		expiration: expirationTime,
	})
}

func (m *Backend) Delete(ctx context.Context, key string) error {
	lock := m.getLock(key)
	lock.Lock()
	defer lock.Unlock()

	m.values.Delete(key)
	return nil
}

func (m *Backend) Close() error {
	m.values = sync.Map{}
	m.locks = sync.Map{}
	return nil
}
