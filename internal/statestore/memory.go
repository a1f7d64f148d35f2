package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used by tests and dry runs
type MemoryStore struct {
	mu       sync.Mutex
	docs     map[string]*Document
	sections map[string]*sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*Document),
		sections: make(map[string]*sync.Mutex),
	}
}

// Load unmarshals the document at key into out
func (ms *MemoryStore) Load(ctx context.Context, key string, out interface{}) error {
	ms.mu.Lock()
	doc, ok := ms.docs[key]
	ms.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(doc.Data, out); err != nil {
		return fmt.Errorf("statestore: failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Save replaces the document at key unconditionally
func (ms *MemoryStore) Save(ctx context.Context, key string, value interface{}) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var version int64 = 1
	if doc, ok := ms.docs[key]; ok {
		version = doc.Version + 1
	}
	return ms.put(key, version, value)
}

func (ms *MemoryStore) put(key string, version int64, value interface{}) error {
	data, err := marshalDocument(version, value)
	if err != nil {
		return fmt.Errorf("statestore: failed to marshal %s: %w", key, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	ms.docs[key] = &doc
	return nil
}

// Update applies mutate under the same optimistic versioning contract as
// the file-backed store
func (ms *MemoryStore) Update(ctx context.Context, key string, mutate Mutator) error {
	for attempt := 0; attempt < updateMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ms.mu.Lock()
		var baseVersion int64
		var raw json.RawMessage
		if doc, ok := ms.docs[key]; ok {
			baseVersion = doc.Version
			raw = doc.Data
		}
		ms.mu.Unlock()

		value, err := mutate(raw)
		if err != nil {
			return err
		}

		ms.mu.Lock()
		var currentVersion int64
		if doc, ok := ms.docs[key]; ok {
			currentVersion = doc.Version
		}
		if currentVersion != baseVersion {
			ms.mu.Unlock()
			continue
		}
		err = ms.put(key, baseVersion+1, value)
		ms.mu.Unlock()
		return err
	}
	return ErrConflict
}

// WithLock runs fn while holding the exclusive per-key lock
func (ms *MemoryStore) WithLock(ctx context.Context, key string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms.mu.Lock()
	lock, ok := ms.sections[key]
	if !ok {
		lock = &sync.Mutex{}
		ms.sections[key] = lock
	}
	ms.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}
