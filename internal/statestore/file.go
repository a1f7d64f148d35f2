package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists each document as a single JSON file under a base
// directory. Writes go through a temp file followed by rename so a crashed
// write never leaves a half-written registry behind.
type FileStore struct {
	baseDir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates a file-backed store rooted at baseDir
func NewFileStore(baseDir string) (*FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("statestore: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: failed to create base directory: %w", err)
	}
	return &FileStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.baseDir, key+".json")
}

func (fs *FileStore) keyLock(key string) *sync.Mutex {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	lock, ok := fs.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		fs.locks[key] = lock
	}
	return lock
}

func (fs *FileStore) readDocument(key string) (*Document, error) {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("statestore: failed to read %s: %w", key, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("statestore: corrupt document %s: %w", key, err)
	}
	return &doc, nil
}

func (fs *FileStore) writeDocument(key string, data []byte) error {
	target := fs.path(key)
	tmp, err := os.CreateTemp(fs.baseDir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("statestore: failed to create temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statestore: failed to write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("statestore: failed to sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statestore: failed to close temp file for %s: %w", key, err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("statestore: failed to replace %s: %w", key, err)
	}
	return nil
}

// Load unmarshals the document at key into out
func (fs *FileStore) Load(ctx context.Context, key string, out interface{}) error {
	doc, err := fs.readDocument(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc.Data, out); err != nil {
		return fmt.Errorf("statestore: failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// Save replaces the document at key unconditionally
func (fs *FileStore) Save(ctx context.Context, key string, value interface{}) error {
	lock := fs.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var version int64 = 1
	if doc, err := fs.readDocument(key); err == nil {
		version = doc.Version + 1
	}

	data, err := marshalDocument(version, value)
	if err != nil {
		return fmt.Errorf("statestore: failed to marshal %s: %w", key, err)
	}
	return fs.writeDocument(key, data)
}

// Update applies mutate under optimistic concurrency control. The current
// raw document is re-read on each attempt so a conflicting writer's changes
// are never silently overwritten.
func (fs *FileStore) Update(ctx context.Context, key string, mutate Mutator) error {
	for attempt := 0; attempt < updateMaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var baseVersion int64
		var raw json.RawMessage
		if doc, err := fs.readDocument(key); err == nil {
			baseVersion = doc.Version
			raw = doc.Data
		} else if err != ErrNotFound {
			return err
		}

		value, err := mutate(raw)
		if err != nil {
			return err
		}

		lock := fs.keyLock(key)
		lock.Lock()
		current, err := fs.readDocument(key)
		conflict := false
		switch {
		case err == ErrNotFound:
			conflict = baseVersion != 0
		case err != nil:
			lock.Unlock()
			return err
		default:
			conflict = current.Version != baseVersion
		}

		if conflict {
			lock.Unlock()
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}

		data, err := marshalDocument(baseVersion+1, value)
		if err != nil {
			lock.Unlock()
			return fmt.Errorf("statestore: failed to marshal %s: %w", key, err)
		}
		err = fs.writeDocument(key, data)
		lock.Unlock()
		return err
	}
	return ErrConflict
}

// WithLock runs fn while holding the exclusive per-key lock
func (fs *FileStore) WithLock(ctx context.Context, key string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lockKey := key + ".section"
	lock := fs.keyLock(lockKey)
	lock.Lock()
	defer lock.Unlock()
	return fn()
}
