// Package statestore provides the durable key/value JSON document store
// shared by every control-plane component. Each logical registry (scheduler
// state, backup registry, region health, legal holds, failover state) is one
// JSON document with atomic whole-document replace-on-write semantics and
// versioned read-modify-write for concurrent mutators.
package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist
var ErrNotFound = errors.New("statestore: document not found")

// ErrConflict is returned when a versioned write lost a race with a
// concurrent writer and the retry budget is exhausted
var ErrConflict = errors.New("statestore: version conflict")

// Well-known document keys
const (
	KeySchedulerState = "scheduler_state"
	KeyBackupRegistry = "backup_registry"
	KeyRegionHealth   = "region_health"
	KeyLegalHolds     = "legal_holds"
	KeyFailoverState  = "failover_state"
)

// Document is the on-disk envelope around a registry document
type Document struct {
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Data      json.RawMessage `json:"data"`
}

// Mutator receives the current raw document (nil if the document does not
// exist yet) and returns the value to persist. It is re-invoked on version
// conflicts, so it must be safe to call more than once.
type Mutator func(raw json.RawMessage) (interface{}, error)

// Store is the durable state interface. All mutations are read-modify-write
// with optimistic retry; Save is a last-writer-wins replace reserved for
// documents with a single writer.
type Store interface {
	// Load unmarshals the document at key into out
	Load(ctx context.Context, key string, out interface{}) error

	// Save replaces the document at key unconditionally
	Save(ctx context.Context, key string, value interface{}) error

	// Update applies mutate under optimistic concurrency control,
	// retrying on version conflict
	Update(ctx context.Context, key string, mutate Mutator) error

	// WithLock runs fn while holding an exclusive in-process lock on key.
	// Used to serialize check-then-act sequences (legal-hold check before
	// deletion, failover cutover) through the same primitive.
	WithLock(ctx context.Context, key string, fn func() error) error
}

const updateMaxRetries = 5

func marshalDocument(version int64, value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	doc := Document{
		Version:   version,
		UpdatedAt: time.Now().UTC(),
		Data:      data,
	}
	return json.MarshalIndent(&doc, "", "  ")
}
