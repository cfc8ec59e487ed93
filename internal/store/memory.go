package store

import (
	"context"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"licenselock/internal/license"
)

// MemoryStore is an in-memory license.Store. A single mutex serializes every
// mutation, which makes insert-if-absent and compare-and-set atomic within
// the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]license.Record

	// persist, when set, runs under the write lock after each mutation. A
	// failure rolls the mutation back.
	persist func(map[string]license.Record) error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]license.Record)}
}

// Get retrieves a record by identifier
func (s *MemoryStore) Get(_ context.Context, identifier string) (license.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[identifier]
	if !ok {
		return license.Record{}, license.ErrNotFound
	}
	return rec, nil
}

// InsertIfAbsent stores rec unless its identifier is taken
func (s *MemoryStore) InsertIfAbsent(_ context.Context, rec license.Record) (license.Record, error) {
	if err := rec.Validate(); err != nil {
		return license.Record{}, err
	}
	return s.mutate(rec.Identifier, func(_ license.Record, exists bool) (license.Record, error) {
		if exists {
			return license.Record{}, license.ErrAlreadyExists
		}
		return rec, nil
	})
}

// CompareAndSetActivation moves a record between activation states
func (s *MemoryStore) CompareAndSetActivation(_ context.Context, identifier string, expected, next license.ActivationState, deviceID string, at time.Time) (license.Record, error) {
	return s.mutate(identifier, func(rec license.Record, exists bool) (license.Record, error) {
		if !exists {
			return license.Record{}, license.ErrNotFound
		}
		if rec.State != expected {
			return license.Record{}, license.ErrConflict
		}
		return transition(rec, next, deviceID, at)
	})
}

// SetSuspended raises the suspension flag
func (s *MemoryStore) SetSuspended(_ context.Context, identifier string, at time.Time) (license.Record, error) {
	return s.mutate(identifier, func(rec license.Record, exists bool) (license.Record, error) {
		if !exists {
			return license.Record{}, license.ErrNotFound
		}
		return rec.WithSuspension(at), nil
	})
}

// Reset returns a record to the unredeemed state
func (s *MemoryStore) Reset(_ context.Context, identifier string, clearSuspension bool) (license.Record, error) {
	return s.mutate(identifier, func(rec license.Record, exists bool) (license.Record, error) {
		if !exists {
			return license.Record{}, license.ErrNotFound
		}
		return rec.Cleared(clearSuspension), nil
	})
}

// ListAll yields a snapshot of all records ordered by identifier
func (s *MemoryStore) ListAll(ctx context.Context) iter.Seq2[license.Record, error] {
	return func(yield func(license.Record, error) bool) {
		s.mu.RLock()
		snapshot := make([]license.Record, 0, len(s.records))
		for _, rec := range s.records {
			snapshot = append(snapshot, rec)
		}
		s.mu.RUnlock()

		slices.SortFunc(snapshot, func(a, b license.Record) int {
			return strings.Compare(a.Identifier, b.Identifier)
		})

		for _, rec := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(license.Record{}, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) mutate(identifier string, fn func(rec license.Record, exists bool) (license.Record, error)) (license.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.records[identifier]
	next, err := fn(prev, exists)
	if err != nil {
		return license.Record{}, err
	}

	s.records[identifier] = next
	if s.persist != nil {
		if err := s.persist(s.records); err != nil {
			if exists {
				s.records[identifier] = prev
			} else {
				delete(s.records, identifier)
			}
			return license.Record{}, err
		}
	}
	return next, nil
}

// transition applies a compare-and-set target state to rec.
func transition(rec license.Record, next license.ActivationState, deviceID string, at time.Time) (license.Record, error) {
	switch next {
	case license.StateLocked:
		if deviceID == "" {
			return license.Record{}, errEmptyDevice
		}
		return rec.Activated(deviceID, at), nil
	case license.StateUnredeemed:
		return rec.Cleared(false), nil
	default:
		return license.Record{}, errUnknownState(next)
	}
}
