package license

import (
	"context"
	"errors"
	"iter"
	"time"
)

// Store sentinel errors. Implementations return these, possibly wrapped, so
// the engine can tell domain outcomes from infrastructure failures.
var (
	ErrNotFound      = errors.New("license not found")
	ErrAlreadyExists = errors.New("license already exists")
	ErrConflict      = errors.New("license state changed concurrently")
)

// Store is a keyed record store. InsertIfAbsent and CompareAndSetActivation
// must each be atomic against the current stored state, including across
// processes sharing the same backend.
type Store interface {
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, identifier string) (Record, error)

	// InsertIfAbsent stores rec only when no record with its identifier
	// exists. Otherwise it returns ErrAlreadyExists and leaves the existing
	// record untouched.
	InsertIfAbsent(ctx context.Context, rec Record) (Record, error)

	// CompareAndSetActivation moves the record from expected to next in a
	// single atomic step. A locked next state binds deviceID; an unredeemed
	// next state clears the binding. It returns ErrConflict when the stored
	// state is not expected and ErrNotFound when the record is absent.
	CompareAndSetActivation(ctx context.Context, identifier string, expected, next ActivationState, deviceID string, at time.Time) (Record, error)

	// SetSuspended raises the suspension flag, returning ErrNotFound when the
	// record is absent. Suspending a suspended record is a no-op.
	SetSuspended(ctx context.Context, identifier string, at time.Time) (Record, error)

	// Reset returns a record to unredeemed with no bound device, optionally
	// clearing its suspension. Administrative only.
	Reset(ctx context.Context, identifier string, clearSuspension bool) (Record, error)

	// ListAll yields every record ordered by identifier. The sequence stops
	// after the first error.
	ListAll(ctx context.Context) iter.Seq2[Record, error]

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Authority is the external verification service consulted for identifiers
// the store has never seen. It reports whether the identifier is genuine and
// not revoked; a non-nil error means the answer could not be obtained.
type Authority interface {
	Verify(ctx context.Context, identifier string) (bool, error)
}

// AuthorityFunc adapts a function to the Authority interface.
type AuthorityFunc func(ctx context.Context, identifier string) (bool, error)

// Verify calls f.
func (f AuthorityFunc) Verify(ctx context.Context, identifier string) (bool, error) {
	return f(ctx, identifier)
}
