package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known identifiers used across license tests.
const (
	KnownKey   = "LIC-AAAA-BBBB-CCCC"
	UnknownKey = "NOT-REAL"
	DeviceOne  = "dev-1"
	DeviceTwo  = "dev-2"
)

// ErrAuthorityDown is returned by StubAuthority when Fail is set.
var ErrAuthorityDown = errors.New("authority transport failure")

// StubAuthority is an in-memory external authority. It reports identifiers in
// Genuine as genuine and counts every call.
type StubAuthority struct {
	mu      sync.Mutex
	Genuine map[string]bool
	Fail    bool
	// Delay holds each call open so concurrent callers overlap.
	Delay time.Duration

	calls atomic.Int64
}

// NewStubAuthority returns a stub accepting the given identifiers.
func NewStubAuthority(genuine ...string) *StubAuthority {
	a := &StubAuthority{Genuine: make(map[string]bool, len(genuine))}
	for _, id := range genuine {
		a.Genuine[id] = true
	}
	return a
}

// Verify implements the authority contract.
func (a *StubAuthority) Verify(ctx context.Context, identifier string) (bool, error) {
	a.calls.Add(1)

	if a.Delay > 0 {
		select {
		case <-time.After(a.Delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Fail {
		return false, ErrAuthorityDown
	}
	return a.Genuine[identifier], nil
}

// SetFail toggles transport failures.
func (a *StubAuthority) SetFail(fail bool) {
	a.mu.Lock()
	a.Fail = fail
	a.mu.Unlock()
}

// Calls reports how many times Verify ran.
func (a *StubAuthority) Calls() int64 {
	return a.calls.Load()
}

// DeviceIDs returns n distinct device identifiers.
func DeviceIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("device-%03d", i)
	}
	return ids
}
