// Package license implements device-bound license activation.
//
// # Record Lifecycle
//
// A license record is keyed by its identifier and moves through a small,
// one-directional state machine:
//
//	unknown -> unredeemed -> locked
//
// Records are created unredeemed, either by local provisioning (Engine.Provision)
// or lazily after the external authority confirms an identifier the store has
// never seen. The first device to evaluate an unredeemed record locks it; every
// later evaluation compares the requesting device against the bound device.
// The suspension flag is independent of activation state, is only ever set by
// Engine.Suspend, and takes precedence over binding.
//
// # Evaluation
//
//	verdict, err := engine.Evaluate(ctx, "LIC-AAAA-BBBB-CCCC", "dev-1")
//
// The returned Verdict carries one of five reasons: activated,
// already-bound-same-device, invalid-key, bound-to-other-device, suspended.
// Authority failures fail closed as invalid-key. Store failures are returned
// as errors wrapping errors.ErrStoreUnavailable and are never retried.
//
// # Concurrency
//
// Correctness rests on two Store primitives: InsertIfAbsent and
// CompareAndSetActivation. Both must be atomic against the stored state, so
// that racing activations of the same identifier produce exactly one
// activated verdict even across processes. Within a process, concurrent
// evaluations of the same unknown identifier share one authority call.
package license
