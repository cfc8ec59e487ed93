package license

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
)

// ErrListingConsumed is yielded when a listing sequence is ranged over a
// second time.
var ErrListingConsumed = errors.New("license listing already consumed")

// ListAll returns a point-in-time, single-pass sequence of every record's
// summary, ordered by identifier. Records are read lazily from the store as
// the caller ranges. Store failures end the sequence with an error wrapping
// errors.ErrStoreUnavailable.
func (e *Engine) ListAll(ctx context.Context) iter.Seq2[Summary, error] {
	var consumed atomic.Bool

	return func(yield func(Summary, error) bool) {
		if consumed.Swap(true) {
			yield(Summary{}, ErrListingConsumed)
			return
		}

		for rec, err := range e.store.ListAll(ctx) {
			if err != nil {
				yield(Summary{}, e.storeError(ctx, "list", err))
				return
			}
			if !yield(rec.Summary(), nil) {
				return
			}
		}
	}
}
