// Package hooks implements the cancellable pre-persist notification point of
// the audit engine. Subscribers are invoked sequentially, in registration
// order, on the critical path of the triggering save or delete; there is no
// timeout, so subscribers are expected to be fast in-process callbacks. A
// subscriber may enrich the in-progress record in place or set the cancel
// flag; cancelling does not stop later subscribers from running (every
// subscriber always observes the record), and the recorder checks the flag
// only after all of them have run.
package hooks

import (
	"context"
	"sync"

	"github.com/change-ledger/change-ledger/internal/db/models"
)

// Event carries the in-progress record through one hook dispatch. It is
// discarded after Raise returns. Subscribers mutate the record through the
// shared pointer; the record reference itself cannot be replaced.
type Event struct {
	Record *models.ChangeRecord
	Entity any
	Kind   models.EventKind

	cancelled bool
}

// Cancel vetoes the recording. The record will not be persisted.
func (e *Event) Cancel() { e.cancelled = true }

// Cancelled reports whether any subscriber vetoed the recording.
func (e *Event) Cancelled() bool { return e.cancelled }

// Subscriber is one hook callback.
type Subscriber func(ctx context.Context, e *Event)

// Bus is an ordered list of subscribers for one operation family. The
// recorder owns two: one for saves, one for deletes.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// Subscribe appends a subscriber. Subscribers run in registration order.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Handled reports whether anyone is listening. The recorder uses this to skip
// building the Event when nobody is subscribed; it is an optimization, not a
// correctness requirement.
func (b *Bus) Handled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs) > 0
}

// Raise invokes every subscriber in order, synchronously. All subscribers run
// even when an earlier one cancels.
func (b *Bus) Raise(ctx context.Context, e *Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s(ctx, e)
	}
}
