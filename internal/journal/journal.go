// Package journal provides the undo/change journal: an append-only,
// unit-of-work-scoped log of (record, entity) pairs the recorder emits
// alongside each persisted audit entry. It is a convenience index for
// inspection and undo, not the audit system of record; a journal attached to
// a request context dies with that context, while the persisted records do
// not. The persistence write and the journal append are not transactional: a
// crash between them loses the journal entry, never the record.
package journal

import (
	"context"
	"sync"

	"github.com/change-ledger/change-ledger/internal/db/models"
)

// Entry pairs a persisted record with the entity it described.
type Entry struct {
	Record *models.ChangeRecord
	Entity any
}

// Journal is the append-only log for one logical unit of work. Appends within
// a scope are serialized; separate units of work hold separate journals and
// never contend.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
}

// Append adds an entry.
func (j *Journal) Append(record *models.ChangeRecord, entity any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{Record: record, Entity: entity})
}

// Entries returns a copy of the journal contents in append order.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Len returns the number of entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

type ctxKey struct{}

// With attaches a fresh Journal to ctx, establishing a unit-of-work scope.
func With(ctx context.Context) (context.Context, *Journal) {
	j := &Journal{}
	return context.WithValue(ctx, ctxKey{}, j), j
}

// From returns the Journal attached to ctx, or nil when the caller did not
// establish a scope. Recording outside a scope is valid; it simply leaves no
// journal trail.
func From(ctx context.Context) *Journal {
	j, _ := ctx.Value(ctxKey{}).(*Journal)
	return j
}
