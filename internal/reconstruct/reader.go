// Package reconstruct rebuilds an approximate snapshot of the entity a
// ChangeRecord described, for undo and inspection flows. Reconstruction is
// best-effort by design: the payload is lossy on type (everything is text),
// so a rebuilt entity is only as complete as the descriptor's setters can
// make it.
package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/diff"
	"github.com/change-ledger/change-ledger/internal/schema"
)

var (
	// ErrTypeNotFound means the record's subject type has no registered
	// descriptor.
	ErrTypeNotFound = errors.New("reconstruct: subject type not registered")
	// ErrNotSupported means the record's event kind has no reconstruction
	// path.
	ErrNotSupported = errors.New("reconstruct: event kind not supported")
	// ErrNoSubject means the record carries no subject type/key (free-form
	// entries cannot be reconstructed).
	ErrNoSubject = errors.New("reconstruct: record has no subject")
)

// Store is the narrow slice of the persistence collaborator reconstruction
// needs.
type Store interface {
	GetEntity(ctx context.Context, typeName, key string) (any, error)
}

// Reader rebuilds subjects from persisted records.
type Reader struct {
	schemas *schema.Registry
	store   Store
}

// NewReader creates a Reader.
func NewReader(schemas *schema.Registry, store Store) *Reader {
	return &Reader{schemas: schemas, store: store}
}

// LoadSubject returns the entity the record described.
//
// Insert and Update records delegate to the store: the entity still exists,
// so its current state is the best available snapshot. Delete records
// synthesize a fresh instance, restore its identity from the record key, and
// replay the decoded "old" section of the payload through the descriptor's
// setters. A field whose stored text no longer coerces into the declared type
// is skipped, not fatal.
func (r *Reader) LoadSubject(ctx context.Context, rec *models.ChangeRecord) (any, error) {
	typeName, key, ok := rec.Subject()
	if !ok {
		return nil, ErrNoSubject
	}

	desc, ok := r.schemas.ByName(typeName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotFound, typeName)
	}

	switch models.EventKind(rec.Event) {
	case models.EventInsert, models.EventUpdate:
		entity, err := r.store.GetEntity(ctx, typeName, key)
		if err != nil {
			return nil, fmt.Errorf("reconstruct: load %s %q: %w", typeName, key, err)
		}
		return entity, nil

	case models.EventDelete:
		return r.rebuild(desc, key, rec.Payload())

	default:
		return nil, fmt.Errorf("%w: %q", ErrNotSupported, rec.Event)
	}
}

func (r *Reader) rebuild(desc *schema.Descriptor, key, payload string) (any, error) {
	entity := desc.New()
	if desc.SetKey != nil {
		if err := desc.SetKey(entity, key); err != nil {
			return nil, fmt.Errorf("reconstruct: restore identity %q: %w", key, err)
		}
	}
	if payload == "" {
		return entity, nil
	}

	d, err := diff.Decode(payload)
	if err != nil {
		return nil, err
	}
	for _, c := range d.Changes() {
		f, ok := desc.Field(c.Name)
		if !ok || f.Set == nil {
			continue
		}
		if err := f.Set(entity, c.Old); err != nil {
			slog.Debug("reconstruct: field restore failed", "type", desc.TypeName, "field", c.Name, "error", err)
		}
	}
	return entity, nil
}
