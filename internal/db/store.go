// store.go adapts the repository layer to the recorder.Store contract.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/db/repositories"
)

// ErrNoEntitySource is returned by GetEntity when the store was built without
// an entity source. The audit records themselves live here; the business
// entities they describe live wherever the host keeps them.
var ErrNoEntitySource = errors.New("db: no entity source configured")

// EntitySource loads the current persisted state of a business entity by type
// name and key. The host application supplies one at wiring time; deployments
// that only use the free-form log path can omit it.
type EntitySource func(ctx context.Context, typeName, key string) (any, error)

// Store combines the change-record repository with the host's entity source
// to satisfy the recorder's persistence contract.
type Store struct {
	records  *repositories.ChangeRecordRepository
	entities EntitySource
}

// NewStore creates a Store. entities may be nil.
func NewStore(records *repositories.ChangeRecordRepository, entities EntitySource) *Store {
	return &Store{records: records, entities: entities}
}

// SaveRecord persists one audit record.
func (s *Store) SaveRecord(ctx context.Context, rec *models.ChangeRecord) error {
	return s.records.SaveRecord(ctx, rec)
}

// GetEntity loads a business entity through the configured entity source.
func (s *Store) GetEntity(ctx context.Context, typeName, key string) (any, error) {
	if s.entities == nil {
		return nil, fmt.Errorf("get %s %q: %w", typeName, key, ErrNoEntitySource)
	}
	return s.entities(ctx, typeName, key)
}
