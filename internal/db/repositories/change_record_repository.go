// change_record_repository.go implements ChangeRecordRepository, the Postgres
// write path for audit records plus the single-record read used by
// reconstruction. There is deliberately no general query surface here: the
// engine owns the write path only.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/change-ledger/change-ledger/internal/db/models"
)

// ErrRecordNotFound is returned by GetRecord when no record exists for the id.
var ErrRecordNotFound = errors.New("change record not found")

// ChangeRecordRepository handles change_records database operations.
type ChangeRecordRepository struct {
	db *sqlx.DB
}

// NewChangeRecordRepository creates a new ChangeRecordRepository.
func NewChangeRecordRepository(db *sqlx.DB) *ChangeRecordRepository {
	return &ChangeRecordRepository{db: db}
}

// SaveRecord inserts one audit record. A missing ID or zero Date is filled in
// at write time; the record is otherwise persisted exactly as handed over and
// is never updated afterwards.
func (r *ChangeRecordRepository) SaveRecord(ctx context.Context, rec *models.ChangeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Date.IsZero() {
		rec.Date = time.Now().UTC()
	}

	query := `
		INSERT INTO change_records (id, item_type, item_key, event, ip, user_id, date, data)
		VALUES (:id, :item_type, :item_key, :event, :ip, :user_id, :date, :data)
	`

	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("insert change record: %w", err)
	}
	return nil
}

// GetRecord retrieves a single record by ID.
func (r *ChangeRecordRepository) GetRecord(ctx context.Context, id string) (*models.ChangeRecord, error) {
	query := `
		SELECT id, item_type, item_key, event, ip, user_id, date, data
		FROM change_records
		WHERE id = $1
	`

	rec := &models.ChangeRecord{}
	if err := r.db.GetContext(ctx, rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get change record: %w", err)
	}
	return rec, nil
}
