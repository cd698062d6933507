// Package recorder orchestrates audit-trail recording. For every mutating
// operation it captures the minimal field-level change set, gives hook
// subscribers a chance to enrich or veto the record, persists it, and appends
// it to the unit-of-work journal.
//
// Failure isolation follows one rule throughout: recording an audit entry
// must never abort the business operation that triggered it, except where the
// audit write itself is the guaranteed side effect the caller asked for.
// Concretely: persistence failures on save/delete propagate (the caller
// decides whether they are fatal to its transaction); identity resolution
// failures are logged and treated as unknown; exception recording and
// free-form logging never surface an error at all.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/change-ledger/change-ledger/internal/actor"
	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/diff"
	"github.com/change-ledger/change-ledger/internal/hooks"
	"github.com/change-ledger/change-ledger/internal/journal"
	"github.com/change-ledger/change-ledger/internal/records"
	"github.com/change-ledger/change-ledger/internal/safego"
	"github.com/change-ledger/change-ledger/internal/schema"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

// Store is the persistence collaborator. SaveRecord writes one audit record;
// GetEntity returns the current persisted state of an entity by type name and
// key (used to compute update diffs and to reload subjects during
// reconstruction).
type Store interface {
	SaveRecord(ctx context.Context, rec *models.ChangeRecord) error
	GetEntity(ctx context.Context, typeName, key string) (any, error)
}

// Shipper forwards persisted records to secondary destinations (file,
// webhook). Shipping happens off the critical path and is best-effort.
type Shipper interface {
	Ship(ctx context.Context, rec *models.ChangeRecord) error
}

// Config holds the recorder's behavioural toggles.
type Config struct {
	// LogInsertPayload attaches the full field snapshot to Insert records.
	// Off by default for volume control: inserts are reconstructible from
	// the entity itself, updates are not.
	LogInsertPayload bool

	// ExceptionLoggingEnabled gates RecordException entirely.
	ExceptionLoggingEnabled bool

	// SuppressedErrorTypes lists error type names (as printed by %T) that
	// indicate the persistence layer itself is down. RecordException refuses
	// to log these to avoid an infinite failure loop where every failed
	// audit write spawns another audit write.
	SuppressedErrorTypes []string
}

// Input validation errors.
var (
	ErrNilEntity  = errors.New("recorder: entity must not be nil")
	ErrEmptyTitle = errors.New("recorder: title must not be empty")
)

// Recorder is the audit engine's write path. Construct one per process with
// New and share it freely; every recording call allocates its own record, so
// no cross-call locking is needed.
type Recorder struct {
	cfg     Config
	store   Store
	schemas *schema.Registry
	factory *records.Factory
	actors  *actor.Resolver
	shipper Shipper

	saveHooks   hooks.Bus
	deleteHooks hooks.Bus
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithShipper attaches a secondary-destination shipper. Persisted records are
// shipped asynchronously, fire-and-forget.
func WithShipper(s Shipper) Option {
	return func(r *Recorder) { r.shipper = s }
}

// New creates a Recorder.
func New(cfg Config, store Store, schemas *schema.Registry, factory *records.Factory, actors *actor.Resolver, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:     cfg,
		store:   store,
		schemas: schemas,
		factory: factory,
		actors:  actors,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnBeforeSave subscribes to the save hook channel (Insert and Update).
func (r *Recorder) OnBeforeSave(s hooks.Subscriber) { r.saveHooks.Subscribe(s) }

// OnBeforeDelete subscribes to the delete hook channel.
func (r *Recorder) OnBeforeDelete(s hooks.Subscriber) { r.deleteHooks.Subscribe(s) }

// RecordSave records an Insert or Update of entity. It returns nil without
// side effect when the entity's type is not registered for logging, when the
// record factory reports recording disabled, when an update turns out to be a
// no-op (empty diff), or when a hook subscriber cancels. Persistence failures
// propagate to the caller.
//
// Update diffs compare against the entity state currently in the store,
// fetched at record time, not against a snapshot taken when the caller began
// mutating. Under concurrent mutation of the same entity the "old" values may
// therefore belong to a different writer.
func (r *Recorder) RecordSave(ctx context.Context, entity any, kind models.EventKind) error {
	if entity == nil {
		return ErrNilEntity
	}
	if kind != models.EventInsert && kind != models.EventUpdate {
		return fmt.Errorf("recorder: RecordSave accepts Insert or Update, got %q", kind)
	}

	desc, ok := r.schemas.For(entity)
	if !ok || !desc.Loggable {
		return nil
	}

	rec, err := r.factory.New()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	key := desc.Key(entity)
	rec.SetSubject(desc.TypeName, key)
	rec.Event = string(kind)
	rec.Date = time.Now().UTC()
	if err := r.populateActor(ctx, rec); err != nil {
		return err
	}

	switch kind {
	case models.EventUpdate:
		prior, err := r.store.GetEntity(ctx, desc.TypeName, key)
		if err != nil {
			return fmt.Errorf("recorder: fetch prior state of %s %q: %w", desc.TypeName, key, err)
		}
		var before *schema.Snapshot
		if prior != nil {
			before = desc.Snapshot(prior)
		}
		d := diff.Compute(before, desc.Snapshot(entity))
		if d.Empty() {
			// A no-op update carries no information and is not audited.
			telemetry.EmptyDiffSkipsTotal.Inc()
			return nil
		}
		rec.SetPayload(d.Encode())
	case models.EventInsert:
		if r.cfg.LogInsertPayload {
			rec.SetPayload(diff.Compute(nil, desc.Snapshot(entity)).Encode())
		}
	}

	if r.saveHooks.Handled() {
		evt := &hooks.Event{Record: rec, Entity: entity, Kind: kind}
		r.saveHooks.Raise(ctx, evt)
		if evt.Cancelled() {
			telemetry.HookCancellationsTotal.WithLabelValues("save").Inc()
			return nil
		}
	}

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("recorder: persist %s record for %s %q: %w", kind, desc.TypeName, key, err)
	}

	if j := journal.From(ctx); j != nil {
		j.Append(rec, entity)
	}
	telemetry.RecordsPersistedTotal.WithLabelValues(string(kind)).Inc()
	r.ship(rec)
	return nil
}

// RecordDelete records the deletion of entity. The full before-state is
// always attached as the payload so the subject can later be rebuilt by the
// reconstruction reader. Persistence failures propagate.
func (r *Recorder) RecordDelete(ctx context.Context, entity any) error {
	if entity == nil {
		return ErrNilEntity
	}

	desc, ok := r.schemas.For(entity)
	if !ok || !desc.Loggable {
		return nil
	}

	rec, err := r.factory.New()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	key := desc.Key(entity)
	rec.SetSubject(desc.TypeName, key)
	rec.Event = string(models.EventDelete)
	rec.Date = time.Now().UTC()
	if err := r.populateActor(ctx, rec); err != nil {
		return err
	}

	rec.SetPayload(diff.Compute(desc.Snapshot(entity), nil).Encode())

	if r.deleteHooks.Handled() {
		evt := &hooks.Event{Record: rec, Entity: entity, Kind: models.EventDelete}
		r.deleteHooks.Raise(ctx, evt)
		if evt.Cancelled() {
			telemetry.HookCancellationsTotal.WithLabelValues("delete").Inc()
			return nil
		}
	}

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("recorder: persist Delete record for %s %q: %w", desc.TypeName, key, err)
	}

	if j := journal.From(ctx); j != nil {
		j.Append(rec, entity)
	}
	telemetry.RecordsPersistedTotal.WithLabelValues(string(models.EventDelete)).Inc()
	r.ship(rec)
	return nil
}

// populateActor fills UserID and IP from the actor resolver. A missing
// resolver is a configuration error and propagates; a resolver that fails is
// logged at debug level and the field stays null (actor unknown).
func (r *Recorder) populateActor(ctx context.Context, rec *models.ChangeRecord) error {
	id, err := r.actors.CurrentUserID(ctx)
	switch {
	case errors.Is(err, actor.ErrNotConfigured):
		return err
	case err != nil:
		slog.Debug("audit: user identity resolution failed", "error", err)
	case id != "":
		rec.UserID = &id
	}

	ip, err := r.actors.CurrentUserIP(ctx)
	switch {
	case errors.Is(err, actor.ErrNotConfigured):
		return err
	case err != nil:
		slog.Debug("audit: caller origin resolution failed", "error", err)
	case ip != "":
		rec.IP = &ip
	}
	return nil
}

// ship forwards a persisted record to the configured shipper, off the
// critical path. Shipping failures are logged by the shipper itself.
func (r *Recorder) ship(rec *models.ChangeRecord) {
	if r.shipper == nil {
		return
	}
	safego.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.shipper.Ship(ctx, rec); err != nil {
			slog.Warn("audit: shipping record failed", "record_id", rec.ID, "error", err)
		}
	})
}
