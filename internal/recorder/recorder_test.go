package recorder

import (
	"context"
	"errors"
	"testing"

	"github.com/change-ledger/change-ledger/internal/actor"
	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/diff"
	"github.com/change-ledger/change-ledger/internal/hooks"
	"github.com/change-ledger/change-ledger/internal/journal"
	"github.com/change-ledger/change-ledger/internal/records"
	"github.com/change-ledger/change-ledger/internal/schema"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

type invoice struct {
	ID    string
	Total int
}

type spyStore struct {
	saved    []*models.ChangeRecord
	saveErr  error
	entities map[string]any
	getErr   error
}

func (s *spyStore) SaveRecord(_ context.Context, rec *models.ChangeRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, rec)
	return nil
}

func (s *spyStore) GetEntity(_ context.Context, typeName, key string) (any, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.entities[typeName+"/"+key], nil
}

func (s *spyStore) holds(typeName, key string, entity any) {
	if s.entities == nil {
		s.entities = make(map[string]any)
	}
	s.entities[typeName+"/"+key] = entity
}

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	desc, err := schema.Infer[invoice]()
	if err != nil {
		t.Fatalf("Infer[invoice]: %v", err)
	}
	reg := schema.NewRegistry()
	reg.Register(invoice{}, desc)
	return reg
}

func testResolver() *actor.Resolver {
	return actor.NewResolver(
		func(context.Context) (string, error) { return "user-1", nil },
		func(context.Context) (string, error) { return "10.0.0.1", nil },
	)
}

func newTestRecorder(t *testing.T, cfg Config, store *spyStore, opts ...Option) *Recorder {
	t.Helper()
	return New(cfg, store, testRegistry(t), records.Default(), testResolver(), opts...)
}

// ---------------------------------------------------------------------------
// RecordSave
// ---------------------------------------------------------------------------

func TestRecordSave_UpdateDiffsAgainstStoredState(t *testing.T) {
	store := &spyStore{}
	store.holds("invoice", "inv-1", invoice{ID: "inv-1", Total: 100})
	r := newTestRecorder(t, Config{}, store)

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 150}, models.EventUpdate)
	if err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}

	rec := store.saved[0]
	if rec.Event != string(models.EventUpdate) {
		t.Errorf("Event = %q, want Update", rec.Event)
	}
	typ, key, ok := rec.Subject()
	if !ok || typ != "invoice" || key != "inv-1" {
		t.Errorf("Subject = (%q, %q, %v), want (invoice, inv-1, true)", typ, key, ok)
	}
	if rec.UserID == nil || *rec.UserID != "user-1" {
		t.Errorf("UserID = %v, want user-1", rec.UserID)
	}
	if rec.IP == nil || *rec.IP != "10.0.0.1" {
		t.Errorf("IP = %v, want 10.0.0.1", rec.IP)
	}

	d, err := diff.Decode(rec.Payload())
	if err != nil {
		t.Fatalf("Decode payload: %v", err)
	}
	chg, ok := d.Get("Total")
	if !ok {
		t.Fatal("payload missing the Total change")
	}
	if chg.Old != "100" || chg.New != "150" {
		t.Errorf("Total change = (%q -> %q), want (100 -> 150)", chg.Old, chg.New)
	}
	if d.Len() != 1 {
		t.Errorf("payload carries %d fields, want only the changed one", d.Len())
	}
}

func TestRecordSave_NoOpUpdateIsNotRecorded(t *testing.T) {
	store := &spyStore{}
	store.holds("invoice", "inv-1", invoice{ID: "inv-1", Total: 100})
	r := newTestRecorder(t, Config{}, store)

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 100}, models.EventUpdate)
	if err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records for an unchanged entity, want none", len(store.saved))
	}
}

func TestRecordSave_InsertPayloadIsOptIn(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	if err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 100}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}
	if store.saved[0].Payload() != "" {
		t.Errorf("insert payload = %q, want none by default", store.saved[0].Payload())
	}

	store = &spyStore{}
	r = newTestRecorder(t, Config{LogInsertPayload: true}, store)
	if err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 100}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	d, err := diff.Decode(store.saved[0].Payload())
	if err != nil {
		t.Fatalf("Decode payload: %v", err)
	}
	chg, ok := d.Get("Total")
	if !ok || chg.Old != "" || chg.New != "100" {
		t.Errorf("Total change = %+v, want empty old and new 100", chg)
	}
}

func TestRecordSave_HookCancelPreventsPersist(t *testing.T) {
	store := &spyStore{}
	store.holds("invoice", "inv-1", invoice{ID: "inv-1", Total: 100})
	r := newTestRecorder(t, Config{}, store)

	var sawRecord bool
	r.OnBeforeSave(func(_ context.Context, e *hooks.Event) {
		sawRecord = e.Record != nil
		e.Cancel()
	})

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 150}, models.EventUpdate)
	if err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if !sawRecord {
		t.Error("subscriber did not observe the in-progress record")
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records after cancellation, want none", len(store.saved))
	}
}

func TestRecordSave_HookEnrichesRecordInPlace(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)
	r.OnBeforeSave(func(_ context.Context, e *hooks.Event) {
		id := "impersonator"
		e.Record.UserID = &id
	})

	if err := r.RecordSave(context.Background(), invoice{ID: "inv-1"}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if store.saved[0].UserID == nil || *store.saved[0].UserID != "impersonator" {
		t.Errorf("UserID = %v, want the subscriber's value", store.saved[0].UserID)
	}
}

func TestRecordSave_InputValidation(t *testing.T) {
	r := newTestRecorder(t, Config{}, &spyStore{})

	if err := r.RecordSave(context.Background(), nil, models.EventInsert); !errors.Is(err, ErrNilEntity) {
		t.Errorf("nil entity: err = %v, want ErrNilEntity", err)
	}
	if err := r.RecordSave(context.Background(), invoice{ID: "x"}, models.EventDelete); err == nil {
		t.Error("RecordSave accepted a Delete kind")
	}
}

func TestRecordSave_UnregisteredTypeIsIgnored(t *testing.T) {
	type visitor struct{ ID string }
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	if err := r.RecordSave(context.Background(), visitor{ID: "v-1"}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records for an unregistered type, want none", len(store.saved))
	}
}

func TestRecordSave_DisabledFactoryIsNoOp(t *testing.T) {
	store := &spyStore{}
	factory := records.NewFactory()
	factory.Use(func() *models.ChangeRecord { return nil })
	r := New(Config{}, store, testRegistry(t), factory, testResolver())

	if err := r.RecordSave(context.Background(), invoice{ID: "inv-1"}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records with recording disabled, want none", len(store.saved))
	}
}

func TestRecordSave_PersistFailurePropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := newTestRecorder(t, Config{}, &spyStore{saveErr: storeErr})

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1"}, models.EventInsert)
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want the store error wrapped", err)
	}
}

func TestRecordSave_PriorStateFetchFailurePropagates(t *testing.T) {
	getErr := errors.New("replica lagging")
	r := newTestRecorder(t, Config{}, &spyStore{getErr: getErr})

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1", Total: 1}, models.EventUpdate)
	if !errors.Is(err, getErr) {
		t.Errorf("err = %v, want the fetch error wrapped", err)
	}
}

func TestRecordSave_AppendsToJournal(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	ctx, j := journal.With(context.Background())
	entity := invoice{ID: "inv-1", Total: 100}
	if err := r.RecordSave(ctx, entity, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}

	entries := j.Entries()
	if len(entries) != 1 {
		t.Fatalf("journal holds %d entries, want 1", len(entries))
	}
	if entries[0].Record != store.saved[0] {
		t.Error("journal entry does not reference the persisted record")
	}
	if got, ok := entries[0].Entity.(invoice); !ok || got != entity {
		t.Errorf("journal entity = %v, want the recorded entity", entries[0].Entity)
	}
}

func TestRecordSave_MissingResolverIsFatal(t *testing.T) {
	r := New(Config{}, &spyStore{}, testRegistry(t), records.Default(), actor.NewResolver(nil, nil))

	err := r.RecordSave(context.Background(), invoice{ID: "inv-1"}, models.EventInsert)
	if !errors.Is(err, actor.ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestRecordSave_ResolutionFailureLeavesActorUnknown(t *testing.T) {
	store := &spyStore{}
	failing := actor.NewResolver(
		func(context.Context) (string, error) { return "", errors.New("session expired") },
		func(context.Context) (string, error) { return "", errors.New("proxy stripped headers") },
	)
	r := New(Config{}, store, testRegistry(t), records.Default(), failing)

	if err := r.RecordSave(context.Background(), invoice{ID: "inv-1"}, models.EventInsert); err != nil {
		t.Fatalf("RecordSave: %v", err)
	}
	rec := store.saved[0]
	if rec.UserID != nil || rec.IP != nil {
		t.Errorf("actor fields = (%v, %v), want both null on resolution failure", rec.UserID, rec.IP)
	}
}

// ---------------------------------------------------------------------------
// RecordDelete
// ---------------------------------------------------------------------------

func TestRecordDelete_AttachesFullBeforeState(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	if err := r.RecordDelete(context.Background(), invoice{ID: "inv-1", Total: 150}); err != nil {
		t.Fatalf("RecordDelete: %v", err)
	}
	rec := store.saved[0]
	if rec.Event != string(models.EventDelete) {
		t.Errorf("Event = %q, want Delete", rec.Event)
	}

	d, err := diff.Decode(rec.Payload())
	if err != nil {
		t.Fatalf("Decode payload: %v", err)
	}
	chg, ok := d.Get("Total")
	if !ok || chg.Old != "150" || chg.New != "" {
		t.Errorf("Total change = %+v, want old 150 and empty new", chg)
	}
}

func TestRecordDelete_HookCancelPreventsPersist(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)
	r.OnBeforeDelete(func(_ context.Context, e *hooks.Event) { e.Cancel() })

	if err := r.RecordDelete(context.Background(), invoice{ID: "inv-1", Total: 150}); err != nil {
		t.Fatalf("RecordDelete: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records after cancellation, want none", len(store.saved))
	}
}

func TestRecordDelete_SaveHooksDoNotFire(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)
	r.OnBeforeSave(func(_ context.Context, e *hooks.Event) {
		t.Error("save subscriber fired on a delete")
	})

	if err := r.RecordDelete(context.Background(), invoice{ID: "inv-1"}); err != nil {
		t.Fatalf("RecordDelete: %v", err)
	}
}

func TestRecordDelete_NilEntity(t *testing.T) {
	r := newTestRecorder(t, Config{}, &spyStore{})
	if err := r.RecordDelete(context.Background(), nil); !errors.Is(err, ErrNilEntity) {
		t.Errorf("err = %v, want ErrNilEntity", err)
	}
}
