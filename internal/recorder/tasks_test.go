package recorder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRecordScheduledTask_Success(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{ExceptionLoggingEnabled: true}, store)

	start := time.Now().Add(-250 * time.Millisecond)
	if err := r.RecordScheduledTask(context.Background(), "prune-sessions", start, nil); err != nil {
		t.Fatalf("RecordScheduledTask: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}

	rec := store.saved[0]
	if rec.Event != "Scheduled Task" {
		t.Errorf("Event = %q, want Scheduled Task", rec.Event)
	}
	typ, key, ok := rec.Subject()
	if !ok || typ != "prune-sessions" || key != TaskSucceeded {
		t.Errorf("Subject = (%q, %q, %v), want (prune-sessions, %s, true)", typ, key, ok, TaskSucceeded)
	}
	if !strings.HasPrefix(rec.Payload(), "Elapsed time: ") {
		t.Errorf("body = %q, want an elapsed time line", rec.Payload())
	}
	if rec.UserID != nil {
		t.Errorf("UserID = %v, want null for system work", rec.UserID)
	}
}

func TestRecordScheduledTask_FailureRecordsException(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{ExceptionLoggingEnabled: true}, store)

	taskErr := errors.New("upstream unavailable")
	if err := r.RecordScheduledTask(context.Background(), "sync-rates", time.Now(), taskErr); err != nil {
		t.Fatalf("RecordScheduledTask: %v", err)
	}
	if len(store.saved) != 2 {
		t.Fatalf("saved %d records, want the task record and the exception record", len(store.saved))
	}

	task := store.saved[0]
	if _, key, _ := task.Subject(); key != TaskFailed {
		t.Errorf("ItemKey = %q, want %s", key, TaskFailed)
	}
	if !strings.Contains(task.Payload(), "Error: upstream unavailable") {
		t.Errorf("body = %q, want the task error", task.Payload())
	}

	exc := store.saved[1]
	if exc.Event != "Exception" {
		t.Errorf("follow-up Event = %q, want Exception", exc.Event)
	}
	if !strings.Contains(exc.Payload(), "sync-rates") {
		t.Error("exception body does not identify the failed task")
	}
}

func TestRecordScheduledTask_FailureWithoutExceptionLogging(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	if err := r.RecordScheduledTask(context.Background(), "sync-rates", time.Now(), errors.New("boom")); err != nil {
		t.Fatalf("RecordScheduledTask: %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d records, want only the task record", len(store.saved))
	}
}

func TestRecordScheduledTask_PersistFailurePropagates(t *testing.T) {
	storeErr := errors.New("connection refused")
	r := newTestRecorder(t, Config{ExceptionLoggingEnabled: true}, &spyStore{saveErr: storeErr})

	err := r.RecordScheduledTask(context.Background(), "prune-sessions", time.Now(), nil)
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want the store error wrapped", err)
	}
}
