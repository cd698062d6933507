package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/change-ledger/change-ledger/internal/actor"
	"github.com/change-ledger/change-ledger/internal/records"
)

// flakyError's Error method panics, standing in for a misbehaving error type
// from a third-party library.
type flakyError struct{}

func (flakyError) Error() string { panic("error formatting exploded") }

// sentinelError stands in for a persistence-layer failure type that exception
// recording is configured to suppress.
type sentinelError struct{ msg string }

func (e *sentinelError) Error() string { return e.msg }

func exceptionConfig() Config {
	return Config{
		ExceptionLoggingEnabled: true,
		SuppressedErrorTypes:    []string{"*recorder.sentinelError"},
	}
}

func TestRecordException_RecordsCauseChain(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, exceptionConfig(), store)

	inner := errors.New("disk full")
	mid := fmt.Errorf("flush buffer: %w", inner)
	cause := fmt.Errorf("export report: %w", mid)

	rec := r.RecordException(context.Background(), "nightly export", cause)
	if rec == nil {
		t.Fatal("RecordException returned nil for a recordable cause")
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d records, want 1", len(store.saved))
	}
	if rec.Event != "Exception" {
		t.Errorf("Event = %q, want Exception", rec.Event)
	}
	if _, _, ok := rec.Subject(); ok {
		t.Error("exception record has a subject, want none")
	}

	body := rec.Payload()
	for _, want := range []string{
		"nightly export",
		"export report: flush buffer: disk full",
		"*fmt.wrapError: flush buffer: disk full",
		"*errors.errorString: disk full",
		"User: user-1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if !strings.Contains(body, "goroutine") {
		t.Error("body missing the stack trace")
	}
}

func TestRecordException_NilCause(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, exceptionConfig(), store)

	if rec := r.RecordException(context.Background(), "oops", nil); rec != nil {
		t.Errorf("rec = %v, want nil for a nil cause", rec)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records, want none", len(store.saved))
	}
}

func TestRecordException_Disabled(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, Config{}, store)

	if rec := r.RecordException(context.Background(), "oops", errors.New("boom")); rec != nil {
		t.Errorf("rec = %v, want nil when exception logging is disabled", rec)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records, want none", len(store.saved))
	}
}

func TestRecordException_SuppressedTypeAnywhereInChain(t *testing.T) {
	store := &spyStore{}
	r := newTestRecorder(t, exceptionConfig(), store)

	direct := &sentinelError{msg: "connection refused"}
	wrapped := fmt.Errorf("save audit record: %w", direct)

	if rec := r.RecordException(context.Background(), "", direct); rec != nil {
		t.Error("recorded a directly suppressed error")
	}
	if rec := r.RecordException(context.Background(), "", wrapped); rec != nil {
		t.Error("recorded a wrapped suppressed error")
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d records, want none", len(store.saved))
	}
}

func TestRecordException_NeverPanicsOrErrors(t *testing.T) {
	// Panicking cause formatting is swallowed by the recovery guard.
	r := newTestRecorder(t, exceptionConfig(), &spyStore{})
	if rec := r.RecordException(context.Background(), "", flakyError{}); rec != nil {
		t.Errorf("rec = %v, want nil after a formatting panic", rec)
	}
}

func TestRecordException_PersistFailureIsSwallowed(t *testing.T) {
	r := newTestRecorder(t, exceptionConfig(), &spyStore{saveErr: errors.New("write timeout")})

	rec := r.RecordException(context.Background(), "oops", errors.New("boom"))
	if rec == nil {
		t.Error("rec = nil, want the built record even when persistence failed")
	}
}

func TestRecordException_ActorIsBestEffort(t *testing.T) {
	store := &spyStore{}
	failing := actor.NewResolver(
		func(context.Context) (string, error) { return "", errors.New("session expired") },
		nil,
	)
	r := New(exceptionConfig(), store, testRegistry(t), records.Default(), failing)

	rec := r.RecordException(context.Background(), "oops", errors.New("boom"))
	if rec == nil {
		t.Fatal("RecordException returned nil")
	}
	if rec.UserID != nil {
		t.Errorf("UserID = %v, want null when resolution fails", rec.UserID)
	}
	if strings.Contains(rec.Payload(), "User:") {
		t.Error("body names a user despite failed resolution")
	}
}
