// exception.go implements exception recording. This path is typically entered
// from inside another failure path, so it is the one place in the engine where
// even persistence errors are swallowed entirely: a broken log sink must not
// cascade into the error handling that is already in progress.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

// chainDivider separates entries of the unwrapped cause chain in the record
// body.
const chainDivider = "\n----------------------------------------\n"

// RecordException records cause as an Exception entry and returns the record,
// or nil when nothing was recorded. It never returns an error and never
// panics, for any input: a nil cause, a cause whose formatting panics, a
// five-deep cause chain, or a store that itself fails.
//
// Nothing is recorded when exception logging is disabled by configuration, or
// when the cause chain contains one of the configured suppressed error types
// (the sentinel for "the persistence layer itself is broken; do not try to
// log through it").
func (r *Recorder) RecordException(ctx context.Context, description string, cause error) (rec *models.ChangeRecord) {
	defer func() {
		if p := recover(); p != nil {
			slog.Debug("audit: exception recording panicked", "panic", p)
			rec = nil
		}
	}()

	if cause == nil || !r.cfg.ExceptionLoggingEnabled {
		return nil
	}
	if r.suppressed(cause) {
		return nil
	}

	var b strings.Builder
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n")
	}
	b.WriteString(cause.Error())
	b.WriteString("\n\n")
	b.Write(debug.Stack())
	for inner := errors.Unwrap(cause); inner != nil; inner = errors.Unwrap(inner) {
		b.WriteString(chainDivider)
		fmt.Fprintf(&b, "%T: %s", inner, inner.Error())
	}

	var userID *string
	if id, err := r.actors.CurrentUserID(ctx); err == nil && id != "" {
		userID = &id
		fmt.Fprintf(&b, "\n\nUser: %s", id)
	}

	rec, err := r.factory.New()
	if err != nil || rec == nil {
		return nil
	}
	rec.Event = string(models.EventException)
	rec.Date = time.Now().UTC()
	rec.UserID = userID
	rec.SetPayload(b.String())

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		telemetry.ExceptionRecordFailuresTotal.Inc()
		slog.Debug("audit: persisting exception record failed", "error", err)
		return rec
	}
	telemetry.RecordsPersistedTotal.WithLabelValues(string(models.EventException)).Inc()
	r.ship(rec)
	return rec
}

// suppressed reports whether err or anything it wraps is one of the
// configured suppressed error types, compared by %T name.
func (r *Recorder) suppressed(err error) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		name := fmt.Sprintf("%T", e)
		for _, s := range r.cfg.SuppressedErrorTypes {
			if name == s {
				return true
			}
		}
	}
	return false
}
