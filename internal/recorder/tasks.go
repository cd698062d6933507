// tasks.go records scheduled/background task outcomes.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

// Task outcome keys stored in ItemKey.
const (
	TaskSucceeded = "Successful"
	TaskFailed    = "Failed"
)

// RecordScheduledTask records the completion of a background task that
// started at start. taskErr nil marks the run successful; non-nil marks it
// failed and, after the task record is persisted, additionally records the
// error itself as an Exception entry identifying the task.
//
// Task records carry no actor: scheduled work runs as the system, not as a
// user.
func (r *Recorder) RecordScheduledTask(ctx context.Context, taskName string, start time.Time, taskErr error) error {
	rec, err := r.factory.New()
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	outcome := TaskSucceeded
	body := fmt.Sprintf("Elapsed time: %s", time.Since(start))
	if taskErr != nil {
		outcome = TaskFailed
		body += "\nError: " + taskErr.Error()
	}

	rec.SetSubject(taskName, outcome)
	rec.Event = string(models.EventScheduledTask)
	rec.Date = time.Now().UTC()
	rec.SetPayload(body)

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		return fmt.Errorf("recorder: persist Scheduled Task record for %q: %w", taskName, err)
	}
	telemetry.RecordsPersistedTotal.WithLabelValues(string(models.EventScheduledTask)).Inc()
	r.ship(rec)

	if taskErr != nil {
		r.RecordException(ctx, fmt.Sprintf("Scheduled task %q failed", taskName), taskErr)
	}
	return nil
}
