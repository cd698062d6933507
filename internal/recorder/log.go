// log.go implements the free-form entry point: arbitrary titled events
// ("Login", "Export started") that are not tied to an entity mutation.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/change-ledger/change-ledger/internal/actor"
	"github.com/change-ledger/change-ledger/internal/db/models"
	"github.com/change-ledger/change-ledger/internal/telemetry"
)

// LogOption customizes a free-form log entry.
type LogOption func(*logOptions)

type logOptions struct {
	owner  any
	userID *string
	userIP *string
}

// WithOwner attaches the entry to an entity: the record's subject type and
// key are taken from the owner's registered descriptor.
func WithOwner(entity any) LogOption {
	return func(o *logOptions) { o.owner = entity }
}

// WithUser sets the user id explicitly instead of resolving it.
func WithUser(id string) LogOption {
	return func(o *logOptions) { o.userID = &id }
}

// WithUserIP sets the caller origin explicitly instead of resolving it.
func WithUserIP(ip string) LogOption {
	return func(o *logOptions) { o.userIP = &ip }
}

// Log records a free-form entry. title becomes the record's Event and must
// not be empty; details becomes the payload. User id and IP default to the
// ambient actor resolver when not supplied, with resolution failures logged
// at debug level and treated as unknown.
//
// Log is a best-effort path: beyond input validation and configuration
// errors, it never surfaces a failure; a store error is logged at warn level
// and the call returns (nil, nil).
func (r *Recorder) Log(ctx context.Context, title, details string, opts ...LogOption) (*models.ChangeRecord, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrEmptyTitle
	}

	var o logOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec, err := r.factory.New()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	rec.Event = title
	rec.Date = time.Now().UTC()
	if details != "" {
		rec.SetPayload(details)
	}

	if o.owner != nil {
		desc, ok := r.schemas.For(o.owner)
		if !ok {
			return nil, fmt.Errorf("recorder: owner type %T is not registered", o.owner)
		}
		rec.SetSubject(desc.TypeName, desc.Key(o.owner))
	}

	if o.userID != nil {
		rec.UserID = o.userID
	} else {
		id, err := r.actors.CurrentUserID(ctx)
		switch {
		case errors.Is(err, actor.ErrNotConfigured):
			return nil, err
		case err != nil:
			slog.Debug("audit: user identity resolution failed", "error", err)
		case id != "":
			rec.UserID = &id
		}
	}

	if o.userIP != nil {
		rec.IP = o.userIP
	} else {
		ip, err := r.actors.CurrentUserIP(ctx)
		switch {
		case errors.Is(err, actor.ErrNotConfigured):
			return nil, err
		case err != nil:
			slog.Debug("audit: caller origin resolution failed", "error", err)
		case ip != "":
			rec.IP = &ip
		}
	}

	if err := r.store.SaveRecord(ctx, rec); err != nil {
		slog.Warn("audit: persisting log entry failed", "title", title, "error", err)
		return nil, nil
	}
	telemetry.RecordsPersistedTotal.WithLabelValues("Custom").Inc()
	r.ship(rec)
	return rec, nil
}
