// Package models - change_record.go defines the ChangeRecord model, the persisted
// audit-trail entry describing one logged operation: what kind of event occurred,
// which entity it affected, who triggered it and from where, and the encoded
// field-level change payload.
package models

import "time"

// EventKind classifies a ChangeRecord.
type EventKind string

const (
	EventInsert        EventKind = "Insert"
	EventUpdate        EventKind = "Update"
	EventDelete        EventKind = "Delete"
	EventScheduledTask EventKind = "Scheduled Task"
	EventException     EventKind = "Exception"
)

// ChangeRecord represents one audit-trail entry. A record is constructed fresh
// per operation and never mutated after it has been persisted.
//
// ItemType and ItemKey are set together or not at all: free-form log entries
// (see recorder.Log) may omit the subject entirely.
type ChangeRecord struct {
	ID       string    `db:"id"`
	ItemType *string   `db:"item_type"` // Nullable for free-form entries
	ItemKey  *string   `db:"item_key"`
	Event    string    `db:"event"`   // EventKind value or a free-form title
	IP       *string   `db:"ip"`      // Caller network origin
	UserID   *string   `db:"user_id"` // Nullable for system actions
	Date     time.Time `db:"date"`
	Data     *string   `db:"data"` // Encoded field diff or free text
}

// SetSubject sets ItemType and ItemKey as a pair, preserving the invariant
// that they are never set independently.
func (r *ChangeRecord) SetSubject(itemType, itemKey string) {
	r.ItemType = &itemType
	r.ItemKey = &itemKey
}

// Subject returns the record's subject type and key. ok is false when the
// record has no subject (free-form entries).
func (r *ChangeRecord) Subject() (itemType, itemKey string, ok bool) {
	if r.ItemType == nil || r.ItemKey == nil {
		return "", "", false
	}
	return *r.ItemType, *r.ItemKey, true
}

// SetPayload sets Data, treating the empty string as "no payload".
func (r *ChangeRecord) SetPayload(payload string) {
	if payload == "" {
		r.Data = nil
		return
	}
	r.Data = &payload
}

// Payload returns the record's Data, or "" when absent.
func (r *ChangeRecord) Payload() string {
	if r.Data == nil {
		return ""
	}
	return *r.Data
}
