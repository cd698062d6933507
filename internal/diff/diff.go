// Package diff computes and encodes field-level change sets between two
// snapshots of one entity. A FieldDiff is the minimal description of what an
// operation changed: an ordered, name-unique list of (old, new) text pairs.
// The empty diff is the canonical "nothing changed" signal and encodes to "".
package diff

import (
	"github.com/change-ledger/change-ledger/internal/schema"
)

// FieldChange is one changed field with its stringified values.
type FieldChange struct {
	Name string
	Old  string
	New  string
}

// FieldDiff is an ordered mapping from field name to (old, new) value text.
// Field names are unique; order is preserved as encountered.
type FieldDiff struct {
	changes []FieldChange
	index   map[string]int
}

// New returns an empty FieldDiff.
func New() *FieldDiff {
	return &FieldDiff{index: make(map[string]int)}
}

// Add records a change for the named field. Adding a name that is already
// present overwrites its values in place, keeping the original position.
func (d *FieldDiff) Add(name, oldValue, newValue string) {
	if i, ok := d.index[name]; ok {
		d.changes[i].Old = oldValue
		d.changes[i].New = newValue
		return
	}
	d.index[name] = len(d.changes)
	d.changes = append(d.changes, FieldChange{Name: name, Old: oldValue, New: newValue})
}

// Changes returns the changed fields in insertion order.
func (d *FieldDiff) Changes() []FieldChange {
	return d.changes
}

// Get returns the change for the named field.
func (d *FieldDiff) Get(name string) (FieldChange, bool) {
	i, ok := d.index[name]
	if !ok {
		return FieldChange{}, false
	}
	return d.changes[i], true
}

// Len returns the number of changed fields.
func (d *FieldDiff) Len() int { return len(d.changes) }

// Empty reports whether the diff has no surviving fields.
func (d *FieldDiff) Empty() bool { return len(d.changes) == 0 }

// Compute diffs two snapshots of the same entity type. A nil before is a pure
// insert (all old values empty); a nil after is a pure delete (all new values
// empty). A field survives into the diff only when its old and new text
// differ; fields equal on both sides carry no information and are dropped,
// which makes "before == after" produce the empty diff.
func Compute(before, after *schema.Snapshot) *FieldDiff {
	d := New()

	oldValues := make(map[string]string)
	if before != nil {
		for _, f := range before.Fields {
			oldValues[f.Name] = f.Value
		}
	}

	if after != nil {
		seen := make(map[string]bool, len(after.Fields))
		for _, f := range after.Fields {
			seen[f.Name] = true
			if oldValues[f.Name] != f.Value {
				d.Add(f.Name, oldValues[f.Name], f.Value)
			}
		}
		// Fields present before but gone after (policy changes between
		// snapshots); their new value is empty.
		if before != nil {
			for _, f := range before.Fields {
				if !seen[f.Name] && f.Value != "" {
					d.Add(f.Name, f.Value, "")
				}
			}
		}
		return d
	}

	// Pure delete: every non-empty old value is a change to empty.
	if before != nil {
		for _, f := range before.Fields {
			if f.Value != "" {
				d.Add(f.Name, f.Value, "")
			}
		}
	}
	return d
}
