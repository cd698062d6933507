// Package schema holds per-entity-type descriptors used by the audit engine.
//
// A Descriptor is the explicit, registration-time answer to every question the
// engine would otherwise have to ask an entity at runtime: what is this type
// called, which of its fields are loggable and in what order, how do we read a
// field as text, how do we write one back during reconstruction, and how do we
// get the entity's identity as a string. Descriptors are built once when an
// entity type is registered (usually via Infer) and are immutable afterwards,
// so the registry can be read concurrently without locking beyond the map.
package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Field describes one loggable field of an entity type.
type Field struct {
	Name     string
	Loggable bool

	// Get returns the field's current value as text. It is only invoked on
	// entities of the descriptor's type.
	Get func(entity any) (string, error)

	// Set coerces text back into the field's declared type and assigns it.
	// Used by reconstruction; nil for fields that cannot be written back.
	Set func(entity any, text string) error
}

// Descriptor describes one registered entity type.
type Descriptor struct {
	// TypeName is the name stored in ChangeRecord.ItemType.
	TypeName string

	// Loggable is the per-type policy switch: when false, save and delete
	// operations on entities of this type are not audited at all.
	Loggable bool

	// Key returns the entity's identity as a string.
	Key func(entity any) string

	// SetKey assigns the identity field; used when synthesizing an entity
	// from a Delete record.
	SetKey func(entity any, key string) error

	// New allocates a fresh instance (pointer) of the entity type.
	New func() any

	// Fields lists the loggable fields in declaration order.
	Fields []Field
}

// Field returns the named field, or ok=false when the descriptor has no
// loggable field by that name.
func (d *Descriptor) Field(name string) (*Field, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// FieldValue is one (name, stringified value) pair of a Snapshot.
type FieldValue struct {
	Name  string
	Value string
}

// Snapshot is the ordered set of loggable field values of one entity instance
// at one point in time. Values are already stringified.
type Snapshot struct {
	Fields []FieldValue
}

// Snapshot captures the entity's loggable fields. A field whose getter fails
// or panics is skipped; a single unreadable field never aborts the snapshot.
func (d *Descriptor) Snapshot(entity any) *Snapshot {
	s := &Snapshot{Fields: make([]FieldValue, 0, len(d.Fields))}
	for i := range d.Fields {
		f := &d.Fields[i]
		if !f.Loggable {
			continue
		}
		value, err := readField(f, entity)
		if err != nil {
			continue
		}
		s.Fields = append(s.Fields, FieldValue{Name: f.Name, Value: value})
	}
	return s
}

func readField(f *Field, entity any) (value string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read field %s: %v", f.Name, r)
		}
	}()
	return f.Get(entity)
}

// Registry maps entity types to their descriptors. Registration happens once
// at startup; lookups are concurrent-safe.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Descriptor
	byType map[reflect.Type]*Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Descriptor),
		byType: make(map[reflect.Type]*Descriptor),
	}
}

// Register adds a descriptor for the entity type of prototype. prototype may
// be the entity struct or a pointer to it; both shapes resolve to the same
// descriptor on lookup. Registering the same type or name twice overwrites
// the previous descriptor.
func (r *Registry) Register(prototype any, d *Descriptor) {
	t := structTypeOf(prototype)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[d.TypeName] = d
	r.byType[t] = d
}

// For returns the descriptor for the entity's concrete type, whether the
// entity is passed by value or by pointer.
func (r *Registry) For(entity any) (*Descriptor, bool) {
	t := structTypeOf(entity)
	if t == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[t]
	return d, ok
}

func structTypeOf(v any) reflect.Type {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// ByName returns the descriptor registered under the given type name.
func (r *Registry) ByName(typeName string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[typeName]
	return d, ok
}
