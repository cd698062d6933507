// infer.go builds Descriptors from entity struct types. All reflection happens
// here, once per type at registration; the resulting descriptor closures carry
// precomputed field indexes so the hot path never walks a type again.
package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Field selection, applied when a descriptor is inferred from a struct type:
//
//   - unexported fields are excluded (not settable from outside the package)
//   - the identity field is excluded from the diffable field set
//   - fields tagged `audit:"-"` are excluded (not loggable by policy)
//   - func- and chan-typed fields are excluded (derived/computed projections)
//   - embedded struct fields contribute their promoted fields; when a name is
//     declared at multiple embedding depths the most-derived declaration wins
//     (standard Go field promotion rules)

// InferOption customizes Infer.
type InferOption func(*inferConfig)

type inferConfig struct {
	typeName string
	keyField string
}

// WithTypeName overrides the descriptor's TypeName (default: the struct name).
func WithTypeName(name string) InferOption {
	return func(c *inferConfig) { c.typeName = name }
}

// WithKeyField names the identity field (default: "ID", or the field tagged
// `audit:"key"`).
func WithKeyField(name string) InferOption {
	return func(c *inferConfig) { c.keyField = name }
}

// Infer builds a Descriptor for the struct type T by inspecting its fields
// once. T must be a struct type; entities are handled as *T.
func Infer[T any](opts ...InferOption) (*Descriptor, error) {
	var cfg inferConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: cannot infer descriptor for non-struct type %s", t)
	}

	typeName := cfg.typeName
	if typeName == "" {
		typeName = t.Name()
	}

	visible := reflect.VisibleFields(t)

	// Resolve the identity field first: explicit option, then `audit:"key"`
	// tag, then a field named ID.
	keyName := cfg.keyField
	if keyName == "" {
		for _, sf := range visible {
			if sf.Tag.Get("audit") == "key" {
				keyName = sf.Name
				break
			}
		}
	}
	if keyName == "" {
		if _, ok := t.FieldByName("ID"); ok {
			keyName = "ID"
		}
	}

	var keyField *reflect.StructField
	fields := make([]Field, 0, t.NumField())

	for _, sf := range visible {
		sf := sf
		if sf.Anonymous {
			continue // the embedded struct itself; its promoted fields follow
		}
		if sf.PkgPath != "" {
			continue // unexported
		}
		if sf.Name == keyName {
			keyField = &sf
			continue
		}
		if sf.Tag.Get("audit") == "-" {
			continue
		}
		switch sf.Type.Kind() {
		case reflect.Func, reflect.Chan:
			continue
		}

		index := sf.Index
		fields = append(fields, Field{
			Name:     sf.Name,
			Loggable: true,
			Get: func(entity any) (string, error) {
				v, err := fieldByIndex(entity, index)
				if err != nil {
					return "", err
				}
				return stringify(v), nil
			},
			Set: setterFor(sf.Type, index),
		})
	}

	if keyField == nil {
		return nil, fmt.Errorf("schema: type %s has no identity field (name one ID, tag one audit:\"key\", or use WithKeyField)", t)
	}

	keyIndex := keyField.Index
	keySetter := setterFor(keyField.Type, keyIndex)

	return &Descriptor{
		TypeName: typeName,
		Loggable: true,
		Key: func(entity any) string {
			v, err := fieldByIndex(entity, keyIndex)
			if err != nil {
				return ""
			}
			return stringify(v)
		},
		SetKey: keySetter,
		New:    func() any { return reflect.New(t).Interface() },
		Fields: fields,
	}, nil
}

// fieldByIndex resolves a (possibly promoted) field on an entity passed as
// either T or *T. Values resolved from a non-pointer entity are readable but
// not settable.
func fieldByIndex(entity any, index []int) (reflect.Value, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("schema: entity must not be a nil pointer")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("schema: entity must be a struct or struct pointer, got %T", entity)
	}
	for _, i := range index {
		if v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, fmt.Errorf("schema: nil embedded struct on path to field")
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v, nil
}

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// stringify renders a field value the way it is stored in audit payloads.
// Zero times, nil pointers, and empty collections render as "", the canonical
// "no information" value that keeps them out of diffs.
func stringify(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}

	switch {
	case v.Type() == timeType:
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	case v.Type() == uuidType:
		return v.Interface().(uuid.UUID).String()
	}

	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32)
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	case reflect.Slice, reflect.Array:
		return joinSequence(v)
	default:
		if s, ok := v.Interface().(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprint(v.Interface())
	}
}

// joinSequence flattens a collection-valued field into one string. Identifier
// lists (integer or UUID elements) join with ","; general sequences with ", ".
func joinSequence(v reflect.Value) string {
	if v.Kind() == reflect.Slice && v.IsNil() {
		return ""
	}
	if v.Type().Elem().Kind() == reflect.Uint8 {
		return string(v.Bytes())
	}

	sep := ", "
	switch v.Type().Elem().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sep = ","
	default:
		if v.Type().Elem() == uuidType {
			sep = ","
		}
	}

	parts := make([]string, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		parts = append(parts, stringify(v.Index(i)))
	}
	return strings.Join(parts, sep)
}

// setterFor returns a closure that coerces payload text back into the field's
// declared type. Returns nil for types reconstruction cannot write back.
func setterFor(t reflect.Type, index []int) func(entity any, text string) error {
	coerce := coercerFor(t)
	if coerce == nil {
		return nil
	}
	return func(entity any, text string) error {
		v, err := fieldByIndex(entity, index)
		if err != nil {
			return err
		}
		if !v.CanSet() {
			return fmt.Errorf("schema: field is not settable")
		}
		value, err := coerce(text)
		if err != nil {
			return err
		}
		v.Set(value)
		return nil
	}
}

func coercerFor(t reflect.Type) func(text string) (reflect.Value, error) {
	if t.Kind() == reflect.Ptr {
		inner := coercerFor(t.Elem())
		if inner == nil {
			return nil
		}
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			v, err := inner(text)
			if err != nil {
				return reflect.Value{}, err
			}
			p := reflect.New(t.Elem())
			p.Elem().Set(v)
			return p, nil
		}
	}

	switch {
	case t == timeType:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			parsed, err := time.Parse(time.RFC3339, text)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(parsed), nil
		}
	case t == uuidType:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			id, err := uuid.Parse(text)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(id), nil
		}
	}

	switch t.Kind() {
	case reflect.String:
		return func(text string) (reflect.Value, error) {
			return reflect.ValueOf(text).Convert(t), nil
		}
	case reflect.Bool:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			b, err := strconv.ParseBool(text)
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b).Convert(t), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			n, err := strconv.ParseInt(text, 10, t.Bits())
			if err != nil {
				return reflect.Value{}, err
			}
			v := reflect.New(t).Elem()
			v.SetInt(n)
			return v, nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			n, err := strconv.ParseUint(text, 10, t.Bits())
			if err != nil {
				return reflect.Value{}, err
			}
			v := reflect.New(t).Elem()
			v.SetUint(n)
			return v, nil
		}
	case reflect.Float32, reflect.Float64:
		return func(text string) (reflect.Value, error) {
			if text == "" {
				return reflect.Zero(t), nil
			}
			f, err := strconv.ParseFloat(text, t.Bits())
			if err != nil {
				return reflect.Value{}, err
			}
			v := reflect.New(t).Elem()
			v.SetFloat(f)
			return v, nil
		}
	}
	return nil
}
