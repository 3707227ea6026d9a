package fedkit

import (
	"fmt"
	"unicode/utf8"

	"github.com/simfed/fedkit/codec"
)

func hasUnsafeChars(text string) bool {
	for _, l := range text {
		if l < ' ' {
			return true
		}
	}
	return false
}

// Field declares one attribute or parameter of a record type: a structural
// name plus a wire type from the codec's closed set. Declarations come from
// generated code (or hand-written prototypes) instead of being inferred at
// runtime; there is no reflective discovery anywhere.
type Field struct {
	Name string
	Type codec.Type
}

func (f Field) Valid() bool {
	return len(f.Name) > 0 && utf8.ValidString(f.Name) && !hasUnsafeChars(f.Name) && f.Type.Valid()
}

type Fields []Field

func (f Fields) Find(name string) (ndx int) {
	for i := 0; i < len(f); i++ {
		if f[i].Name == name {
			return i
		}
	}
	return -1
}

func (f Fields) Names() []string {
	names := make([]string, len(f))
	for i := range f {
		names[i] = f[i].Name
	}
	return names
}

// Record is one instance of a structural type: an ordered field declaration
// plus per-field current value and dirty flag. Set is the only mutation
// path, and it always flags the field dirty; nothing else can touch the
// stored values, so a change can never go untracked.
//
// Records are not safe for concurrent use; one record represents one update
// cycle's accumulated changes.
type Record struct {
	class  string
	decl   Fields
	values []codec.Value
	dirty  []bool

	// Anomaly, when set, receives every recoverable per-field failure
	// (unknown incoming field, undecodable bytes). Failures never abort
	// processing of the remaining fields.
	Anomaly func(field string, err error)
}

// NewRecord declares a record instance. Field names must be unique and
// valid; the declaration is fixed for the record's lifetime.
func NewRecord(class string, decl Fields) (*Record, error) {
	if len(class) == 0 || hasUnsafeChars(class) {
		return nil, fmt.Errorf("%w: class %q", ErrBadDeclaration, class)
	}
	for i, f := range decl {
		if !f.Valid() {
			return nil, fmt.Errorf("%w: field %q", ErrBadDeclaration, f.Name)
		}
		if decl[:i].Find(f.Name) != -1 {
			return nil, fmt.Errorf("%w: duplicate field %q", ErrBadDeclaration, f.Name)
		}
	}
	return &Record{
		class:  class,
		decl:   decl,
		values: make([]codec.Value, len(decl)),
		dirty:  make([]bool, len(decl)),
	}, nil
}

// Class is the structural type name used for registry lookups.
func (r *Record) Class() string { return r.class }

func (r *Record) Declaration() Fields { return r.decl }

func (r *Record) FieldNames() []string { return r.decl.Names() }

// Set stores a value and marks the field dirty. The value's type must match
// the field's declaration exactly; there is no implicit coercion.
func (r *Record) Set(name string, v codec.Value) error {
	ndx := r.decl.Find(name)
	if ndx == -1 {
		return fmt.Errorf("%w: %s.%s", ErrUnknownField, r.class, name)
	}
	if v.Type() != r.decl[ndx].Type {
		return fmt.Errorf("%w: %s.%s is %s, got %s",
			ErrValueType, r.class, name, r.decl[ndx].Type, v.Type())
	}
	r.values[ndx] = v
	r.dirty[ndx] = true
	return nil
}

// Get returns the current value of a field; ok is false when the field is
// undeclared or has never been set.
func (r *Record) Get(name string) (v codec.Value, ok bool) {
	ndx := r.decl.Find(name)
	if ndx == -1 || r.values[ndx].Kind() == codec.None {
		return codec.Value{}, false
	}
	return r.values[ndx], true
}

// IsSet reports whether the field is currently flagged dirty.
func (r *Record) IsSet(name string) bool {
	ndx := r.decl.Find(name)
	return ndx != -1 && r.dirty[ndx]
}

// DirtyFields lists the dirty field names in declaration order.
func (r *Record) DirtyFields() []string {
	var names []string
	for i := range r.decl {
		if r.dirty[i] {
			names = append(names, r.decl[i].Name)
		}
	}
	return names
}

// EncodeDirty encodes every dirty field; clean fields are omitted entirely.
// An empty map means "nothing to transmit", not an error. A field that fails
// to encode is reported and skipped.
func (r *Record) EncodeDirty() map[string][]byte {
	out := make(map[string][]byte)
	for i := range r.decl {
		if !r.dirty[i] {
			continue
		}
		b, err := codec.Encode(r.values[i])
		if err != nil {
			r.report(r.decl[i].Name, err)
			continue
		}
		out[r.decl[i].Name] = b
	}
	return out
}

// ApplyIncoming decodes each entry against its declared type and sets it,
// which also marks it dirty. Unknown field names and undecodable values are
// reported and skipped; the rest of the map is always processed. Applying
// the same map twice yields the same final state.
func (r *Record) ApplyIncoming(values map[string][]byte) {
	for _, f := range r.decl {
		b, ok := values[f.Name]
		if !ok {
			continue
		}
		v, err := codec.Decode(b, f.Type)
		if err != nil {
			r.report(f.Name, err)
			continue
		}
		_ = r.Set(f.Name, v)
	}
	for name := range values {
		if r.decl.Find(name) == -1 {
			r.report(name, fmt.Errorf("%w: %s.%s", ErrUnknownField, r.class, name))
		}
	}
}

// ResetDirty clears all dirty flags, leaving values in place. The owning
// session calls this exactly once per successful outbound transmission.
func (r *Record) ResetDirty() {
	for i := range r.dirty {
		r.dirty[i] = false
	}
}

func (r *Record) report(field string, err error) {
	if r.Anomaly != nil {
		r.Anomaly(field, err)
	}
}

// ObjectRecord represents a federate-owned object's attribute set, keyed by
// its object class name in the federation object model.
type ObjectRecord struct {
	Record
}

func NewObjectRecord(className string, decl Fields) (*ObjectRecord, error) {
	r, err := NewRecord(className, decl)
	if err != nil {
		return nil, err
	}
	return &ObjectRecord{Record: *r}, nil
}

func (o *ObjectRecord) ClassName() string { return o.class }

// InteractionRecord represents a one-shot event's parameter set, keyed by
// its interaction class name.
type InteractionRecord struct {
	Record
}

func NewInteractionRecord(name string, decl Fields) (*InteractionRecord, error) {
	r, err := NewRecord(name, decl)
	if err != nil {
		return nil, err
	}
	return &InteractionRecord{Record: *r}, nil
}

func (i *InteractionRecord) InteractionName() string { return i.class }
