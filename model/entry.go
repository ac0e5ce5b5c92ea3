package model

import "github.com/epokhe/binlog/serializer"

// Entry is an ordered mapping from field name to domain value, carrying
// the two metadata attributes spec.md §3 requires: Pk (unique, monotone
// non-decreasing) and Saved. Once Saved is true, Pk must not change.
type Entry struct {
	Pk     uint64
	Saved  bool
	Fields map[string]any
}

// New constructs an unsaved entry from a set of field values. Pk is
// meaningless until Saved becomes true.
func New(fields map[string]any) *Entry {
	cp := make(map[string]any, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return &Entry{Fields: cp}
}

// Get returns the value stored under name, and whether it was present.
// A missing field is the entry-level ⊥ spec.md §3/§4.E refers to for
// index maintenance.
func (e *Entry) Get(name string) (any, bool) {
	v, ok := e.Fields[name]
	return v, ok
}

// Clone makes a copy of the entry with its own fields map, so mutating
// the copy's fields does not reach back into the original.
func (e *Entry) Clone() *Entry {
	cp := &Entry{Pk: e.Pk, Saved: e.Saved, Fields: make(map[string]any, len(e.Fields))}
	for k, v := range e.Fields {
		cp.Fields[k] = v
	}
	return cp
}

// MarkSaved assigns pk and flips Saved, matching the source's
// entry.mark_as_saved(pk).
func (e *Entry) MarkSaved(pk uint64) {
	e.Pk = pk
	e.Saved = true
}

var objectSerializer = serializer.Object{}

// EncodeFields serializes just the field map, the part of an entry that
// is actually stored under its pk in the entries sub-database; Pk is the
// key, and Saved is implied by being stored at all.
func EncodeFields(fields map[string]any) ([]byte, error) {
	v := make(map[string]any, len(fields))
	for k, val := range fields {
		v[k] = val
	}
	return objectSerializer.DBValue(v)
}

// DecodeFields is the inverse of EncodeFields.
func DecodeFields(b []byte) (map[string]any, error) {
	v, err := objectSerializer.GoValue(b)
	if err != nil {
		return nil, err
	}
	m, _ := v.(map[string]any)
	return m, nil
}
