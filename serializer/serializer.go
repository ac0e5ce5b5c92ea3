// Package serializer provides the pure, total, order-preserving codecs the
// binlog engine uses to turn domain values into sortable byte strings and
// back. Each serializer is a bijection on its domain: GoValue(DBValue(v))
// must equal v for every admissible v, including memoryview-style []byte
// aliases of the wire bytes.
package serializer

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// Serializer is the pluggable codec contract a model descriptor stores per
// field or per index. It is deliberately untyped at this boundary because
// the model descriptor (out of scope for this module, see spec.md §6)
// holds a heterogeneous map of field name -> Serializer.
type Serializer interface {
	DBValue(v any) ([]byte, error)
	GoValue(b []byte) (any, error)
}

// Numeric is the uint64 serializer: 8-byte big-endian, so byte-lex order
// equals numeric order.
type Numeric struct{}

func (Numeric) DBValue(v any) ([]byte, error) {
	n, ok := v.(uint64)
	if !ok {
		return nil, fmt.Errorf("%w: Numeric.DBValue wants uint64, got %T", errInvalid, v)
	}
	return Numeric{}.encode(n), nil
}

func (Numeric) GoValue(b []byte) (any, error) {
	return Numeric{}.decode(b)
}

func (Numeric) encode(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func (Numeric) decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: Numeric.GoValue wants 8 bytes, got %d", errInvalid, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// EncodeUint64 and DecodeUint64 are the typed entry points most of the
// engine uses directly, so callers don't have to round-trip through `any`
// for the hottest path in the whole module (primary-key encoding).
func EncodeUint64(n uint64) []byte { return Numeric{}.encode(n) }

func DecodeUint64(b []byte) (uint64, error) { return Numeric{}.decode(b) }

// Text is the UTF-8 serializer: raw bytes, so byte-lex order equals
// codepoint order for valid UTF-8.
type Text struct{}

func (Text) DBValue(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: Text.DBValue wants string, got %T", errInvalid, v)
	}
	return []byte(s), nil
}

func (Text) GoValue(b []byte) (any, error) {
	return string(b), nil
}

// Datetime is a fixed-width encoding monotone in time, excluding years
// before 1970. Stored as big-endian unsigned nanoseconds since the Unix
// epoch so byte-lex order equals chronological order.
type Datetime struct{}

var epoch = time.Unix(0, 0).UTC()

func (Datetime) DBValue(v any) ([]byte, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, fmt.Errorf("%w: Datetime.DBValue wants time.Time, got %T", errInvalid, v)
	}
	if t.Before(epoch) {
		return nil, fmt.Errorf("%w: Datetime.DBValue rejects years before 1970: %v", errInvalid, t)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixNano()))
	return buf, nil
}

func (Datetime) GoValue(b []byte) (any, error) {
	if len(b) != 8 {
		return nil, fmt.Errorf("%w: Datetime.GoValue wants 8 bytes, got %d", errInvalid, len(b))
	}
	ns := binary.BigEndian.Uint64(b)
	return time.Unix(0, int64(ns)).UTC(), nil
}

// NullList encodes a sequence of short texts by joining them with NUL.
// Each element must be a non-empty string drawn from the ASCII
// letter/dot alphabet and must not itself contain NUL.
type NullList struct{}

func isNullListRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '.'
}

func validateNullListElem(s string) error {
	if s == "" {
		return fmt.Errorf("%w: NullList element must not be empty", errInvalid)
	}
	for _, r := range s {
		if r == 0 {
			return fmt.Errorf("%w: NullList element must not contain NUL", errInvalid)
		}
		if !isNullListRune(r) {
			return fmt.Errorf("%w: NullList element %q has a character outside [A-Za-z.]", errInvalid, s)
		}
	}
	return nil
}

// DBValue accepts either a single string (the common case exercised by the
// boundary tests in spec.md §8) or a []string sequence.
func (NullList) DBValue(v any) ([]byte, error) {
	switch vv := v.(type) {
	case string:
		if err := validateNullListElem(vv); err != nil {
			return nil, err
		}
		return []byte(vv), nil
	case []string:
		for _, s := range vv {
			if err := validateNullListElem(s); err != nil {
				return nil, err
			}
		}
		return []byte(strings.Join(vv, "\x00")), nil
	default:
		return nil, fmt.Errorf("%w: NullList.DBValue wants string or []string, got %T", errInvalid, v)
	}
}

func (NullList) GoValue(b []byte) (any, error) {
	if len(b) == 0 {
		return []string{}, nil
	}
	return strings.Split(string(b), "\x00"), nil
}

// Object is a deterministic, self-describing encoding of an arbitrary
// nested dictionary of domain scalars (nil, bool, int64, uint64, float64,
// string, []byte, []any, map[string]any). It is not order-preserving and
// must never be used as a key serializer — only as a value serializer for
// entry payloads.
type Object struct{}

func (Object) DBValue(v any) ([]byte, error) {
	var buf []byte
	buf, err := encodeObject(buf, v)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (Object) GoValue(b []byte) (any, error) {
	v, rest, err := decodeObject(b)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: Object.GoValue has %d trailing bytes", errInvalid, len(rest))
	}
	return v, nil
}

const (
	tagNil byte = iota
	tagBoolFalse
	tagBoolTrue
	tagInt64
	tagUint64
	tagFloat64
	tagString
	tagBytes
	tagMap
	tagList
)

func encodeObject(buf []byte, v any) ([]byte, error) {
	switch vv := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if vv {
			return append(buf, tagBoolTrue), nil
		}
		return append(buf, tagBoolFalse), nil
	case int:
		return encodeObject(buf, int64(vv))
	case int64:
		buf = append(buf, tagInt64)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], uint64(vv))
		return append(buf, tmp[:]...), nil
	case uint64:
		buf = append(buf, tagUint64)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], vv)
		return append(buf, tmp[:]...), nil
	case float64:
		buf = append(buf, tagFloat64)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], math.Float64bits(vv))
		return append(buf, tmp[:]...), nil
	case string:
		buf = append(buf, tagString)
		buf = appendUvarint(buf, uint64(len(vv)))
		return append(buf, vv...), nil
	case []byte:
		buf = append(buf, tagBytes)
		buf = appendUvarint(buf, uint64(len(vv)))
		return append(buf, vv...), nil
	case []any:
		buf = append(buf, tagList)
		buf = appendUvarint(buf, uint64(len(vv)))
		var err error
		for _, elem := range vv {
			buf, err = encodeObject(buf, elem)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf = append(buf, tagMap)
		buf = appendUvarint(buf, uint64(len(keys)))
		for _, k := range keys {
			buf = appendUvarint(buf, uint64(len(k)))
			buf = append(buf, k...)

			var err error
			buf, err = encodeObject(buf, vv[k])
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: Object.DBValue cannot encode %T", errInvalid, v)
	}
}

func decodeObject(b []byte) (any, []byte, error) {
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("%w: Object.GoValue ran out of bytes", errInvalid)
	}
	tag, rest := b[0], b[1:]

	switch tag {
	case tagNil:
		return nil, rest, nil
	case tagBoolFalse:
		return false, rest, nil
	case tagBoolTrue:
		return true, rest, nil
	case tagInt64:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("%w: Object.GoValue truncated int64", errInvalid)
		}
		return int64(binary.BigEndian.Uint64(rest[:8])), rest[8:], nil
	case tagUint64:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("%w: Object.GoValue truncated uint64", errInvalid)
		}
		return binary.BigEndian.Uint64(rest[:8]), rest[8:], nil
	case tagFloat64:
		if len(rest) < 8 {
			return nil, nil, fmt.Errorf("%w: Object.GoValue truncated float64", errInvalid)
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest[:8])), rest[8:], nil
	case tagString:
		n, rest, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest)) < n {
			return nil, nil, fmt.Errorf("%w: Object.GoValue truncated string", errInvalid)
		}
		return string(rest[:n]), rest[n:], nil
	case tagBytes:
		n, rest, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(rest)) < n {
			return nil, nil, fmt.Errorf("%w: Object.GoValue truncated bytes", errInvalid)
		}
		out := make([]byte, n)
		copy(out, rest[:n])
		return out, rest[n:], nil
	case tagList:
		n, rest, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		list := make([]any, 0, n)
		for i := uint64(0); i < n; i++ {
			var elem any
			elem, rest, err = decodeObject(rest)
			if err != nil {
				return nil, nil, err
			}
			list = append(list, elem)
		}
		return list, rest, nil
	case tagMap:
		n, rest, err := readUvarint(rest)
		if err != nil {
			return nil, nil, err
		}
		m := make(map[string]any, n)
		for i := uint64(0); i < n; i++ {
			var klen uint64
			klen, rest, err = readUvarint(rest)
			if err != nil {
				return nil, nil, err
			}
			if uint64(len(rest)) < klen {
				return nil, nil, fmt.Errorf("%w: Object.GoValue truncated map key", errInvalid)
			}
			key := string(rest[:klen])
			rest = rest[klen:]

			var val any
			val, rest, err = decodeObject(rest)
			if err != nil {
				return nil, nil, err
			}
			m[key] = val
		}
		return m, rest, nil
	default:
		return nil, nil, fmt.Errorf("%w: Object.GoValue saw unknown tag %d", errInvalid, tag)
	}
}

func appendUvarint(buf []byte, n uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	m := binary.PutUvarint(tmp[:], n)
	return append(buf, tmp[:m]...)
}

func readUvarint(b []byte) (uint64, []byte, error) {
	n, m := binary.Uvarint(b)
	if m <= 0 {
		return 0, nil, fmt.Errorf("%w: Object.GoValue has a malformed varint", errInvalid)
	}
	return n, b[m:], nil
}
