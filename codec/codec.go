// Package codec encodes and decodes the closed set of federation value
// types to and from their canonical big-endian wire representation.
// Numerics are fixed-width big-endian, booleans and octets are one byte,
// enumerated values are one ordinal byte, and strings are length-prefixed
// (byte count for ASCII, UTF-16BE code-unit count for Unicode).
//
// Encode dispatches on the runtime kind of the value; Decode dispatches on
// an explicitly supplied target type, so the caller always controls the
// expected shape of incoming bytes. Both are pure functions.
package codec

import (
	"errors"
	"fmt"
	"unicode/utf16"

	"golang.org/x/exp/constraints"
)

var (
	ErrDecode      = errors.New("codec: decode failed")
	ErrUnknownKind = errors.New("codec: unknown value kind")
	ErrBadOrdinal  = errors.New("codec: ordinal out of range")
)

// beUint reads len(b) big-endian bytes into an unsigned integer.
func beUint[T constraints.Unsigned](b []byte) (v T) {
	for _, c := range b {
		v = v<<8 | T(c)
	}
	return
}

// bePut writes v into b, big-endian, using all of b.
func bePut[T constraints.Unsigned](b []byte, v T) []byte {
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Encode produces the canonical wire bytes of v.
func Encode(v Value) ([]byte, error) {
	switch v.kind {
	case Int8, Uint8, Bool, Octet:
		return []byte{byte(v.num)}, nil
	case Int16, Uint16:
		return bePut(make([]byte, 2), v.num), nil
	case Int32, Uint32, Float32:
		return bePut(make([]byte, 4), v.num), nil
	case Int64, Uint64, Float64:
		return bePut(make([]byte, 8), v.num), nil
	case Enum:
		if v.enum == nil || int(v.num) >= v.enum.Len() || v.num > 0xff {
			return nil, fmt.Errorf("%w: ordinal %d", ErrBadOrdinal, v.num)
		}
		return []byte{byte(v.num)}, nil
	case ASCII:
		b := bePut(make([]byte, 4, 4+len(v.str)), uint64(len(v.str)))
		return append(b, v.str...), nil
	case Unicode:
		units := utf16.Encode([]rune(v.str))
		b := bePut(make([]byte, 4, 4+2*len(units)), uint64(len(units)))
		for _, u := range units {
			b = append(b, byte(u>>8), byte(u))
		}
		return b, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownKind, v.kind)
}

// Decode parses wire bytes against the declared target type. It fails with
// an error matching ErrDecode when the byte length disagrees with the
// kind's fixed width, when a string prefix is inconsistent with the payload,
// or when an enumeration ordinal exceeds the enumeration's cardinality.
func Decode(b []byte, t Type) (Value, error) {
	if w := t.Kind.Width(); w > 0 && len(b) != w {
		return Value{}, fmt.Errorf("%w: %s wants %d bytes, got %d", ErrDecode, t.Kind, w, len(b))
	}
	switch t.Kind {
	case Int8:
		return IntValue(Int8, int64(int8(b[0]))), nil
	case Int16:
		return IntValue(Int16, int64(int16(beUint[uint16](b)))), nil
	case Int32:
		return IntValue(Int32, int64(int32(beUint[uint32](b)))), nil
	case Int64:
		return IntValue(Int64, int64(beUint[uint64](b))), nil
	case Uint8:
		return UintValue(Uint8, uint64(b[0])), nil
	case Uint16:
		return UintValue(Uint16, uint64(beUint[uint16](b))), nil
	case Uint32:
		return UintValue(Uint32, uint64(beUint[uint32](b))), nil
	case Uint64:
		return UintValue(Uint64, beUint[uint64](b)), nil
	case Float32:
		return Value{kind: Float32, num: uint64(beUint[uint32](b))}, nil
	case Float64:
		return Value{kind: Float64, num: beUint[uint64](b)}, nil
	case Bool:
		switch b[0] {
		case 0:
			return BoolValue(false), nil
		case 1:
			return BoolValue(true), nil
		}
		return Value{}, fmt.Errorf("%w: bool byte %#x", ErrDecode, b[0])
	case Octet:
		return OctetValue(b[0]), nil
	case Enum:
		if t.Enum == nil {
			return Value{}, fmt.Errorf("%w: enum type without enumeration", ErrDecode)
		}
		if int(b[0]) >= t.Enum.Len() {
			return Value{}, fmt.Errorf("%w: ordinal %d of %s[%d]", ErrDecode, b[0], t.Enum.Name(), t.Enum.Len())
		}
		return Value{kind: Enum, num: uint64(b[0]), enum: t.Enum}, nil
	case ASCII:
		if len(b) < 4 {
			return Value{}, fmt.Errorf("%w: ascii prefix truncated", ErrDecode)
		}
		n := int(beUint[uint32](b[:4]))
		if len(b) != 4+n {
			return Value{}, fmt.Errorf("%w: ascii wants %d bytes, got %d", ErrDecode, 4+n, len(b))
		}
		return ASCIIValue(string(b[4:])), nil
	case Unicode:
		if len(b) < 4 {
			return Value{}, fmt.Errorf("%w: unicode prefix truncated", ErrDecode)
		}
		n := int(beUint[uint32](b[:4]))
		if len(b) != 4+2*n {
			return Value{}, fmt.Errorf("%w: unicode wants %d units, got %d bytes", ErrDecode, n, len(b)-4)
		}
		units := make([]uint16, n)
		for i := 0; i < n; i++ {
			units[i] = beUint[uint16](b[4+2*i : 6+2*i])
		}
		return UnicodeValue(string(utf16.Decode(units))), nil
	}
	return Value{}, fmt.Errorf("%w: %d", ErrUnknownKind, t.Kind)
}
