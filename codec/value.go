package codec

import (
	"fmt"
	"math"
)

// Kind tags one of the supported wire value variants. The set is closed:
// every federation attribute or parameter is declared as exactly one of
// these, and Encode/Decode switch over them exhaustively.
type Kind byte

const (
	None    = Kind(0)
	Int8    = Kind('b')
	Int16   = Kind('h')
	Int32   = Kind('i')
	Int64   = Kind('l')
	Uint8   = Kind('B')
	Uint16  = Kind('H')
	Uint32  = Kind('I')
	Uint64  = Kind('L')
	Float32 = Kind('f')
	Float64 = Kind('d')
	Bool    = Kind('o')
	Octet   = Kind('c')
	ASCII   = Kind('s')
	Unicode = Kind('u')
	Enum    = Kind('e')
)

// Width returns the fixed wire width of the kind in bytes, or -1 for the
// length-prefixed string kinds, or 0 for None.
func (k Kind) Width() int {
	switch k {
	case Int8, Uint8, Bool, Octet, Enum:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	case ASCII, Unicode:
		return -1
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Octet:
		return "octet"
	case ASCII:
		return "ascii"
	case Unicode:
		return "unicode"
	case Enum:
		return "enum"
	}
	return "none"
}

// Type is the declared type of a record field: a kind plus, for Enum, the
// enumeration it draws its ordinals from.
type Type struct {
	Kind Kind
	Enum *Enumeration
}

func (t Type) Valid() bool {
	if t.Kind == Enum {
		return t.Enum != nil && t.Enum.Len() > 0
	}
	return t.Kind.Width() != 0 && t.Enum == nil
}

func (t Type) String() string {
	if t.Kind == Enum && t.Enum != nil {
		return t.Enum.Name()
	}
	return t.Kind.String()
}

// Value is a tagged union over the supported variants. Values are immutable
// and comparable; two values are equal iff kind, payload and (for Enum) the
// enumeration coincide.
type Value struct {
	kind Kind
	num  uint64
	str  string
	enum *Enumeration
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Type() Type {
	if v.kind == Enum {
		return Type{Kind: Enum, Enum: v.enum}
	}
	return Type{Kind: v.kind}
}

// IntValue makes a signed integer value of the given width kind. The input
// is truncated to the kind's width so that the value is always canonical.
func IntValue(k Kind, i int64) Value {
	switch k {
	case Int8:
		i = int64(int8(i))
	case Int16:
		i = int64(int16(i))
	case Int32:
		i = int64(int32(i))
	case Int64:
	default:
		return Value{}
	}
	return Value{kind: k, num: uint64(i)}
}

// UintValue makes an unsigned integer value of the given width kind.
func UintValue(k Kind, u uint64) Value {
	switch k {
	case Uint8:
		u = uint64(uint8(u))
	case Uint16:
		u = uint64(uint16(u))
	case Uint32:
		u = uint64(uint32(u))
	case Uint64:
	default:
		return Value{}
	}
	return Value{kind: k, num: u}
}

// FloatValue makes a Float32 or Float64 value. Float32 inputs are rounded
// to single precision up front, for the same canonicality reason as IntValue.
func FloatValue(k Kind, f float64) Value {
	switch k {
	case Float32:
		return Value{kind: k, num: uint64(math.Float32bits(float32(f)))}
	case Float64:
		return Value{kind: k, num: math.Float64bits(f)}
	}
	return Value{}
}

func BoolValue(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: Bool, num: n}
}

func OctetValue(c byte) Value {
	return Value{kind: Octet, num: uint64(c)}
}

func ASCIIValue(s string) Value {
	return Value{kind: ASCII, str: s}
}

func UnicodeValue(s string) Value {
	return Value{kind: Unicode, str: s}
}

func (v Value) Int() int64 {
	if v.kind == Float32 || v.kind == Float64 {
		return int64(v.Float())
	}
	return int64(v.num)
}

func (v Value) Uint() uint64 { return v.num }

func (v Value) Float() float64 {
	switch v.kind {
	case Float32:
		return float64(math.Float32frombits(uint32(v.num)))
	case Float64:
		return math.Float64frombits(v.num)
	}
	return float64(int64(v.num))
}

func (v Value) Bool() bool { return v.num != 0 }

// Text returns the payload of a string value.
func (v Value) Text() string { return v.str }

// Ordinal returns the ordinal of an Enum value.
func (v Value) Ordinal() int { return int(v.num) }

// Native projects the value onto the matching Go type: int8..int64,
// uint8..uint64, float32/float64, bool, byte, string, or the enumeration's
// symbol name. Used when values leave the wire domain, e.g. for journaling.
func (v Value) Native() any {
	switch v.kind {
	case Int8:
		return int8(v.num)
	case Int16:
		return int16(v.num)
	case Int32:
		return int32(v.num)
	case Int64:
		return int64(v.num)
	case Uint8:
		return uint8(v.num)
	case Uint16:
		return uint16(v.num)
	case Uint32:
		return uint32(v.num)
	case Uint64:
		return v.num
	case Float32:
		return float32(math.Float32frombits(uint32(v.num)))
	case Float64:
		return math.Float64frombits(v.num)
	case Bool:
		return v.num != 0
	case Octet:
		return byte(v.num)
	case ASCII, Unicode:
		return v.str
	case Enum:
		if sym, ok := v.enum.Symbol(int(v.num)); ok {
			return sym
		}
		return int(v.num)
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case None:
		return "<none>"
	case ASCII, Unicode:
		return fmt.Sprintf("%q", v.str)
	case Enum:
		if sym, ok := v.enum.Symbol(int(v.num)); ok {
			return sym
		}
		return fmt.Sprintf("%s(%d)", v.enum.Name(), v.num)
	default:
		return fmt.Sprint(v.Native())
	}
}
