package codec

import "fmt"

// Enumeration is an ordered list of symbolic names. Ordinals are positions
// in that list; the wire form of an enumerated value is the single ordinal
// byte. Enumerations are declared once (typically by generated code) and
// shared by every field of that enumeration type.
type Enumeration struct {
	name    string
	symbols []string
}

func NewEnumeration(name string, symbols ...string) *Enumeration {
	return &Enumeration{name: name, symbols: symbols}
}

func (e *Enumeration) Name() string { return e.name }

func (e *Enumeration) Len() int { return len(e.symbols) }

func (e *Enumeration) Symbol(ordinal int) (string, bool) {
	if ordinal < 0 || ordinal >= len(e.symbols) {
		return "", false
	}
	return e.symbols[ordinal], true
}

func (e *Enumeration) Ordinal(symbol string) (int, bool) {
	for i, s := range e.symbols {
		if s == symbol {
			return i, true
		}
	}
	return -1, false
}

// Of makes a value of this enumeration from an ordinal.
func (e *Enumeration) Of(ordinal int) (Value, error) {
	if ordinal < 0 || ordinal >= len(e.symbols) || ordinal > 0xff {
		return Value{}, fmt.Errorf("%w: ordinal %d of %s[%d]", ErrBadOrdinal, ordinal, e.name, len(e.symbols))
	}
	return Value{kind: Enum, num: uint64(ordinal), enum: e}, nil
}

// Value makes a value of this enumeration from a symbol name.
func (e *Enumeration) Value(symbol string) (Value, error) {
	ord, ok := e.Ordinal(symbol)
	if !ok {
		return Value{}, fmt.Errorf("%w: symbol %q of %s", ErrBadOrdinal, symbol, e.name)
	}
	return Value{kind: Enum, num: uint64(ord), enum: e}, nil
}
