// Package codec provides the Token/Data representation used to persist typed
// records as schema-less, self-describing field maps.
//
// A Token is one tagged value:
//
//	String | Uint8 | Uint16 | Uint32 | Uint64 | Uint128 | Bool | Bytes | Array
//
// Unsigned integers keep their exact big-endian byte width and the width is
// part of the tag, so decoding a Uint32 token as a Uint64 is an error rather
// than a silent widening. Signed integers are stored two's complement as the
// Uint of the same width.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
)

// Kind identifies the variant held by a Token.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindString
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindUint128
	KindBool
	KindBytes
	KindArray
)

// Errors
var (
	ErrKindMismatch  = errors.New("token kind mismatch")
	ErrFieldMissing  = errors.New("field missing")
	ErrOutOfRange    = errors.New("value out of range for token width")
	ErrCorruptValue  = errors.New("corrupt encoded value")
	ErrUnsupported   = errors.New("unsupported field type")
	ErrInvalidRecord = errors.New("invalid record")
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindUint128:
		return "uint128"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindArray:
		return "array"
	default:
		return "invalid"
	}
}

// Width returns the byte width of an unsigned integer kind, or 0.
func (k Kind) Width() int {
	switch k {
	case KindUint8:
		return 1
	case KindUint16:
		return 2
	case KindUint32:
		return 4
	case KindUint64:
		return 8
	case KindUint128:
		return 16
	default:
		return 0
	}
}

// IsUint reports whether k is one of the fixed-width unsigned kinds.
func (k Kind) IsUint() bool {
	return k.Width() > 0
}

// Token is an immutable tagged value.
type Token struct {
	kind Kind
	str  string
	raw  []byte // big-endian uint of exact width, or raw bytes
	bit  bool
	arr  []Token
}

// String creates a String token.
func String(s string) Token {
	return Token{kind: KindString, str: s}
}

// Uint8 creates a one-byte Uint token.
func Uint8(v uint8) Token {
	return Token{kind: KindUint8, raw: []byte{v}}
}

// Uint16 creates a two-byte Uint token.
func Uint16(v uint16) Token {
	raw := make([]byte, 2)
	binary.BigEndian.PutUint16(raw, v)
	return Token{kind: KindUint16, raw: raw}
}

// Uint32 creates a four-byte Uint token.
func Uint32(v uint32) Token {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint32(raw, v)
	return Token{kind: KindUint32, raw: raw}
}

// Uint64 creates an eight-byte Uint token.
func Uint64(v uint64) Token {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, v)
	return Token{kind: KindUint64, raw: raw}
}

// Uint128 creates a sixteen-byte Uint token from its high and low halves.
func Uint128(hi, lo uint64) Token {
	raw := make([]byte, 16)
	binary.BigEndian.PutUint64(raw[:8], hi)
	binary.BigEndian.PutUint64(raw[8:], lo)
	return Token{kind: KindUint128, raw: raw}
}

// BigUint creates a Uint128 token from a non-negative big.Int of at most 128 bits.
// A nil value encodes as zero.
func BigUint(v *big.Int) (Token, error) {
	if v == nil {
		return Uint128(0, 0), nil
	}
	if v.Sign() < 0 || v.BitLen() > 128 {
		return Token{}, fmt.Errorf("%w: %s does not fit uint128", ErrOutOfRange, v.String())
	}
	raw := make([]byte, 16)
	v.FillBytes(raw)
	return Token{kind: KindUint128, raw: raw}, nil
}

// Int8 stores v two's complement as a Uint8 token.
func Int8(v int8) Token { return Uint8(uint8(v)) }

// Int16 stores v two's complement as a Uint16 token.
func Int16(v int16) Token { return Uint16(uint16(v)) }

// Int32 stores v two's complement as a Uint32 token.
func Int32(v int32) Token { return Uint32(uint32(v)) }

// Int64 stores v two's complement as a Uint64 token.
func Int64(v int64) Token { return Uint64(uint64(v)) }

// Bool creates a Bool token.
func Bool(b bool) Token {
	return Token{kind: KindBool, bit: b}
}

// Bytes creates a Bytes token holding a copy of b.
func Bytes(b []byte) Token {
	raw := make([]byte, len(b))
	copy(raw, b)
	return Token{kind: KindBytes, raw: raw}
}

// Array creates an Array token from the given elements.
func Array(elems ...Token) Token {
	arr := make([]Token, len(elems))
	copy(arr, elems)
	return Token{kind: KindArray, arr: arr}
}

// uintFromRaw rebuilds a Uint token of kind k from its big-endian bytes.
func uintFromRaw(k Kind, raw []byte) (Token, error) {
	if !k.IsUint() || len(raw) != k.Width() {
		return Token{}, fmt.Errorf("%w: %s token with %d bytes", ErrCorruptValue, k, len(raw))
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return Token{kind: k, raw: cp}, nil
}

// Kind returns the token's variant.
func (t Token) Kind() Kind {
	return t.kind
}

func (t Token) expect(k Kind) error {
	if t.kind != k {
		return fmt.Errorf("%w: want %s, have %s", ErrKindMismatch, k, t.kind)
	}
	return nil
}

// AsString returns the value of a String token.
func (t Token) AsString() (string, error) {
	if err := t.expect(KindString); err != nil {
		return "", err
	}
	return t.str, nil
}

// AsUint8 returns the value of a Uint8 token.
func (t Token) AsUint8() (uint8, error) {
	if err := t.expect(KindUint8); err != nil {
		return 0, err
	}
	return t.raw[0], nil
}

// AsUint16 returns the value of a Uint16 token.
func (t Token) AsUint16() (uint16, error) {
	if err := t.expect(KindUint16); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(t.raw), nil
}

// AsUint32 returns the value of a Uint32 token.
func (t Token) AsUint32() (uint32, error) {
	if err := t.expect(KindUint32); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(t.raw), nil
}

// AsUint64 returns the value of a Uint64 token.
func (t Token) AsUint64() (uint64, error) {
	if err := t.expect(KindUint64); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(t.raw), nil
}

// AsUint128 returns the high and low halves of a Uint128 token.
func (t Token) AsUint128() (hi, lo uint64, err error) {
	if err := t.expect(KindUint128); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint64(t.raw[:8]), binary.BigEndian.Uint64(t.raw[8:]), nil
}

// AsBigInt returns the value of a Uint128 token as a big.Int.
func (t Token) AsBigInt() (*big.Int, error) {
	if err := t.expect(KindUint128); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(t.raw), nil
}

// AsInt8 reinterprets a Uint8 token as a signed value.
func (t Token) AsInt8() (int8, error) {
	v, err := t.AsUint8()
	return int8(v), err
}

// AsInt16 reinterprets a Uint16 token as a signed value.
func (t Token) AsInt16() (int16, error) {
	v, err := t.AsUint16()
	return int16(v), err
}

// AsInt32 reinterprets a Uint32 token as a signed value.
func (t Token) AsInt32() (int32, error) {
	v, err := t.AsUint32()
	return int32(v), err
}

// AsInt64 reinterprets a Uint64 token as a signed value.
func (t Token) AsInt64() (int64, error) {
	v, err := t.AsUint64()
	return int64(v), err
}

// AsBool returns the value of a Bool token.
func (t Token) AsBool() (bool, error) {
	if err := t.expect(KindBool); err != nil {
		return false, err
	}
	return t.bit, nil
}

// AsBytes returns a copy of a Bytes token's contents.
func (t Token) AsBytes() ([]byte, error) {
	if err := t.expect(KindBytes); err != nil {
		return nil, err
	}
	out := make([]byte, len(t.raw))
	copy(out, t.raw)
	return out, nil
}

// AsArray returns a copy of an Array token's elements.
func (t Token) AsArray() ([]Token, error) {
	if err := t.expect(KindArray); err != nil {
		return nil, err
	}
	out := make([]Token, len(t.arr))
	copy(out, t.arr)
	return out, nil
}

// Equal reports whether two tokens hold the same kind and value.
func (t Token) Equal(o Token) bool {
	if t.kind != o.kind {
		return false
	}
	switch t.kind {
	case KindString:
		return t.str == o.str
	case KindBool:
		return t.bit == o.bit
	case KindArray:
		if len(t.arr) != len(o.arr) {
			return false
		}
		for i := range t.arr {
			if !t.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	default:
		return bytes.Equal(t.raw, o.raw)
	}
}

// GoString renders the token for debugging and test failure output.
func (t Token) GoString() string {
	switch t.kind {
	case KindString:
		return fmt.Sprintf("String(%q)", t.str)
	case KindBool:
		return fmt.Sprintf("Bool(%t)", t.bit)
	case KindBytes:
		return fmt.Sprintf("Bytes(%x)", t.raw)
	case KindArray:
		return fmt.Sprintf("Array(%d)", len(t.arr))
	case KindInvalid:
		return "Invalid"
	default:
		return fmt.Sprintf("%s(%x)", t.kind, t.raw)
	}
}
