package codec

import (
	"fmt"
	"math/big"
	"sort"
)

// Data maps field names to tokens. It is the encoded form of one record.
type Data map[string]Token

// Values is an ordered list of records stored under a single key.
type Values []Data

// FieldError reports which field of a record failed to decode.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Field returns the token stored under name.
func (d Data) Field(name string) (Token, error) {
	t, ok := d[name]
	if !ok {
		return Token{}, &FieldError{Field: name, Err: ErrFieldMissing}
	}
	return t, nil
}

func field[T any](d Data, name string, as func(Token) (T, error)) (T, error) {
	var zero T
	t, err := d.Field(name)
	if err != nil {
		return zero, err
	}
	v, err := as(t)
	if err != nil {
		return zero, &FieldError{Field: name, Err: err}
	}
	return v, nil
}

func (d Data) String(name string) (string, error) { return field(d, name, Token.AsString) }
func (d Data) Uint8(name string) (uint8, error)   { return field(d, name, Token.AsUint8) }
func (d Data) Uint16(name string) (uint16, error) { return field(d, name, Token.AsUint16) }
func (d Data) Uint32(name string) (uint32, error) { return field(d, name, Token.AsUint32) }
func (d Data) Uint64(name string) (uint64, error) { return field(d, name, Token.AsUint64) }
func (d Data) Int8(name string) (int8, error)     { return field(d, name, Token.AsInt8) }
func (d Data) Int16(name string) (int16, error)   { return field(d, name, Token.AsInt16) }
func (d Data) Int32(name string) (int32, error)   { return field(d, name, Token.AsInt32) }
func (d Data) Int64(name string) (int64, error)   { return field(d, name, Token.AsInt64) }
func (d Data) Bool(name string) (bool, error)     { return field(d, name, Token.AsBool) }
func (d Data) Bytes(name string) ([]byte, error)  { return field(d, name, Token.AsBytes) }
func (d Data) Array(name string) ([]Token, error) { return field(d, name, Token.AsArray) }
func (d Data) BigInt(name string) (*big.Int, error) {
	return field(d, name, Token.AsBigInt)
}

// Uint128 returns the high and low halves of a Uint128 field.
func (d Data) Uint128(name string) (hi, lo uint64, err error) {
	t, err := d.Field(name)
	if err != nil {
		return 0, 0, err
	}
	hi, lo, err = t.AsUint128()
	if err != nil {
		return 0, 0, &FieldError{Field: name, Err: err}
	}
	return hi, lo, nil
}

// Fields returns the field names in sorted order.
func (d Data) Fields() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a shallow copy; tokens are immutable so this is a full copy.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Equal reports whether both records hold the same fields and values.
func (d Data) Equal(o Data) bool {
	if len(d) != len(o) {
		return false
	}
	for k, v := range d {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Equal reports whether both lists hold equal records in the same order.
func (vs Values) Equal(o Values) bool {
	if len(vs) != len(o) {
		return false
	}
	for i := range vs {
		if !vs[i].Equal(o[i]) {
			return false
		}
	}
	return true
}
