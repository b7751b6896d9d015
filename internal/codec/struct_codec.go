package codec

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
)

// StructCodec tokenizes a struct type by reflection.
//
// Exported fields are encoded under the name given by the `token` struct tag,
// or the Go field name when untagged; `token:"-"` skips a field. Supported
// field types:
//
//	string                      String
//	uint8/16/32/64, uint        Uint8/16/32/64 (uint as Uint64)
//	int8/16/32/64, int          same-width Uint, two's complement (int as 64)
//	bool                        Bool
//	[]byte, [N]byte             Bytes (arrays must match N on decode)
//	*big.Int                    Uint128
//	[]E for a supported E       Array
//
// Tokens carry no null, so decoding normalises to the zero value: an empty
// Bytes or Array decodes to a nil slice and a zero Uint128 to a nil *big.Int.
// A zero-value T therefore round-trips exactly, while empty non-nil slices and
// big.NewInt(0) come back nil.
type StructCodec[T any] struct {
	fields []structField
}

type structField struct {
	index int
	name  string
	enc   encodeFunc
	dec   decodeFunc
}

type encodeFunc func(v reflect.Value) Token
type decodeFunc func(t Token, v reflect.Value) error

var bigIntType = reflect.TypeOf((*big.Int)(nil))

// NewStructCodec builds a codec for T, which must be a struct whose encoded
// fields all have supported types.
func NewStructCodec[T any]() (*StructCodec[T], error) {
	var zero T
	rt := reflect.TypeOf(zero)
	if rt == nil || rt.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a struct", ErrUnsupported, rt)
	}

	c := &StructCodec[T]{}
	seen := make(map[string]bool)
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("token"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				name = tag
			}
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate field name %q in %v", ErrUnsupported, name, rt)
		}
		seen[name] = true

		enc, dec, err := coderFor(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", rt.Name(), sf.Name, err)
		}
		c.fields = append(c.fields, structField{index: i, name: name, enc: enc, dec: dec})
	}
	return c, nil
}

// MustStructCodec is like NewStructCodec but panics on error. Intended for
// package-level codec variables.
func MustStructCodec[T any]() *StructCodec[T] {
	c, err := NewStructCodec[T]()
	if err != nil {
		panic(err)
	}
	return c
}

// Tokenize encodes v. It panics if a *big.Int field exceeds 128 bits, which
// is a schema error on the caller's side.
func (c *StructCodec[T]) Tokenize(v T) Data {
	rv := reflect.ValueOf(v)
	d := make(Data, len(c.fields))
	for _, f := range c.fields {
		d[f.name] = f.enc(rv.Field(f.index))
	}
	return d
}

// Untokenize decodes d into a new T.
func (c *StructCodec[T]) Untokenize(d Data) (T, error) {
	var out T
	rv := reflect.ValueOf(&out).Elem()
	for _, f := range c.fields {
		t, err := d.Field(f.name)
		if err != nil {
			return out, err
		}
		if err := f.dec(t, rv.Field(f.index)); err != nil {
			return out, &FieldError{Field: f.name, Err: err}
		}
	}
	return out, nil
}

func coderFor(rt reflect.Type) (encodeFunc, decodeFunc, error) {
	if rt == bigIntType {
		enc := func(v reflect.Value) Token {
			t, err := BigUint(v.Interface().(*big.Int))
			if err != nil {
				panic(err)
			}
			return t
		}
		dec := func(t Token, v reflect.Value) error {
			b, err := t.AsBigInt()
			if err != nil {
				return err
			}
			if b.Sign() == 0 {
				v.SetZero()
				return nil
			}
			v.Set(reflect.ValueOf(b))
			return nil
		}
		return enc, dec, nil
	}

	switch rt.Kind() {
	case reflect.String:
		return func(v reflect.Value) Token { return String(v.String()) },
			func(t Token, v reflect.Value) error {
				s, err := t.AsString()
				if err == nil {
					v.SetString(s)
				}
				return err
			}, nil

	case reflect.Bool:
		return func(v reflect.Value) Token { return Bool(v.Bool()) },
			func(t Token, v reflect.Value) error {
				b, err := t.AsBool()
				if err == nil {
					v.SetBool(b)
				}
				return err
			}, nil

	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		kind := uintKind(rt.Kind())
		return func(v reflect.Value) Token { return uintToken(kind, v.Uint()) },
			func(t Token, v reflect.Value) error {
				u, err := tokenUint(kind, t)
				if err == nil {
					v.SetUint(u)
				}
				return err
			}, nil

	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		kind := intKind(rt.Kind())
		bits := uint(kind.Width() * 8)
		return func(v reflect.Value) Token { return uintToken(kind, uint64(v.Int())) },
			func(t Token, v reflect.Value) error {
				u, err := tokenUint(kind, t)
				if err != nil {
					return err
				}
				// sign-extend from the token width
				shift := 64 - bits
				v.SetInt(int64(u<<shift) >> shift)
				return nil
			}, nil

	case reflect.Array:
		if rt.Elem().Kind() != reflect.Uint8 {
			return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, rt)
		}
		n := rt.Len()
		return func(v reflect.Value) Token {
				b := make([]byte, n)
				reflect.Copy(reflect.ValueOf(b), v)
				return Bytes(b)
			},
			func(t Token, v reflect.Value) error {
				b, err := t.AsBytes()
				if err != nil {
					return err
				}
				if len(b) != n {
					return fmt.Errorf("%w: want %d bytes, have %d", ErrKindMismatch, n, len(b))
				}
				reflect.Copy(v, reflect.ValueOf(b))
				return nil
			}, nil

	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return func(v reflect.Value) Token { return Bytes(v.Bytes()) },
				func(t Token, v reflect.Value) error {
					b, err := t.AsBytes()
					if err != nil {
						return err
					}
					if len(b) == 0 {
						v.SetZero()
					} else {
						v.SetBytes(b)
					}
					return nil
				}, nil
		}
		elemEnc, elemDec, err := coderFor(rt.Elem())
		if err != nil {
			return nil, nil, err
		}
		return func(v reflect.Value) Token {
				elems := make([]Token, v.Len())
				for i := range elems {
					elems[i] = elemEnc(v.Index(i))
				}
				return Array(elems...)
			},
			func(t Token, v reflect.Value) error {
				elems, err := t.AsArray()
				if err != nil {
					return err
				}
				if len(elems) == 0 {
					v.SetZero()
					return nil
				}
				out := reflect.MakeSlice(rt, len(elems), len(elems))
				for i, e := range elems {
					if err := elemDec(e, out.Index(i)); err != nil {
						return fmt.Errorf("element %d: %w", i, err)
					}
				}
				v.Set(out)
				return nil
			}, nil
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrUnsupported, rt)
}

func uintKind(k reflect.Kind) Kind {
	switch k {
	case reflect.Uint8:
		return KindUint8
	case reflect.Uint16:
		return KindUint16
	case reflect.Uint32:
		return KindUint32
	default:
		return KindUint64
	}
}

func intKind(k reflect.Kind) Kind {
	switch k {
	case reflect.Int8:
		return KindUint8
	case reflect.Int16:
		return KindUint16
	case reflect.Int32:
		return KindUint32
	default:
		return KindUint64
	}
}

func uintToken(k Kind, v uint64) Token {
	switch k {
	case KindUint8:
		return Uint8(uint8(v))
	case KindUint16:
		return Uint16(uint16(v))
	case KindUint32:
		return Uint32(uint32(v))
	default:
		return Uint64(v)
	}
}

func tokenUint(k Kind, t Token) (uint64, error) {
	switch k {
	case KindUint8:
		v, err := t.AsUint8()
		return uint64(v), err
	case KindUint16:
		v, err := t.AsUint16()
		return uint64(v), err
	case KindUint32:
		v, err := t.AsUint32()
		return uint64(v), err
	default:
		return t.AsUint64()
	}
}
