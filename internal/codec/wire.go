package codec

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Wire layout (BSON):
//
//	Data:   { f: { <field>: token, ... } }
//	Values: { v: [ { <field>: token, ... }, ... ] }
//	token:  { k: kind, s: string, b: binary, t: bool, a: [token...] }
//
// Only the member matching k is present. Uint tokens carry their big-endian
// bytes in b and must have exactly the width of k.

// WireToken is the BSON form of a Token.
type WireToken struct {
	K Kind        `bson:"k"`
	S string      `bson:"s,omitempty"`
	B []byte      `bson:"b,omitempty"`
	T bool        `bson:"t,omitempty"`
	A []WireToken `bson:"a,omitempty"`
}

// WireData is the BSON form of a Data record.
type WireData map[string]WireToken

type dataDoc struct {
	F WireData `bson:"f"`
}

type valuesDoc struct {
	V []WireData `bson:"v"`
}

// ToWire converts a token to its BSON form.
func (t Token) ToWire() WireToken {
	w := WireToken{K: t.kind}
	switch t.kind {
	case KindString:
		w.S = t.str
	case KindBool:
		w.T = t.bit
	case KindArray:
		w.A = make([]WireToken, len(t.arr))
		for i, e := range t.arr {
			w.A[i] = e.ToWire()
		}
	default:
		w.B = t.raw
	}
	return w
}

// FromWire validates and converts a BSON token.
func FromWire(w WireToken) (Token, error) {
	switch w.K {
	case KindString:
		return String(w.S), nil
	case KindBool:
		return Bool(w.T), nil
	case KindBytes:
		return Bytes(w.B), nil
	case KindArray:
		elems := make([]Token, len(w.A))
		for i, e := range w.A {
			t, err := FromWire(e)
			if err != nil {
				return Token{}, err
			}
			elems[i] = t
		}
		return Array(elems...), nil
	case KindUint8, KindUint16, KindUint32, KindUint64, KindUint128:
		return uintFromRaw(w.K, w.B)
	default:
		return Token{}, fmt.Errorf("%w: unknown token kind %d", ErrCorruptValue, w.K)
	}
}

// ToWire converts a record to its BSON form.
func (d Data) ToWire() WireData {
	w := make(WireData, len(d))
	for k, t := range d {
		w[k] = t.ToWire()
	}
	return w
}

// DataFromWire validates and converts a BSON record.
func DataFromWire(w WireData) (Data, error) {
	d := make(Data, len(w))
	for k, wt := range w {
		t, err := FromWire(wt)
		if err != nil {
			return nil, &FieldError{Field: k, Err: err}
		}
		d[k] = t
	}
	return d, nil
}

// MarshalData encodes a record to bytes.
func MarshalData(d Data) ([]byte, error) {
	b, err := bson.Marshal(dataDoc{F: d.ToWire()})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	return b, nil
}

// UnmarshalData decodes bytes produced by MarshalData.
func UnmarshalData(b []byte) (Data, error) {
	var doc dataDoc
	if err := bson.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	return DataFromWire(doc.F)
}

// MarshalValues encodes a record list to bytes.
func MarshalValues(vs Values) ([]byte, error) {
	doc := valuesDoc{V: make([]WireData, len(vs))}
	for i, d := range vs {
		doc.V[i] = d.ToWire()
	}
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal values: %w", err)
	}
	return b, nil
}

// UnmarshalValues decodes bytes produced by MarshalValues.
func UnmarshalValues(b []byte) (Values, error) {
	var doc valuesDoc
	if err := bson.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptValue, err)
	}
	out := make(Values, len(doc.V))
	for i, w := range doc.V {
		d, err := DataFromWire(w)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}
