package codec

// Codec converts a typed record to and from its Data form.
//
// Tokenize must be a pure function of its input. Untokenize must reject
// records with missing fields or mismatched token kinds instead of
// defaulting them.
type Codec[T any] interface {
	Tokenize(v T) Data
	Untokenize(d Data) (T, error)
}

// Record is implemented by types that encode themselves.
type Record interface {
	Tokenize() Data
	Untokenize(d Data) error
}

// RecordCodec adapts a type whose pointer implements Record to Codec.
type RecordCodec[T any, PT interface {
	*T
	Record
}] struct{}

func (RecordCodec[T, PT]) Tokenize(v T) Data {
	return PT(&v).Tokenize()
}

func (RecordCodec[T, PT]) Untokenize(d Data) (T, error) {
	var v T
	if err := PT(&v).Untokenize(d); err != nil {
		return v, err
	}
	return v, nil
}

// DataCodec is the identity codec for untyped records.
type DataCodec struct{}

func (DataCodec) Tokenize(d Data) Data {
	return d.Clone()
}

func (DataCodec) Untokenize(d Data) (Data, error) {
	return d.Clone(), nil
}

// TokenizeAll encodes every value with c, preserving order.
func TokenizeAll[T any](c Codec[T], vs []T) Values {
	out := make(Values, len(vs))
	for i, v := range vs {
		out[i] = c.Tokenize(v)
	}
	return out
}

// UntokenizeAll decodes every record with c and stops at the first failure.
func UntokenizeAll[T any](c Codec[T], vs Values) ([]T, error) {
	out := make([]T, len(vs))
	for i, d := range vs {
		v, err := c.Untokenize(d)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
