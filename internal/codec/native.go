package codec

// ToNative converts a token to a plain Go value: string, uint64, bool,
// []byte, []any, or a decimal string for Uint128.
func (t Token) ToNative() any {
	switch t.kind {
	case KindString:
		return t.str
	case KindBool:
		return t.bit
	case KindBytes:
		out := make([]byte, len(t.raw))
		copy(out, t.raw)
		return out
	case KindArray:
		out := make([]any, len(t.arr))
		for i, e := range t.arr {
			out[i] = e.ToNative()
		}
		return out
	case KindUint128:
		b, _ := t.AsBigInt()
		return b.String()
	case KindUint8, KindUint16, KindUint32, KindUint64:
		var v uint64
		for _, b := range t.raw {
			v = v<<8 | uint64(b)
		}
		return v
	default:
		return nil
	}
}

// ToNative converts a record to a map of plain Go values.
func (d Data) ToNative() map[string]any {
	out := make(map[string]any, len(d))
	for k, t := range d {
		out[k] = t.ToNative()
	}
	return out
}
