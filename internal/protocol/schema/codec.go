package schema

import (
	"fmt"
	"unicode/utf16"

	"golang.org/x/text/encoding/unicode"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Encode writes rec using the struct layout. Missing fields encode as zero
// bytes; unknown keys in rec are ignored.
func (s *Struct) Encode(rec Record) ([]byte, error) {
	buf := make([]byte, s.size)
	if err := s.EncodeInto(buf, rec); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodeInto writes rec into dst, which must hold at least Size bytes.
func (s *Struct) EncodeInto(dst []byte, rec Record) error {
	if len(dst) < s.size {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrShortPayload, s.size, len(dst))
	}
	for _, f := range s.fields {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			clear(dst[f.Offset : f.Offset+f.Size])
			continue
		}
		if err := encodeField(dst[f.Offset:f.Offset+f.Size], f, v); err != nil {
			return FieldError{Struct: s.name, Field: f.Name, Err: err}
		}
	}
	return nil
}

// Decode reads a record from the first Size bytes of src. The record never
// aliases src.
func (s *Struct) Decode(src []byte) (Record, error) {
	if len(src) < s.size {
		return nil, fmt.Errorf("%w: %s needs %d bytes, have %d", ErrShortPayload, s.name, s.size, len(src))
	}
	rec := make(Record, len(s.fields))
	for _, f := range s.fields {
		rec[f.Name] = decodeField(src[f.Offset:f.Offset+f.Size], f)
	}
	return rec, nil
}

func encodeField(dst []byte, f FieldSpec, v any) error {
	switch f.Kind {
	case FieldPrimitive:
		return f.Primitive.write(dst, v)
	case FieldArray:
		values, ok := arrayValues(v)
		if !ok {
			return fmt.Errorf("%w: %T for %s[%d]", ErrValueType, v, f.Primitive, f.Count)
		}
		if len(values) > f.Count {
			return fmt.Errorf("%w: %d > %d", ErrArrayLength, len(values), f.Count)
		}
		clear(dst)
		step := f.Primitive.Size()
		for i, elem := range values {
			if elem == nil {
				continue
			}
			if err := f.Primitive.write(dst[i*step:(i+1)*step], elem); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case FieldText:
		str, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %T for text", ErrValueType, v)
		}
		return encodeText(dst, str)
	case FieldNested:
		var rec Record
		switch m := v.(type) {
		case Record:
			rec = m
		case map[string]any:
			rec = Record(m)
		default:
			return fmt.Errorf("%w: %T for struct %s", ErrValueType, v, f.Struct.name)
		}
		return f.Struct.EncodeInto(dst, rec)
	}
	return fmt.Errorf("%w: unknown field kind %s", ErrValueType, f.Kind)
}

func decodeField(src []byte, f FieldSpec) any {
	switch f.Kind {
	case FieldPrimitive:
		return f.Primitive.read(src)
	case FieldArray:
		step := f.Primitive.Size()
		out := make([]any, f.Count)
		for i := range out {
			out[i] = f.Primitive.read(src[i*step : (i+1)*step])
		}
		return out
	case FieldText:
		return DecodeText(src)
	case FieldNested:
		rec := make(Record, len(f.Struct.fields))
		for _, nf := range f.Struct.fields {
			rec[nf.Name] = decodeField(src[nf.Offset:nf.Offset+nf.Size], nf)
		}
		return rec
	}
	return nil
}

// encodeText writes str as UTF-16LE, truncated on a code-unit boundary that
// does not split a surrogate pair, and NUL padded.
func encodeText(dst []byte, str string) error {
	encoded, err := utf16le.NewEncoder().Bytes([]byte(str))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrValueType, err)
	}
	n := len(encoded)
	if n > len(dst) {
		n = len(dst) &^ 1
		if n >= 2 {
			last := uint16(encoded[n-2]) | uint16(encoded[n-1])<<8
			if utf16.IsSurrogate(rune(last)) && last < 0xDC00 {
				n -= 2
			}
		}
	}
	copy(dst, encoded[:n])
	clear(dst[n:])
	return nil
}

// DecodeText reads UTF-16LE up to the first NUL code unit. Raw payloads
// such as chat text use it directly.
func DecodeText(src []byte) string {
	end := len(src) &^ 1
	for i := 0; i+1 < len(src); i += 2 {
		if src[i] == 0 && src[i+1] == 0 {
			end = i
			break
		}
	}
	out, err := utf16le.NewDecoder().Bytes(src[:end])
	if err != nil {
		return ""
	}
	return string(out)
}

func arrayValues(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []uint8:
		return toAny(s), true
	case []int8:
		return toAny(s), true
	case []uint16:
		return toAny(s), true
	case []int16:
		return toAny(s), true
	case []uint32:
		return toAny(s), true
	case []int32:
		return toAny(s), true
	case []uint64:
		return toAny(s), true
	case []int64:
		return toAny(s), true
	case []int:
		return toAny(s), true
	case []uint:
		return toAny(s), true
	case []float32:
		return toAny(s), true
	case []float64:
		return toAny(s), true
	case []bool:
		return toAny(s), true
	}
	return nil, false
}

func toAny[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
