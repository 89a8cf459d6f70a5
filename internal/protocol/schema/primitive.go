package schema

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Primitive is a fixed-width scalar type.
type Primitive uint8

const (
	Word8 Primitive = iota + 1
	Word8Sle
	Word16Ule
	Word16Sle
	Word16Ube
	Word16Sbe
	Word32Ule
	Word32Sle
	Word32Ube
	Word32Sbe
	Word64Ule
	Word64Sle
	Word64Ube
	Word64Sbe
	FloatLE
	FloatBE
	DoubleLE
	DoubleBE
)

type primitiveInfo struct {
	name   string
	size   int
	signed bool
	float  bool
	big    bool
}

var primitives = map[Primitive]primitiveInfo{
	Word8:     {name: "word8", size: 1},
	Word8Sle:  {name: "word8Sle", size: 1, signed: true},
	Word16Ule: {name: "word16Ule", size: 2},
	Word16Sle: {name: "word16Sle", size: 2, signed: true},
	Word16Ube: {name: "word16Ube", size: 2, big: true},
	Word16Sbe: {name: "word16Sbe", size: 2, signed: true, big: true},
	Word32Ule: {name: "word32Ule", size: 4},
	Word32Sle: {name: "word32Sle", size: 4, signed: true},
	Word32Ube: {name: "word32Ube", size: 4, big: true},
	Word32Sbe: {name: "word32Sbe", size: 4, signed: true, big: true},
	Word64Ule: {name: "word64Ule", size: 8},
	Word64Sle: {name: "word64Sle", size: 8, signed: true},
	Word64Ube: {name: "word64Ube", size: 8, big: true},
	Word64Sbe: {name: "word64Sbe", size: 8, signed: true, big: true},
	FloatLE:   {name: "floatle", size: 4, float: true},
	FloatBE:   {name: "floatbe", size: 4, float: true, big: true},
	DoubleLE:  {name: "doublele", size: 8, float: true},
	DoubleBE:  {name: "doublebe", size: 8, float: true, big: true},
}

var primitiveNames = func() map[string]Primitive {
	m := make(map[string]Primitive, len(primitives)+4)
	for p, info := range primitives {
		m[info.name] = p
	}
	// single-byte aliases accepted by the definition files
	m["word8Ule"] = Word8
	m["word8Ube"] = Word8
	m["word8Sbe"] = Word8Sle
	return m
}()

// LookupPrimitive resolves a primitive type name such as "word32Ule".
func LookupPrimitive(name string) (Primitive, bool) {
	p, ok := primitiveNames[name]
	return p, ok
}

func (p Primitive) String() string {
	if info, ok := primitives[p]; ok {
		return info.name
	}
	return fmt.Sprintf("primitive(%d)", uint8(p))
}

func (p Primitive) Size() int {
	return primitives[p].size
}

// Zero returns the canonical zero value decoded for p.
func (p Primitive) Zero() any {
	return p.read(make([]byte, p.Size()))
}

func (p Primitive) order() binary.ByteOrder {
	if primitives[p].big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (p Primitive) read(src []byte) any {
	order := p.order()
	switch p {
	case Word8:
		return src[0]
	case Word8Sle:
		return int8(src[0])
	case Word16Ule, Word16Ube:
		return order.Uint16(src)
	case Word16Sle, Word16Sbe:
		return int16(order.Uint16(src))
	case Word32Ule, Word32Ube:
		return order.Uint32(src)
	case Word32Sle, Word32Sbe:
		return int32(order.Uint32(src))
	case Word64Ule, Word64Ube:
		return order.Uint64(src)
	case Word64Sle, Word64Sbe:
		return int64(order.Uint64(src))
	case FloatLE, FloatBE:
		return math.Float32frombits(order.Uint32(src))
	case DoubleLE, DoubleBE:
		return math.Float64frombits(order.Uint64(src))
	}
	return nil
}

func (p Primitive) write(dst []byte, v any) error {
	info := primitives[p]
	order := p.order()
	if info.float {
		f, ok := toFloat64(v)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrValueType, v, p)
		}
		if info.size == 4 {
			if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return fmt.Errorf("%w: %v for %s", ErrValueRange, f, p)
			}
			order.PutUint32(dst, math.Float32bits(float32(f)))
		} else {
			order.PutUint64(dst, math.Float64bits(f))
		}
		return nil
	}

	var bits uint64
	if info.signed {
		n, ok := toInt64(v)
		if !ok {
			return fmt.Errorf("%w: %T for %s", ErrValueType, v, p)
		}
		width := uint(info.size * 8)
		if width < 64 {
			lo := -(int64(1) << (width - 1))
			hi := int64(1)<<(width-1) - 1
			if n < lo || n > hi {
				return fmt.Errorf("%w: %d for %s", ErrValueRange, n, p)
			}
		}
		bits = uint64(n)
	} else {
		n, ok := toUint64(v)
		if !ok {
			if i, signed := toInt64(v); signed {
				return fmt.Errorf("%w: %d for %s", ErrValueRange, i, p)
			}
			return fmt.Errorf("%w: %T for %s", ErrValueType, v, p)
		}
		width := uint(info.size * 8)
		if width < 64 && n>>width != 0 {
			return fmt.Errorf("%w: %d for %s", ErrValueRange, n, p)
		}
		bits = n
	}

	switch info.size {
	case 1:
		dst[0] = byte(bits)
	case 2:
		order.PutUint16(dst, uint16(bits))
	case 4:
		order.PutUint32(dst, uint32(bits))
	case 8:
		order.PutUint64(dst, bits)
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return toInt64(float64(n))
	}
	return 0, false
}

func toUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	case float64:
		if n != math.Trunc(n) || n < 0 || n >= math.MaxUint64 {
			return 0, false
		}
		return uint64(n), true
	case float32:
		return toUint64(float64(n))
	}
	i, ok := toInt64(v)
	if !ok || i < 0 {
		return 0, false
	}
	return uint64(i), true
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	i, ok := toInt64(v)
	if !ok {
		return 0, false
	}
	return float64(i), true
}
