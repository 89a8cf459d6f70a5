package schema

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedEncoding    = errors.New("schema: unsupported encoding")
	ErrUnknownStructReference = errors.New("schema: unknown struct reference")
	ErrUnsupportedStructArray = errors.New("schema: struct-typed array fields are not supported")
	ErrInvalidLength          = errors.New("schema: invalid field length")
	ErrDuplicateStruct        = errors.New("schema: duplicate struct")
	ErrDuplicateField         = errors.New("schema: duplicate field")
	ErrInvalidName            = errors.New("schema: invalid name")
	ErrShortPayload           = errors.New("schema: payload shorter than struct")
	ErrValueType              = errors.New("schema: value type mismatch")
	ErrValueRange             = errors.New("schema: value out of range")
	ErrArrayLength            = errors.New("schema: array value longer than field")
)

// EncodingUTF16LE is the only supported text encoding.
const EncodingUTF16LE = "UTF-16LE"

// FieldDecl is one declared struct field as found in the definition files.
type FieldDecl struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"`
	Length   int    `yaml:"length,omitempty" json:"length,omitempty"`
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
}

// StructDecl is one declared struct. Declarations are dependency ordered:
// a struct may only embed structs declared before it.
type StructDecl struct {
	Name   string      `yaml:"name" json:"name"`
	Fields []FieldDecl `yaml:"fields" json:"fields"`
}

// Typedefs maps alias names to primitive (or struct) type names.
type Typedefs map[string]string

// Record is a decoded struct value keyed by field name.
//
// Primitive fields hold the canonical Go type of their kind (see
// Primitive.Zero), arrays hold []any, text fields hold string and nested
// structs hold Record.
type Record map[string]any

// FieldKind tags the closed set of field layouts.
type FieldKind uint8

const (
	FieldPrimitive FieldKind = iota + 1
	FieldArray
	FieldText
	FieldNested
)

func (k FieldKind) String() string {
	switch k {
	case FieldPrimitive:
		return "primitive"
	case FieldArray:
		return "array"
	case FieldText:
		return "text"
	case FieldNested:
		return "nested"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// FieldSpec is one compiled field. Only the members relevant to Kind are set.
type FieldSpec struct {
	Name      string
	Kind      FieldKind
	Offset    int
	Size      int
	Primitive Primitive // FieldPrimitive, FieldArray element
	Count     int       // FieldArray
	Encoding  string    // FieldText
	Struct    *Struct   // FieldNested
}

// Struct is a compiled, immutable struct layout.
type Struct struct {
	name   string
	fields []FieldSpec
	size   int
}

func (s *Struct) Name() string {
	return s.name
}

// Size is the exact encoded byte length.
func (s *Struct) Size() int {
	return s.size
}

// Fields returns a copy of the ordered field plan.
func (s *Struct) Fields() []FieldSpec {
	out := make([]FieldSpec, len(s.fields))
	copy(out, s.fields)
	return out
}

// FieldError reports a value that could not be encoded into a field.
type FieldError struct {
	Struct string
	Field  string
	Err    error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("schema: struct=%s field=%s: %v", e.Struct, e.Field, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}
