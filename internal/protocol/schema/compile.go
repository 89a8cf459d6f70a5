package schema

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
)

// Compile builds immutable layouts for decls in order. A field type is first
// resolved through typedefs; it then names either a primitive or a struct
// compiled earlier in decls.
func Compile(decls []StructDecl, typedefs Typedefs) (map[string]*Struct, error) {
	log.Debug().Int("structs", len(decls)).Int("typedefs", len(typedefs)).Msg("schema.Compile")
	declared := make(map[string]int, len(decls))
	for i, decl := range decls {
		if _, ok := declared[decl.Name]; ok {
			log.Error().Str("struct", decl.Name).Msg("schema.Compile duplicate struct")
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStruct, decl.Name)
		}
		declared[decl.Name] = i
	}

	out := make(map[string]*Struct, len(decls))
	for i, decl := range decls {
		s, err := compileStruct(decl, typedefs, out)
		if err != nil {
			if name := unresolvedName(err); name != "" {
				if j, later := declared[name]; later && j >= i {
					err = fmt.Errorf("%w (declared after %s)", err, decl.Name)
				}
			}
			log.Error().Err(err).Str("struct", decl.Name).Msg("schema.Compile failed")
			return nil, err
		}
		out[decl.Name] = s
	}
	log.Debug().Int("structs", len(out)).Msg("schema.Compile ok")
	return out, nil
}

func compileStruct(decl StructDecl, typedefs Typedefs, compiled map[string]*Struct) (*Struct, error) {
	if strings.TrimSpace(decl.Name) == "" {
		return nil, fmt.Errorf("%w: struct name is required", ErrInvalidName)
	}
	s := &Struct{name: decl.Name, fields: make([]FieldSpec, 0, len(decl.Fields))}
	seen := make(map[string]struct{}, len(decl.Fields))
	for _, fd := range decl.Fields {
		if _, dup := seen[fd.Name]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateField, decl.Name, fd.Name)
		}
		seen[fd.Name] = struct{}{}

		f, err := compileField(decl.Name, fd, typedefs, compiled)
		if err != nil {
			return nil, err
		}
		f.Offset = s.size
		s.size += f.Size
		s.fields = append(s.fields, f)
	}
	return s, nil
}

func compileField(owner string, fd FieldDecl, typedefs Typedefs, compiled map[string]*Struct) (FieldSpec, error) {
	if fd.Encoding != "" {
		if fd.Encoding != EncodingUTF16LE {
			return FieldSpec{}, fmt.Errorf("%w: %s.%s uses %q", ErrUnsupportedEncoding, owner, fd.Name, fd.Encoding)
		}
		if fd.Length <= 0 {
			return FieldSpec{}, fmt.Errorf("%w: %s.%s text length %d", ErrInvalidLength, owner, fd.Name, fd.Length)
		}
		return FieldSpec{
			Name:     fd.Name,
			Kind:     FieldText,
			Size:     fd.Length * 2,
			Encoding: fd.Encoding,
		}, nil
	}
	if fd.Length < 0 {
		return FieldSpec{}, fmt.Errorf("%w: %s.%s array length %d", ErrInvalidLength, owner, fd.Name, fd.Length)
	}

	typ := fd.Type
	if alias, ok := typedefs[typ]; ok {
		typ = alias
	}

	if nested, ok := compiled[typ]; ok {
		if fd.Length > 0 {
			return FieldSpec{}, fmt.Errorf("%w: %s.%s is %s[%d]", ErrUnsupportedStructArray, owner, fd.Name, typ, fd.Length)
		}
		return FieldSpec{Name: fd.Name, Kind: FieldNested, Size: nested.size, Struct: nested}, nil
	}

	prim, ok := LookupPrimitive(typ)
	if !ok {
		return FieldSpec{}, &referenceError{owner: owner, field: fd.Name, name: typ}
	}
	if fd.Length > 0 {
		return FieldSpec{
			Name:      fd.Name,
			Kind:      FieldArray,
			Size:      prim.Size() * fd.Length,
			Primitive: prim,
			Count:     fd.Length,
		}, nil
	}
	return FieldSpec{Name: fd.Name, Kind: FieldPrimitive, Size: prim.Size(), Primitive: prim}, nil
}

type referenceError struct {
	owner string
	field string
	name  string
}

func (e *referenceError) Error() string {
	return fmt.Sprintf("%v: %s.%s references %q", ErrUnknownStructReference, e.owner, e.field, e.name)
}

func (e *referenceError) Unwrap() error {
	return ErrUnknownStructReference
}

func unresolvedName(err error) string {
	if ref, ok := err.(*referenceError); ok {
		return ref.name
	}
	return ""
}
