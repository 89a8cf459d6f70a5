// Package definitions loads protocol definition documents (structs,
// typedefs, proto_structs, constants) from JSON or YAML files.
package definitions

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/danmuck/duelwire/internal/protocol"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const (
	DocStructs      = "structs"
	DocTypedefs     = "typedefs"
	DocProtoStructs = "proto_structs"
	DocConstants    = "constants"
)

var (
	ErrMissingDocument = errors.New("definitions: missing document")
	ErrInvalidDocument = errors.New("definitions: invalid document")
	ErrCommandID       = errors.New("definitions: command id out of range")
)

var extensions = []string{".json", ".yaml", ".yml"}

// ValidationError lists every schema violation found in one document.
type ValidationError struct {
	File    string
	Details []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("definitions: %s: %s", e.File, strings.Join(e.Details, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidDocument
}

// LoadDir reads the four documents from dir.
func LoadDir(dir string) (protocol.Definition, error) {
	def, err := LoadFS(os.DirFS(dir))
	if err != nil {
		return protocol.Definition{}, fmt.Errorf("%s: %w", dir, err)
	}
	return def, nil
}

// LoadFS reads the four documents from the root of fsys. Each document may
// be .json, .yaml or .yml; the first match in that order wins. typedefs and
// proto_structs are optional.
func LoadFS(fsys fs.FS) (protocol.Definition, error) {
	var def protocol.Definition

	structsNode, file, err := readDocument(fsys, DocStructs, structsSchema, true)
	if err != nil {
		return def, err
	}
	if def.Structs, err = decodeStructs(structsNode, file); err != nil {
		return def, err
	}

	typedefsNode, file, err := readDocument(fsys, DocTypedefs, typedefsSchema, false)
	if err != nil {
		return def, err
	}
	def.Typedefs = schema.Typedefs{}
	if typedefsNode != nil {
		if err := typedefsNode.Decode(&def.Typedefs); err != nil {
			return def, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, file, err)
		}
	}

	bindingsNode, file, err := readDocument(fsys, DocProtoStructs, protoStructsSchema, false)
	if err != nil {
		return def, err
	}
	def.ProtoStructs = map[proto.Direction]map[string]string{}
	if bindingsNode != nil {
		if err := bindingsNode.Decode(&def.ProtoStructs); err != nil {
			return def, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, file, err)
		}
	}

	constantsNode, file, err := readDocument(fsys, DocConstants, constantsSchema, true)
	if err != nil {
		return def, err
	}
	if def.Protos, err = decodeProtos(constantsNode, file); err != nil {
		return def, err
	}

	log.Debug().Int("structs", len(def.Structs)).Int("typedefs", len(def.Typedefs)).
		Int("ctos", len(def.Protos[proto.CTOS])).Int("stoc", len(def.Protos[proto.STOC])).
		Msg("definitions.LoadFS ok")
	return def, nil
}

// Catalog loads dir and compiles it.
func Catalog(dir string) (*protocol.Catalog, error) {
	def, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	return protocol.NewCatalog(def)
}

func readDocument(fsys fs.FS, name, schemaText string, required bool) (*yaml.Node, string, error) {
	for _, ext := range extensions {
		file := name + ext
		data, err := fs.ReadFile(fsys, file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, file, err
		}
		var doc yaml.Node
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, file, fmt.Errorf("%w: %s: %v", ErrInvalidDocument, file, err)
		}
		if len(doc.Content) == 0 {
			return nil, file, fmt.Errorf("%w: %s: empty document", ErrInvalidDocument, file)
		}
		root := doc.Content[0]
		if err := validate(root, file, schemaText); err != nil {
			return nil, file, err
		}
		log.Debug().Str("file", file).Msg("definitions.readDocument")
		return root, file, nil
	}
	if required {
		return nil, name, fmt.Errorf("%w: %s (%s)", ErrMissingDocument, name, strings.Join(extensions, ", "))
	}
	return nil, name, nil
}

// decodeStructs keeps declaration order, which decides layout dependencies.
func decodeStructs(node *yaml.Node, file string) ([]schema.StructDecl, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: %s: structs must be a mapping", ErrInvalidDocument, file)
	}
	out := make([]schema.StructDecl, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		decl := schema.StructDecl{Name: node.Content[i].Value}
		if err := node.Content[i+1].Decode(&decl.Fields); err != nil {
			return nil, fmt.Errorf("%w: %s: struct %s: %v", ErrInvalidDocument, file, decl.Name, err)
		}
		out = append(out, decl)
	}
	return out, nil
}

// decodeProtos reads the CTOS and STOC sections; other sections are ignored.
func decodeProtos(node *yaml.Node, file string) (map[proto.Direction]map[uint8]string, error) {
	out := make(map[proto.Direction]map[uint8]string, 2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		dir, err := proto.ParseDirection(node.Content[i].Value)
		if err != nil || node.Content[i].Value != string(dir) {
			continue
		}
		section := node.Content[i+1]
		table := make(map[uint8]string, len(section.Content)/2)
		for j := 0; j+1 < len(section.Content); j += 2 {
			key := section.Content[j].Value
			id, err := strconv.ParseUint(key, 10, 8)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %s %q", ErrCommandID, file, dir, key)
			}
			table[uint8(id)] = section.Content[j+1].Value
		}
		out[dir] = table
	}
	return out, nil
}

func validate(root *yaml.Node, file, schemaText string) error {
	var doc any
	if err := root.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, file, err)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schemaText),
		gojsonschema.NewGoLoader(normalize(doc)),
	)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, file, err)
	}
	if result.Valid() {
		return nil
	}
	verr := &ValidationError{File: file}
	for _, re := range result.Errors() {
		verr.Details = append(verr.Details, re.String())
	}
	log.Error().Str("file", file).Strs("errors", verr.Details).Msg("definitions.validate failed")
	return verr
}

// normalize turns YAML maps with non-string keys (such as unquoted command
// ids) into string-keyed maps so the document can be validated as JSON.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
