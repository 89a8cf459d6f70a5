package protocol

import (
	"fmt"
	"sort"

	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Definition is the already-parsed protocol configuration.
type Definition struct {
	Structs  []schema.StructDecl
	Typedefs schema.Typedefs
	// Protos maps each direction's command ids to canonical names.
	Protos map[proto.Direction]map[uint8]string
	// ProtoStructs maps command names to the struct carried as payload.
	ProtoStructs map[proto.Direction]map[string]string
}

// Catalog is the compiled, immutable protocol: struct layouts, command
// tables and the command -> struct binding.
type Catalog struct {
	structs      map[string]*schema.Struct
	protos       *proto.Directory
	protoStructs map[proto.Direction]map[string]*schema.Struct
}

// NewCatalog compiles def. Every failure is a configuration fault.
func NewCatalog(def Definition) (*Catalog, error) {
	structs, err := schema.Compile(def.Structs, def.Typedefs)
	if err != nil {
		return nil, err
	}
	dir, err := proto.NewDirectory(def.Protos)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		structs:      structs,
		protos:       dir,
		protoStructs: make(map[proto.Direction]map[string]*schema.Struct, 2),
	}
	for _, d := range proto.Directions() {
		bound := make(map[string]*schema.Struct)
		for command, structName := range def.ProtoStructs[d] {
			if !dir.Has(d, command) {
				log.Error().Str("direction", string(d)).Str("command", command).
					Msg("protocol.NewCatalog proto struct for unknown command")
				return nil, fmt.Errorf("%w: %s_%s", ErrUnknownCommand, d, command)
			}
			s, ok := structs[structName]
			if !ok {
				log.Error().Str("direction", string(d)).Str("command", command).Str("struct", structName).
					Msg("protocol.NewCatalog proto struct for unknown struct")
				return nil, fmt.Errorf("%w: %s_%s -> %s", ErrUnknownStruct, d, command, structName)
			}
			bound[command] = s
		}
		c.protoStructs[d] = bound
	}
	log.Debug().Int("structs", len(structs)).
		Int("ctos", len(dir.Commands(proto.CTOS))).
		Int("stoc", len(dir.Commands(proto.STOC))).
		Msg("protocol.NewCatalog ok")
	return c, nil
}

// Protos exposes the command tables.
func (c *Catalog) Protos() *proto.Directory {
	return c.protos
}

// Struct returns a compiled struct by name.
func (c *Catalog) Struct(name string) (*schema.Struct, bool) {
	s, ok := c.structs[name]
	return s, ok
}

// StructNames lists compiled struct names sorted.
func (c *Catalog) StructNames() []string {
	out := make([]string, 0, len(c.structs))
	for name := range c.structs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StructFor returns the payload struct bound to command, if any.
func (c *Catalog) StructFor(dir proto.Direction, command string) (*schema.Struct, bool) {
	s, ok := c.protoStructs[dir][command]
	return s, ok
}
