package protocol

import (
	"fmt"

	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
)

// Decode turns a payload into a record using the struct bound to id.
// It returns a nil record when the command is unknown or carries no struct.
func (c *Catalog) Decode(dir proto.Direction, id uint8, payload []byte) (schema.Record, error) {
	command, ok := c.protos.Name(dir, id)
	if !ok {
		return nil, nil
	}
	s, ok := c.StructFor(dir, command)
	if !ok {
		return nil, nil
	}
	rec, err := s.Decode(payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s_%s: %w", dir, command, err)
	}
	return rec, nil
}
