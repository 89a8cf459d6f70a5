package protocol

import (
	"fmt"

	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
)

// Encode builds a wire frame for command. payload is nil (no payload),
// []byte (raw payload) or a schema.Record / map[string]any encoded with the
// struct bound to command.
func (c *Catalog) Encode(dir proto.Direction, command string, payload any) ([]byte, error) {
	id, err := c.protos.ID(dir, command)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch p := payload.(type) {
	case nil:
	case []byte:
		body = p
	case schema.Record:
		body, err = c.encodeRecord(dir, command, p)
	case map[string]any:
		body, err = c.encodeRecord(dir, command, schema.Record(p))
	default:
		return nil, fmt.Errorf("%w: %T", ErrPayloadType, payload)
	}
	if err != nil {
		return nil, err
	}
	return frame.Encode(id, body)
}

// Prepare is Encode addressed by a qualified name such as "STOC_CHAT".
func (c *Catalog) Prepare(qualified string, payload any) ([]byte, error) {
	q, err := proto.ParseQualifiedName(qualified)
	if err != nil {
		return nil, err
	}
	return c.Encode(q.Direction, q.Command, payload)
}

func (c *Catalog) encodeRecord(dir proto.Direction, command string, rec schema.Record) ([]byte, error) {
	s, ok := c.StructFor(dir, command)
	if !ok {
		return nil, fmt.Errorf("%w: %s_%s", ErrNoStructForCommand, dir, command)
	}
	return s.Encode(rec)
}
