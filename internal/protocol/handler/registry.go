// Package handler holds the priority-tiered handler registry consulted by
// the frame dispatcher.
package handler

import (
	"errors"
	"fmt"

	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

const (
	// Tiers is the number of priority tiers accepted by Register.
	Tiers = 5
	// DispatchTiers is the number of tiers the dispatcher visits. Tier 4 is
	// accepted at registration and never run.
	DispatchTiers = 4
)

var (
	ErrInvalidPriority = errors.New("handler: invalid priority")
	ErrNilHandler      = errors.New("handler: handler func is nil")
)

// Input is everything a handler sees for one frame.
type Input struct {
	Direction proto.Direction
	Command   string
	ID        uint8
	// Payload is the current payload, including edits made by earlier
	// handlers in the chain.
	Payload []byte
	// Record is Payload decoded with the command's struct, nil when the
	// command carries no struct.
	Record schema.Record
	// Accepted holds the frames already accepted in this dispatch call.
	Accepted [][]byte
	Params   any
}

// Func inspects one frame and decides its fate.
type Func func(Input) Verdict

// Handler is one registration.
type Handler struct {
	Func        Func
	Synchronous bool
}

// Call runs the handler. Synchronous handlers return their verdict.
// Asynchronous handlers get their own copies of Payload and Accepted, run on
// a separate goroutine that is never joined, and always yield Continue.
func (h Handler) Call(in Input) Verdict {
	if h.Synchronous {
		return h.Func(in)
	}
	in.Payload = append([]byte(nil), in.Payload...)
	accepted := make([][]byte, len(in.Accepted))
	for i, f := range in.Accepted {
		accepted[i] = append([]byte(nil), f...)
	}
	in.Accepted = accepted
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("direction", string(in.Direction)).Str("command", in.Command).
					Interface("panic", r).Msg("handler.Call async handler panicked")
			}
		}()
		h.Func(in)
	}()
	return Continue()
}

type bucket [Tiers]map[uint8][]Handler

// Registry maps direction -> priority tier -> command id -> handlers in
// registration order. Populate it before traffic starts; it is not safe for
// registration concurrent with dispatch.
type Registry struct {
	protos  *proto.Directory
	buckets map[proto.Direction]*bucket
	count   int
}

// NewRegistry creates an empty registry resolving names through protos.
func NewRegistry(protos *proto.Directory) *Registry {
	r := &Registry{protos: protos, buckets: make(map[proto.Direction]*bucket, 2)}
	for _, d := range proto.Directions() {
		b := &bucket{}
		for i := range b {
			b[i] = make(map[uint8][]Handler)
		}
		r.buckets[d] = b
	}
	return r
}

// Register appends fn to the tail of the (direction, priority, command)
// list named by a qualified name such as "CTOS_JOIN_GAME".
func (r *Registry) Register(qualified string, fn Func, synchronous bool, priority int) error {
	if priority < 0 || priority >= Tiers {
		log.Error().Str("proto", qualified).Int("priority", priority).Msg("handler.Register invalid priority")
		return fmt.Errorf("%w: %d not in [0,%d]", ErrInvalidPriority, priority, Tiers-1)
	}
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, qualified)
	}
	q, err := proto.ParseQualifiedName(qualified)
	if err != nil {
		log.Error().Err(err).Str("proto", qualified).Msg("handler.Register invalid name")
		return err
	}
	id, err := r.protos.ID(q.Direction, q.Command)
	if err != nil {
		log.Error().Err(err).Str("proto", qualified).Msg("handler.Register unknown command")
		return err
	}
	b := r.buckets[q.Direction]
	b[priority][id] = append(b[priority][id], Handler{Func: fn, Synchronous: synchronous})
	r.count++
	log.Debug().Str("proto", qualified).Uint8("id", id).Int("priority", priority).
		Bool("sync", synchronous).Msg("handler.Register")
	return nil
}

// Handlers returns the handlers of one bucket in registration order. The
// returned slice must not be modified.
func (r *Registry) Handlers(dir proto.Direction, priority int, id uint8) []Handler {
	b, ok := r.buckets[dir]
	if !ok || priority < 0 || priority >= Tiers {
		return nil
	}
	return b[priority][id]
}

// Len reports the total number of registrations.
func (r *Registry) Len() int {
	return r.count
}

// Protos is the directory names are resolved against.
func (r *Registry) Protos() *proto.Directory {
	return r.protos
}
