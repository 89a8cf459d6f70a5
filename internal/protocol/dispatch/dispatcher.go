// Package dispatch splits a receive buffer into frames and runs each frame
// through the handler pipeline.
package dispatch

import (
	"strconv"

	"github.com/danmuck/duelwire/internal/protocol"
	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// DefaultLimit is the iteration ceiling outside preconnect mode.
const DefaultLimit = 1000

// MinLimit is the smallest ceiling that lets one frame complete: length,
// command byte and payload each cost an iteration.
const MinLimit = 3

// legacyClientLength is a declared CTOS length whose truncation is not
// reported. 17735 is "GE" read as a little-endian u16, the start of an HTTP
// GET arriving on the game port.
const legacyClientLength = 17735

type phase uint8

const (
	phaseLength phase = iota
	phaseProto
	phasePayload
)

// Request is one dispatch call.
type Request struct {
	Buffer    []byte
	Direction proto.Direction
	// Filter lists the command names allowed through. Nil disables
	// filtering; a non-nil filter also rejects ids with no known name.
	Filter []string
	Params any
	// Preconnect turns a filtered command into INVALID_PACKET and sets the
	// ceiling to len(Filter)*3.
	Preconnect bool
}

// Result holds the accepted frames in input order. Frames never alias the
// request buffer. Consumed is the number of leading buffer bytes the caller
// may drop; the remainder is an incomplete frame or unprocessed input.
type Result struct {
	Frames   [][]byte
	Feedback *Feedback
	Consumed int
	// Aborted is set when a handler ended the call with AbortCall.
	Aborted bool
}

type Option func(*Dispatcher)

// WithLimit sets the iteration ceiling used outside preconnect mode. Values
// below MinLimit are raised to it; zero or less keeps DefaultLimit.
func WithLimit(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.limit = max(n, MinLimit)
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// Dispatcher is the immutable context of a dispatch: catalog, registry and
// limits. One Dispatcher may serve many sessions as long as the registry is
// not modified while Process runs.
type Dispatcher struct {
	catalog  *protocol.Catalog
	registry *handler.Registry
	limit    int
	observer Observer
}

func New(catalog *protocol.Catalog, registry *handler.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:  catalog,
		registry: registry,
		limit:    DefaultLimit,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.registry == nil {
		d.registry = handler.NewRegistry(catalog.Protos())
	}
	return d
}

func (d *Dispatcher) Catalog() *protocol.Catalog {
	return d.catalog
}

func (d *Dispatcher) Limit() int {
	return d.limit
}

// Process runs one single-pass transform over req.Buffer. Each phase of a
// frame (length, command byte, payload) costs one iteration. The first
// terminating condition sets Feedback; frames accepted before it are kept,
// except after INVALID_PACKET or an AbortCall verdict, which return none.
func (d *Dispatcher) Process(req Request) Result {
	dir := req.Direction
	limit := d.limit
	if req.Preconnect {
		limit = len(req.Filter) * 3
	}
	var allowed map[string]struct{}
	if req.Filter != nil {
		allowed = make(map[string]struct{}, len(req.Filter))
		for _, name := range req.Filter {
			allowed[name] = struct{}{}
		}
	}

	var (
		res   Result
		buf   = req.Buffer
		state = phaseLength
		hdr   frame.Header
	)
	for i := 0; i < limit; i++ {
		switch state {
		case phaseLength:
			l, ok := frame.PeekLength(buf)
			if !ok {
				if len(buf) != 0 {
					return d.stop(res, newFeedback(BufferLength, dir, limit), dir)
				}
				return res
			}
			if l == 0 {
				return d.stop(res, newFeedback(MessageLength, dir, limit), dir)
			}
			state = phaseProto
		case phaseProto:
			h, err := frame.DecodeHeader(buf)
			if err != nil {
				return d.stop(res, newFeedback(ProtoLength, dir, limit), dir)
			}
			hdr = h
			state = phasePayload
		case phasePayload:
			id := hdr.Command
			total := hdr.FrameLen()
			if len(buf) < total {
				if dir == proto.STOC || hdr.Length != legacyClientLength {
					return d.stop(res, newFeedback(MessageLength, dir, limit), dir)
				}
				log.Debug().Str("direction", string(dir)).Uint16("length", hdr.Length).
					Msg("dispatch.Process legacy length truncation ignored")
				return res
			}

			command, known := d.catalog.Protos().Name(dir, id)
			if allowed != nil {
				_, ok := allowed[command]
				if !known || !ok {
					if req.Preconnect {
						d.observer.ObserveFrame(dir, label(command, id), Filtered)
						log.Debug().Str("direction", string(dir)).Uint8("id", id).Str("command", command).
							Msg("dispatch.Process preconnect proto rejected")
						return d.abort(req, newFeedback(InvalidPacket, dir, limit))
					}
					d.observer.ObserveFrame(dir, label(command, id), Filtered)
					buf = buf[total:]
					res.Consumed += total
					state = phaseLength
					continue
				}
			}

			out, outcome := d.runFrame(req, buf[:total], id, command, known, res.Frames)
			d.observer.ObserveFrame(dir, label(command, id), outcome)
			if outcome == Aborted {
				return d.abort(req, res.Feedback)
			}
			if out != nil {
				res.Frames = append(res.Frames, out)
			}
			buf = buf[total:]
			res.Consumed += total
			state = phaseLength
		}
	}
	if len(buf) > 0 {
		return d.stop(res, newFeedback(Oversize, dir, limit), dir)
	}
	return res
}

// runFrame runs tiers 0..DispatchTiers-1 for one complete wire frame and
// returns the bytes to forward, or nil when the frame is dropped.
func (d *Dispatcher) runFrame(req Request, wire []byte, id uint8, command string, known bool, accepted [][]byte) ([]byte, Outcome) {
	dir := req.Direction
	payload := wire[frame.HeaderLen:]
	mutated := false

	if known {
		for tier := 0; tier < handler.DispatchTiers; tier++ {
			for _, h := range d.registry.Handlers(dir, tier, id) {
				v := h.Call(handler.Input{
					Direction: dir,
					Command:   command,
					ID:        id,
					Payload:   payload,
					Record:    d.decode(dir, id, payload),
					Accepted:  accepted,
					Params:    req.Params,
				})
				if !h.Synchronous {
					continue
				}
				d.observer.ObserveVerdict(dir, command, v.Kind())
				switch v.Kind() {
				case handler.KindCancelFrame:
					return nil, Cancelled
				case handler.KindAbortCall:
					return nil, Aborted
				case handler.KindReplace:
					payload = v.Payload()
					mutated = true
				case handler.KindShrink:
					n := v.ShrinkBy()
					if n > len(payload) {
						return nil, Cancelled
					}
					payload = payload[:len(payload)-n]
					mutated = true
				}
			}
		}
	}

	if !mutated {
		return append([]byte(nil), wire...), Forwarded
	}
	out, err := frame.Encode(id, payload)
	if err != nil {
		log.Error().Err(err).Str("direction", string(dir)).Str("command", command).
			Msg("dispatch.runFrame rebuild failed, frame dropped")
		return nil, Cancelled
	}
	return out, Mutated
}

func (d *Dispatcher) decode(dir proto.Direction, id uint8, payload []byte) schema.Record {
	rec, err := d.catalog.Decode(dir, id, payload)
	if err != nil {
		log.Debug().Err(err).Str("direction", string(dir)).Uint8("id", id).
			Msg("dispatch.decode record unavailable")
		return nil
	}
	return rec
}

func (d *Dispatcher) stop(res Result, fb *Feedback, dir proto.Direction) Result {
	res.Feedback = fb
	d.observer.ObserveFeedback(dir, fb.Kind)
	log.Debug().Str("direction", string(dir)).Str("kind", string(fb.Kind)).
		Int("frames", len(res.Frames)).Int("consumed", res.Consumed).Msg("dispatch.Process " + fb.Message)
	return res
}

// abort discards everything accepted so far; the whole buffer counts as
// consumed.
func (d *Dispatcher) abort(req Request, fb *Feedback) Result {
	res := Result{Feedback: fb, Consumed: len(req.Buffer), Aborted: fb == nil}
	if fb != nil {
		d.observer.ObserveFeedback(req.Direction, fb.Kind)
	}
	log.Debug().Str("direction", string(req.Direction)).Bool("feedback", fb != nil).Msg("dispatch.Process call aborted")
	return res
}

func label(command string, id uint8) string {
	if command != "" {
		return command
	}
	return strconv.Itoa(int(id))
}
