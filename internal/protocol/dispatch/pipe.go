package dispatch

import (
	"errors"
	"fmt"

	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/protocol/proto"
)

// DefaultMaxBuffer bounds the bytes a Pipe holds while waiting for a frame
// to complete. One maximal frame plus a receive chunk fits.
const DefaultMaxBuffer = frame.HeaderLen + frame.MaxPayloadLen + 64*1024

var (
	ErrPipeClosed     = errors.New("dispatch: pipe closed")
	ErrBufferOverflow = errors.New("dispatch: receive buffer overflow")
)

// PipeOptions configures one direction of a session.
type PipeOptions struct {
	// Preconnect lists the commands accepted before the first frame gets
	// through. Empty disables preconnect mode.
	Preconnect []string
	Params     any
	MaxBuffer  int
}

// Step is what one Feed produced. Close is set together with Reason when
// the direction must be shut down; Frames are still valid to forward.
type Step struct {
	Frames   [][]byte
	Feedback []*Feedback
	Close    bool
	Reason   string
}

// Pipe keeps the rolling receive buffer of one direction of a session and
// applies the session rules on top of Process: preconnect filtering until
// the first accepted frame, draining after OVERSIZE and waiting on
// truncation.
type Pipe struct {
	d          *Dispatcher
	dir        proto.Direction
	filter     []string
	preconnect bool
	params     any
	max        int
	buf        []byte
	closed     bool
}

func NewPipe(d *Dispatcher, dir proto.Direction, opts PipeOptions) *Pipe {
	p := &Pipe{
		d:      d,
		dir:    dir,
		params: opts.Params,
		max:    opts.MaxBuffer,
	}
	if p.max <= 0 {
		p.max = DefaultMaxBuffer
	}
	if len(opts.Preconnect) > 0 {
		p.preconnect = true
		p.filter = append([]string(nil), opts.Preconnect...)
	}
	return p
}

func (p *Pipe) Direction() proto.Direction {
	return p.dir
}

// Preconnect reports whether the pipe is still in preconnect mode.
func (p *Pipe) Preconnect() bool {
	return p.preconnect
}

// Buffered is the number of bytes waiting for more input.
func (p *Pipe) Buffered() int {
	return len(p.buf)
}

// Feed appends chunk and dispatches as much of the buffer as possible.
func (p *Pipe) Feed(chunk []byte) (Step, error) {
	var step Step
	if p.closed {
		return step, ErrPipeClosed
	}
	if len(p.buf)+len(chunk) > p.max {
		p.closed = true
		return step, fmt.Errorf("%w: %d bytes", ErrBufferOverflow, len(p.buf)+len(chunk))
	}
	p.buf = append(p.buf, chunk...)

	for {
		res := p.d.Process(Request{
			Buffer:     p.buf,
			Direction:  p.dir,
			Filter:     p.filter,
			Params:     p.params,
			Preconnect: p.preconnect,
		})
		p.consume(res.Consumed)
		step.Frames = append(step.Frames, res.Frames...)
		if res.Feedback != nil {
			step.Feedback = append(step.Feedback, res.Feedback)
		}

		wasPreconnect := p.preconnect
		if wasPreconnect && len(res.Frames) > 0 {
			p.preconnect = false
			p.filter = nil
		}

		switch {
		case res.Aborted && wasPreconnect:
			return p.close(step, "preconnect call aborted"), nil
		case res.Feedback == nil:
			return step, nil
		case res.Feedback.Kind == InvalidPacket:
			return p.close(step, res.Feedback.Message), nil
		case res.Feedback.Kind == Oversize && wasPreconnect:
			return p.close(step, res.Feedback.Message), nil
		case res.Feedback.Kind == Oversize && res.Consumed > 0:
			// keep draining what is already buffered
			continue
		case res.Feedback.Kind == Oversize:
			return p.close(step, res.Feedback.Message), nil
		case zeroLength(p.buf):
			return p.close(step, res.Feedback.Message), nil
		default:
			return step, nil
		}
	}
}

func (p *Pipe) consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(p.buf) {
		p.buf = p.buf[:0]
		return
	}
	rest := copy(p.buf, p.buf[n:])
	p.buf = p.buf[:rest]
}

func (p *Pipe) close(step Step, reason string) Step {
	p.closed = true
	p.buf = nil
	step.Close = true
	step.Reason = reason
	return step
}

// zeroLength reports a declared length of 0, which no further input can fix.
func zeroLength(buf []byte) bool {
	l, ok := frame.PeekLength(buf)
	return ok && l == 0
}
