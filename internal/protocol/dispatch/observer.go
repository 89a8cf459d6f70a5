package dispatch

import (
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/protocol/proto"
)

// Outcome is what happened to one complete frame.
type Outcome string

const (
	Forwarded Outcome = "forwarded"
	Mutated   Outcome = "mutated"
	Cancelled Outcome = "cancelled"
	Filtered  Outcome = "filtered"
	Aborted   Outcome = "aborted"
)

// Observer receives per-frame events from a Dispatcher. Implementations must
// be safe for concurrent use when one Dispatcher serves many sessions.
type Observer interface {
	ObserveFrame(dir proto.Direction, command string, outcome Outcome)
	ObserveVerdict(dir proto.Direction, command string, kind handler.Kind)
	ObserveFeedback(dir proto.Direction, kind FeedbackKind)
}

type nopObserver struct{}

func (nopObserver) ObserveFrame(proto.Direction, string, Outcome)        {}
func (nopObserver) ObserveVerdict(proto.Direction, string, handler.Kind) {}
func (nopObserver) ObserveFeedback(proto.Direction, FeedbackKind)        {}
