package dispatch

import (
	"fmt"

	"github.com/danmuck/duelwire/internal/protocol/proto"
)

// FeedbackKind names the condition that ended a dispatch call early.
type FeedbackKind string

const (
	BufferLength  FeedbackKind = "BUFFER_LENGTH"
	ProtoLength   FeedbackKind = "PROTO_LENGTH"
	MessageLength FeedbackKind = "MESSAGE_LENGTH"
	InvalidPacket FeedbackKind = "INVALID_PACKET"
	Oversize      FeedbackKind = "OVERSIZE"
)

// Truncation reports whether the kind means the buffer ended mid-frame and
// more bytes may complete it.
func (k FeedbackKind) Truncation() bool {
	return k == BufferLength || k == ProtoLength || k == MessageLength
}

// Feedback is returned as data alongside whatever frames were accepted.
type Feedback struct {
	Kind    FeedbackKind
	Message string
}

func (f Feedback) String() string {
	return string(f.Kind) + ": " + f.Message
}

func newFeedback(kind FeedbackKind, dir proto.Direction, limit int) *Feedback {
	var msg string
	switch kind {
	case BufferLength:
		msg = fmt.Sprintf("Bad %s buffer length", dir)
	case ProtoLength:
		msg = fmt.Sprintf("Bad %s proto length", dir)
	case MessageLength:
		msg = fmt.Sprintf("Bad %s message length", dir)
	case InvalidPacket:
		msg = fmt.Sprintf("%s proto not allowed", dir)
	case Oversize:
		msg = fmt.Sprintf("Oversized %s %d", dir, limit)
	}
	return &Feedback{Kind: kind, Message: msg}
}
