package handler

import "fmt"

// Kind tags a handler verdict.
type Kind uint8

const (
	KindContinue Kind = iota
	KindCancelFrame
	KindReplace
	KindAbortCall
	KindShrink
)

func (k Kind) String() string {
	switch k {
	case KindContinue:
		return "continue"
	case KindCancelFrame:
		return "cancel_frame"
	case KindReplace:
		return "replace"
	case KindAbortCall:
		return "abort_call"
	case KindShrink:
		return "shrink"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Verdict is what a handler returns for one frame. The zero value is
// Continue. Build verdicts with the constructors below.
type Verdict struct {
	kind    Kind
	payload []byte
	shrink  int
}

// Continue hands the frame to the next handler.
func Continue() Verdict {
	return Verdict{kind: KindContinue}
}

// CancelFrame drops the current frame only.
func CancelFrame() Verdict {
	return Verdict{kind: KindCancelFrame}
}

// Replace substitutes the frame payload with payload. The handler chain
// keeps running against the new bytes.
func Replace(payload []byte) Verdict {
	return Verdict{kind: KindReplace, payload: payload}
}

// AbortCall drops every frame of the current dispatch call.
func AbortCall() Verdict {
	return Verdict{kind: KindAbortCall}
}

// Shrink cuts n trailing bytes off the payload. Negative n is treated as 0.
func Shrink(n int) Verdict {
	if n < 0 {
		n = 0
	}
	return Verdict{kind: KindShrink, shrink: n}
}

func (v Verdict) Kind() Kind {
	return v.kind
}

// Payload is the replacement bytes of a Replace verdict.
func (v Verdict) Payload() []byte {
	return v.payload
}

// ShrinkBy is the byte count of a Shrink verdict.
func (v Verdict) ShrinkBy() int {
	return v.shrink
}

func (v Verdict) String() string {
	switch v.kind {
	case KindReplace:
		return fmt.Sprintf("replace(%d)", len(v.payload))
	case KindShrink:
		return fmt.Sprintf("shrink(%d)", v.shrink)
	default:
		return v.kind.String()
	}
}
