package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// LengthLen is the size of the little-endian length prefix.
	LengthLen = 2
	// HeaderLen covers the length prefix and the command byte.
	HeaderLen = 3
	// MaxPayloadLen is the largest payload a u16 length can describe.
	MaxPayloadLen = 0xFFFF - 1
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrInvalidLength   = errors.New("frame: length does not cover command byte")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the wire prefix: Length counts the command byte plus payload.
type Header struct {
	Length  uint16
	Command uint8
}

// PayloadLen is Length-1.
func (h Header) PayloadLen() int {
	return int(h.Length) - 1
}

// FrameLen is the full wire size of the frame.
func (h Header) FrameLen() int {
	return LengthLen + int(h.Length)
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame reads.
type Limits struct {
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: MaxPayloadLen}
}

// Encode builds a wire frame for command and payload.
func Encode(command uint8, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(payload)+1))
	buf[2] = command
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// PeekLength reads the length prefix at the start of b.
func PeekLength(b []byte) (uint16, bool) {
	if len(b) < LengthLen {
		return 0, false
	}
	return binary.LittleEndian.Uint16(b[0:2]), true
}

// DecodeHeader reads the length prefix and command byte at the start of b.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	h := Header{
		Length:  binary.LittleEndian.Uint16(b[0:2]),
		Command: b[2],
	}
	if h.Length < 1 {
		return Header{}, ErrInvalidLength
	}
	return h, nil
}

// ReadFrame reads one frame from a stream. A zero length is rejected
// with ErrInvalidLength since it leaves no room for the command byte.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var head [HeaderLen]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	h, err := DecodeHeader(head[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen() > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}
	payload := make([]byte, h.PayloadLen())
	if len(payload) > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}
