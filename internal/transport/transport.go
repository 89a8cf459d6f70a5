// Package transport moves encoded frames over the two destination kinds the
// relay speaks: stream sockets and message-oriented websockets.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Kind names a destination family.
type Kind string

const (
	KindMessage Kind = "message"
	KindStream  Kind = "stream"
)

var (
	ErrClosed      = errors.New("transport: destination closed")
	ErrNilEncoder  = errors.New("transport: encoder is nil")
	ErrEmptyFrames = errors.New("transport: nothing to send")
)

// Destination accepts encoded frames. Send returns once the underlying
// socket has accepted the bytes.
type Destination interface {
	Kind() Kind
	Send(ctx context.Context, b []byte) error
	Close() error
}

// Conn is a Destination that can also be read from.
type Conn interface {
	Destination
	// Recv returns the next chunk of received bytes. Stream chunks carry no
	// frame alignment; message chunks are whole websocket messages.
	Recv(ctx context.Context) ([]byte, error)
	RemoteAddr() string
}

// Encoder builds a wire frame from a qualified command name.
type Encoder interface {
	Prepare(qualified string, payload any) ([]byte, error)
}

// Send writes b to dst.
func Send(ctx context.Context, dst Destination, b []byte) error {
	if len(b) == 0 {
		return ErrEmptyFrames
	}
	if err := dst.Send(ctx, b); err != nil {
		log.Debug().Err(err).Str("kind", string(dst.Kind())).Int("bytes", len(b)).Msg("transport.Send failed")
		return fmt.Errorf("transport: send %s: %w", dst.Kind(), err)
	}
	return nil
}

// SendFrames writes frames to dst in order. A message destination receives
// one message per frame.
func SendFrames(ctx context.Context, dst Destination, frames [][]byte) error {
	if len(frames) == 0 {
		return nil
	}
	if dst.Kind() == KindStream && len(frames) > 1 {
		n := 0
		for _, f := range frames {
			n += len(f)
		}
		joined := make([]byte, 0, n)
		for _, f := range frames {
			joined = append(joined, f...)
		}
		return Send(ctx, dst, joined)
	}
	for _, f := range frames {
		if err := Send(ctx, dst, f); err != nil {
			return err
		}
	}
	return nil
}

// SendMessage encodes one command and writes it to dst.
func SendMessage(ctx context.Context, dst Destination, enc Encoder, qualified string, payload any) error {
	if enc == nil {
		return ErrNilEncoder
	}
	b, err := enc.Prepare(qualified, payload)
	if err != nil {
		return err
	}
	return Send(ctx, dst, b)
}
