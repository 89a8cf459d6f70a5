package relay

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/danmuck/duelwire/internal/capture"
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/observability"
	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Close reasons reported in logs and metrics.
const (
	ReasonClientClosed   = "client_closed"
	ReasonUpstreamClosed = "upstream_closed"
	ReasonUpstreamDial   = "upstream_dial"
	ReasonProtocol       = "protocol"
	ReasonTransport      = "transport"
	ReasonShutdown       = "shutdown"
)

// Info is passed to handlers as the dispatch params of a session.
type Info struct {
	ID         string
	Ingress    string
	RemoteAddr string
}

// closeError carries the reason one side of a session ended.
type closeError struct {
	reason string
	err    error
}

func (e *closeError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *closeError) Unwrap() error {
	return e.err
}

// Session is one client connection paired with one upstream connection.
type Session struct {
	ID      string
	Ingress string

	relay    *Relay
	snap     *config.Snapshot
	d        *dispatch.Dispatcher
	client   transport.Conn
	upstream transport.Conn
	info     Info
	started  time.Time
	logger   zerolog.Logger
}

func newSession(r *Relay, snap *config.Snapshot, d *dispatch.Dispatcher, client transport.Conn, ingress string) *Session {
	id := uuid.NewString()
	return &Session{
		ID:      id,
		Ingress: ingress,
		relay:   r,
		snap:    snap,
		d:       d,
		client:  client,
		info:    Info{ID: id, Ingress: ingress, RemoteAddr: client.RemoteAddr()},
		started: time.Now(),
		logger: r.logger.With().Str("session", id).Str("ingress", ingress).
			Str("remote", client.RemoteAddr()).Uint64("config_version", snap.Version).Logger(),
	}
}

func (s *Session) run(parent context.Context) error {
	cfg := s.snap.Config
	observability.SessionOpened(s.Ingress)
	s.logger.Info().Msg("relay.session open")

	upstream, err := s.relay.dial(parent, cfg)
	if err != nil {
		_ = s.client.Close()
		s.finish(&closeError{reason: ReasonUpstreamDial, err: err})
		return err
	}
	s.upstream = upstream

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	ctos := dispatch.NewPipe(s.d, proto.CTOS, dispatch.PipeOptions{
		Preconnect: cfg.PreconnectAllow,
		Params:     s.info,
	})
	stoc := dispatch.NewPipe(s.d, proto.STOC, dispatch.PipeOptions{Params: s.info})

	errs := make(chan error, 2)
	go func() { errs <- s.pump(ctx, s.client, s.upstream, ctos, ReasonClientClosed) }()
	go func() { errs <- s.pump(ctx, s.upstream, s.client, stoc, ReasonUpstreamClosed) }()

	var cause error
	pending := 2
	select {
	case cause = <-errs:
		pending--
	case <-ctx.Done():
		cause = &closeError{reason: ReasonShutdown, err: parent.Err()}
	}
	cancel()
	_ = s.client.Close()
	_ = s.upstream.Close()
	// the remaining pumps end on the closed sockets; only the first error is
	// the cause
	for ; pending > 0; pending-- {
		<-errs
	}
	s.finish(cause)
	return nil
}

// pump reads src, dispatches through pipe and forwards accepted frames to
// dst until either side fails or the pipe closes.
func (s *Session) pump(ctx context.Context, src, dst transport.Conn, pipe *dispatch.Pipe, eofReason string) error {
	dir := pipe.Direction()
	for {
		chunk, err := src.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				return &closeError{reason: eofReason}
			}
			return &closeError{reason: ReasonTransport, err: fmt.Errorf("%s recv: %w", dir, err)}
		}
		if len(chunk) == 0 {
			continue
		}
		observability.RecordBytes(dir, len(chunk))
		s.record(dir, chunk)
		if s.snap.Config.Trace {
			s.logger.Debug().Str("direction", string(dir)).Str("bytes", hex.EncodeToString(chunk)).Msg("relay.pump recv")
		}

		step, err := pipe.Feed(chunk)
		if err != nil {
			return &closeError{reason: ReasonProtocol, err: err}
		}
		for _, fb := range step.Feedback {
			s.logger.Debug().Str("direction", string(dir)).Str("feedback", fb.String()).Msg("relay.pump feedback")
		}
		if err := transport.SendFrames(ctx, dst, step.Frames); err != nil {
			return &closeError{reason: ReasonTransport, err: err}
		}
		if step.Close {
			return &closeError{reason: ReasonProtocol, err: errors.New(step.Reason)}
		}
	}
}

func (s *Session) record(dir proto.Direction, chunk []byte) {
	w := s.relay.capture
	if w == nil {
		return
	}
	err := w.Write(capture.Record{Session: s.ID, Direction: dir, Time: time.Now().UTC(), Data: chunk})
	if err != nil {
		s.logger.Warn().Err(err).Msg("relay.record capture write failed")
	}
}

func (s *Session) finish(cause error) {
	reason := ReasonShutdown
	var ce *closeError
	if errors.As(cause, &ce) {
		reason = ce.reason
	}
	lifetime := time.Since(s.started)
	observability.SessionClosed(s.Ingress, reason, lifetime)

	event := s.logger.Info()
	if reason == ReasonProtocol || reason == ReasonTransport || reason == ReasonUpstreamDial {
		event = s.logger.Warn().Err(cause)
	}
	event.Str("reason", reason).Dur("lifetime", lifetime).Msg("relay.session closed")
}
