package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const readChunk = 64 * 1024

// Stream is a stream-socket destination. Sends are serialized so concurrent
// writers never interleave partial frames.
type Stream struct {
	conn         net.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	wmu    sync.Mutex
	rbuf   []byte
	closed chan struct{}
	once   sync.Once
}

// NewStream wraps an established connection.
func NewStream(conn net.Conn, cfg Config) *Stream {
	return &Stream{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		rbuf:         make([]byte, readChunk),
		closed:       make(chan struct{}),
	}
}

func (s *Stream) Kind() Kind {
	return KindStream
}

func (s *Stream) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *Stream) Send(ctx context.Context, b []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline(ctx, s.writeTimeout)); err != nil {
		return err
	}
	for len(b) > 0 {
		n, err := s.conn.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Recv reads whatever bytes are available, up to 64KiB. The returned slice
// is owned by the caller.
func (s *Stream) Recv(ctx context.Context) ([]byte, error) {
	if err := s.conn.SetReadDeadline(deadline(ctx, s.readTimeout)); err != nil {
		return nil, err
	}
	n, err := s.conn.Read(s.rbuf)
	if n > 0 {
		return append([]byte(nil), s.rbuf[:n]...), nil
	}
	if err != nil {
		select {
		case <-s.closed:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	return nil, nil
}

func (s *Stream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// DialStream connects to addr, retrying up to cfg.DialAttempts times with
// cfg.Backoff between attempts.
func DialStream(ctx context.Context, addr string, cfg Config) (*Stream, error) {
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	attempts := max(cfg.DialAttempts, 1)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			wait := cfg.Backoff.Delay(attempt-1, rng)
			log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("wait", wait).Msg("transport.DialStream retry")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		conn, err := dialOnce(ctx, addr, cfg.ConnectTimeout, tlsCfg)
		if err == nil {
			log.Debug().Str("addr", addr).Int("attempt", attempt).Bool("tls", tlsCfg != nil).Msg("transport.DialStream connected")
			return NewStream(conn, cfg), nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	log.Warn().Err(lastErr).Str("addr", addr).Int("attempts", attempts).Msg("transport.DialStream failed")
	return nil, fmt.Errorf("transport: dial %s: %w", addr, lastErr)
}

func dialOnce(ctx context.Context, addr string, timeout time.Duration, tlsCfg *tls.Config) (net.Conn, error) {
	d := &net.Dialer{Timeout: timeout}
	if tlsCfg == nil {
		return d.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{NetDialer: d, Config: tlsCfg}
	return td.DialContext(ctx, "tcp", addr)
}

// deadline picks the earlier of ctx's deadline and now+timeout. Zero means
// no deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	var out time.Time
	if timeout > 0 {
		out = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (out.IsZero() || d.Before(out)) {
		out = d
	}
	return out
}
