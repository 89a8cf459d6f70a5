package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/duelwire/internal/protocol/frame"
	"github.com/danmuck/duelwire/internal/testutil/fixture"
	"github.com/danmuck/duelwire/internal/testutil/testlog"
	"github.com/danmuck/duelwire/internal/testutil/tlstest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	b := Backoff{InitialDelay: 250 * time.Millisecond, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, 250*time.Millisecond, b.Delay(1, nil))
	assert.Equal(t, 500*time.Millisecond, b.Delay(2, nil))
	assert.Equal(t, time.Second, b.Delay(3, nil))
	assert.Equal(t, 5*time.Second, b.Delay(8, nil))
}

func TestBackoffJitterRange(t *testing.T) {
	testlog.Start(t)
	b := Backoff{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for attempt := 2; attempt < 10; attempt++ {
		base := float64(min(100*time.Millisecond<<(attempt-1), time.Second))
		got := float64(b.Delay(attempt, rng))
		if got < base*0.5 || got > base*1.5 {
			t.Fatalf("attempt %d: %v outside [%v,%v]", attempt, time.Duration(got), time.Duration(base*0.5), time.Duration(base*1.5))
		}
	}
}

func TestTLSValidate(t *testing.T) {
	testlog.Start(t)
	assert.NoError(t, TLS{}.Validate())
	assert.ErrorIs(t, TLS{Enabled: true}.Validate(), ErrTLSCAFileRequired)
	assert.NoError(t, TLS{Enabled: true, InsecureSkipVerify: true}.Validate())
	assert.ErrorIs(t, TLS{Enabled: true, CAFile: "ca.pem", CertFile: "c.pem"}.Validate(), ErrTLSKeyPairIncomplete)
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestStreamSendFramesJoinsAndRecv(t *testing.T) {
	testlog.Start(t)
	ln := listen(t)
	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(io.LimitReader(conn, 9))
		got <- b
		conn.Write([]byte{1, 0, 7})
	}()

	ctx := context.Background()
	s, err := DialStream(ctx, ln.Addr().String(), DefaultConfig())
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, KindStream, s.Kind())

	frames := [][]byte{fixture.Frame(1, 'a', 'b'), fixture.Frame(2, 'c')}
	require.NoError(t, SendFrames(ctx, s, frames))
	select {
	case b := <-got:
		assert.Equal(t, fixture.Concat(frames...), b)
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received frames")
	}

	chunk, err := s.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 7}, chunk)

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Send(ctx, []byte{1}), ErrClosed)
}

func TestDialStreamGivesUpAfterAttempts(t *testing.T) {
	testlog.Start(t)
	ln := listen(t)
	addr := ln.Addr().String()
	ln.Close()

	cfg := DefaultConfig()
	cfg.DialAttempts = 2
	cfg.Backoff = Backoff{InitialDelay: time.Millisecond}
	_, err := DialStream(context.Background(), addr, cfg)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), addr))
}

func TestDialStreamTLS(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.NewAuthority(t, "duelwire-test-ca")
	ln := tls.NewListener(listen(t), ca.ServerTLS(t))
	msg := fixture.Frame(9, 'o', 'k')
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(msg))
		if _, err := io.ReadFull(conn, buf); err == nil {
			conn.Write(buf)
		}
	}()

	cfg := DefaultConfig()
	cfg.TLS = TLS{Enabled: true, CAFile: ca.CAFile(), ServerName: "localhost"}
	ctx := context.Background()
	s, err := DialStream(ctx, ln.Addr().String(), cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, Send(ctx, s, msg))
	var echoed []byte
	for len(echoed) < len(msg) {
		chunk, err := s.Recv(ctx)
		require.NoError(t, err)
		echoed = append(echoed, chunk...)
	}
	assert.Equal(t, msg, echoed)
}

func TestMessageRoundTrip(t *testing.T) {
	testlog.Start(t)
	received := make(chan [][]byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, err := Accept(w, r, DefaultConfig(), nil)
		if err != nil {
			return
		}
		defer m.Close()
		var msgs [][]byte
		for i := 0; i < 2; i++ {
			b, err := m.Recv(r.Context())
			if err != nil {
				return
			}
			msgs = append(msgs, b)
		}
		received <- msgs
		m.Send(r.Context(), fixture.Frame(5, 1, 2))
	}))
	defer srv.Close()

	ctx := context.Background()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	m, err := DialMessage(ctx, url, DefaultConfig())
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, KindMessage, m.Kind())

	frames := [][]byte{fixture.Frame(1, 'a'), fixture.Frame(2)}
	require.NoError(t, SendFrames(ctx, m, frames))
	select {
	case msgs := <-received:
		assert.Equal(t, frames, msgs, "one message per frame")
	case <-time.After(2 * time.Second):
		t.Fatalf("server never received messages")
	}

	b, err := m.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, fixture.Frame(5, 1, 2), b)
}

func TestMessageRejectsText(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.ReadMessage()
	}))
	defer srv.Close()

	m, err := DialMessage(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), DefaultConfig())
	require.NoError(t, err)
	defer m.Close()
	_, err = m.Recv(context.Background())
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}

type recordingDestination struct {
	sent [][]byte
	err  error
}

func (d *recordingDestination) Kind() Kind { return KindMessage }

func (d *recordingDestination) Send(_ context.Context, b []byte) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, b)
	return nil
}

func (d *recordingDestination) Close() error { return nil }

func TestSendMessageEncodes(t *testing.T) {
	testlog.Start(t)
	c := fixture.Catalog(t)
	dst := &recordingDestination{}
	require.NoError(t, SendMessage(context.Background(), dst, c, "STOC_TYPE_CHANGE", map[string]any{"type": 0x11}))
	require.Len(t, dst.sent, 1)
	assert.Equal(t, fixture.Frame(fixture.STOCTypeChange, 0x11), dst.sent[0])

	assert.ErrorIs(t, SendMessage(context.Background(), dst, nil, "STOC_CHAT", nil), ErrNilEncoder)
	assert.ErrorIs(t, Send(context.Background(), dst, nil), ErrEmptyFrames)

	boom := errors.New("boom")
	dst.err = boom
	assert.ErrorIs(t, Send(context.Background(), dst, []byte{1, 0, 1}), boom)
}

type chunkConn struct {
	recordingDestination
	chunks [][]byte
}

func (c *chunkConn) RemoteAddr() string { return "chunks" }

func (c *chunkConn) Recv(context.Context) ([]byte, error) {
	if len(c.chunks) == 0 {
		return nil, io.EOF
	}
	next := c.chunks[0]
	c.chunks = c.chunks[1:]
	return next, nil
}

func TestReaderReassemblesFramesAcrossChunks(t *testing.T) {
	testlog.Start(t)
	f1 := fixture.Frame(0x13, 0x01)
	f2 := fixture.Frame(0x19, 'h', 'i', 0, 0)
	wire := fixture.Concat(f1, f2)
	c := &chunkConn{chunks: [][]byte{wire[:1], {}, wire[1:5], wire[5:]}}

	r := NewReader(context.Background(), c)
	first, err := frame.ReadFrame(r, frame.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x13), first.Header.Command)
	assert.Equal(t, []byte{0x01}, first.Payload)

	second, err := frame.ReadFrame(r, frame.DefaultLimits())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x19), second.Header.Command)
	assert.Equal(t, 4, second.Header.PayloadLen())

	_, err = frame.ReadFrame(r, frame.DefaultLimits())
	assert.ErrorIs(t, err, io.EOF)
}

func TestCheckOrigin(t *testing.T) {
	testlog.Start(t)
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://relay.local/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}
	none := CheckOrigin(nil)
	assert.True(t, none(req("")), "native clients send no origin")
	assert.True(t, none(req("http://relay.local")))
	assert.False(t, none(req("http://evil.example")))

	listed := CheckOrigin([]string{"http://dash.local"})
	assert.True(t, listed(req("http://DASH.local")))
	assert.False(t, listed(req("http://evil.example")))
	assert.True(t, CheckOrigin([]string{"*"})(req("http://evil.example")))
}

func TestAcceptRejectsForeignOrigin(t *testing.T) {
	testlog.Start(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m, err := Accept(w, r, DefaultConfig(), nil); err == nil {
			m.Close()
		}
	}))
	defer srv.Close()

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
