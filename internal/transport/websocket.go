package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrUnexpectedMessage = errors.New("transport: unexpected websocket message type")

// Message is a websocket destination. Every Send is one binary message.
type Message struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	wmu    sync.Mutex
	closed chan struct{}
	once   sync.Once
}

// NewMessage wraps an upgraded or dialed websocket.
func NewMessage(conn *websocket.Conn, cfg Config) *Message {
	return &Message{
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		readTimeout:  cfg.ReadTimeout,
		closed:       make(chan struct{}),
	}
}

func (m *Message) Kind() Kind {
	return KindMessage
}

func (m *Message) RemoteAddr() string {
	return m.conn.RemoteAddr().String()
}

func (m *Message) Send(ctx context.Context, b []byte) error {
	select {
	case <-m.closed:
		return ErrClosed
	default:
	}
	m.wmu.Lock()
	defer m.wmu.Unlock()
	if err := m.conn.SetWriteDeadline(deadline(ctx, m.writeTimeout)); err != nil {
		return err
	}
	return m.conn.WriteMessage(websocket.BinaryMessage, b)
}

// Recv returns the next binary message. Text messages are rejected.
func (m *Message) Recv(ctx context.Context) ([]byte, error) {
	if err := m.conn.SetReadDeadline(deadline(ctx, m.readTimeout)); err != nil {
		return nil, err
	}
	typ, b, err := m.conn.ReadMessage()
	if err != nil {
		select {
		case <-m.closed:
			return nil, ErrClosed
		default:
		}
		return nil, err
	}
	if typ != websocket.BinaryMessage {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedMessage, typ)
	}
	return b, nil
}

// Close sends a normal close frame and closes the socket.
func (m *Message) Close() error {
	var err error
	m.once.Do(func() {
		close(m.closed)
		m.wmu.Lock()
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.wmu.Unlock()
		err = m.conn.Close()
	})
	return err
}

// DialMessage opens a websocket to url.
func DialMessage(ctx context.Context, url string, cfg Config) (*Message, error) {
	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.ConnectTimeout,
		TLSClientConfig:  tlsCfg,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("transport.DialMessage failed")
		return nil, fmt.Errorf("transport: websocket dial %s: %w", url, err)
	}
	return NewMessage(conn, cfg), nil
}

// CheckOrigin admits requests without an Origin header (native clients),
// origins listed in allowed ("*" admits any) and same-host origins.
func CheckOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// Accept upgrades an HTTP request into a message connection. Browser
// origins outside origins are rejected with 403.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config, origins []string) (*Message, error) {
	up := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     CheckOrigin(origins),
	}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewMessage(conn, cfg), nil
}
