// Package relay sits between duel clients and the upstream duel server and
// runs both directions of every session through the dispatcher.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/danmuck/duelwire/internal/capture"
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/observability"
	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/transport"
	"github.com/rs/zerolog"
)

const (
	IngressTCP       = "tcp"
	IngressWebsocket = "websocket"
)

// Source yields the snapshot new sessions pin. *config.Holder is a Source.
type Source interface {
	Get() *config.Snapshot
}

type staticSource struct {
	snap *config.Snapshot
}

func (s staticSource) Get() *config.Snapshot {
	return s.snap
}

// Static wraps a fixed snapshot.
func Static(snap *config.Snapshot) Source {
	return staticSource{snap: snap}
}

// Installer registers handlers on a registry bound to a fresh catalog. It
// runs once per snapshot version with that snapshot's config.
type Installer func(reg *handler.Registry, cfg *config.Config) error

// Dialer opens the upstream side of a session.
type Dialer func(ctx context.Context, cfg *config.Config) (transport.Conn, error)

type Option func(*Relay)

func WithHandlers(install Installer) Option {
	return func(r *Relay) {
		r.install = install
	}
}

// WithCapture records every received chunk to w.
func WithCapture(w *capture.Writer) Option {
	return func(r *Relay) {
		r.capture = w
	}
}

func WithObserver(o dispatch.Observer) Option {
	return func(r *Relay) {
		r.observer = o
	}
}

func WithDialer(d Dialer) Option {
	return func(r *Relay) {
		if d != nil {
			r.dial = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

type pinned struct {
	version    uint64
	dispatcher *dispatch.Dispatcher
}

type Relay struct {
	src      Source
	install  Installer
	capture  *capture.Writer
	observer dispatch.Observer
	dial     Dialer
	logger   zerolog.Logger

	mu       sync.Mutex
	current  *pinned
	sessions map[string]*Session
	draining bool
	wg       sync.WaitGroup
}

func New(src Source, opts ...Option) *Relay {
	r := &Relay{
		src:      src,
		observer: observability.NewDispatchObserver(),
		dial:     DialUpstream,
		logger:   observability.Logger("relay"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialUpstream connects over websocket when upstream_ws is set and TCP
// otherwise.
func DialUpstream(ctx context.Context, cfg *config.Config) (transport.Conn, error) {
	if cfg.UpstreamWS {
		return transport.DialMessage(ctx, cfg.Upstream, cfg.Transport)
	}
	return transport.DialStream(ctx, cfg.Upstream, cfg.Transport)
}

// dispatcher returns the dispatcher for snap, building a new one (and a new
// registry) when the snapshot version changed.
func (r *Relay) dispatcher(snap *config.Snapshot) (*dispatch.Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.version == snap.Version {
		return r.current.dispatcher, nil
	}
	registry := handler.NewRegistry(snap.Catalog.Protos())
	if r.install != nil {
		if err := r.install(registry, snap.Config); err != nil {
			return nil, fmt.Errorf("install handlers: %w", err)
		}
	}
	d := dispatch.New(snap.Catalog, registry,
		dispatch.WithLimit(snap.Config.DispatchLimit),
		dispatch.WithObserver(r.observer),
	)
	r.current = &pinned{version: snap.Version, dispatcher: d}
	r.logger.Info().Uint64("version", snap.Version).Int("handlers", registry.Len()).Msg("relay.dispatcher rebuilt")
	return d, nil
}

// Serve accepts TCP clients until ctx ends or ln fails, then waits for
// the sessions it started to finish.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	r.logger.Info().Str("addr", ln.Addr().String()).Msg("relay.Serve listening")
	var started sync.WaitGroup
	defer started.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("relay accept: %w", err)
		}
		if !r.begin() {
			_ = conn.Close()
			continue
		}
		snap := r.src.Get()
		client := transport.NewStream(conn, snap.Config.Transport)
		started.Add(1)
		go func() {
			defer started.Done()
			defer r.wg.Done()
			_ = r.Handle(ctx, client, IngressTCP)
		}()
	}
}

// ServeWebsocket upgrades the request and runs a session until it ends.
// Requests arriving after Wait was called get 503.
func (r *Relay) ServeWebsocket(ctx context.Context, w http.ResponseWriter, req *http.Request) {
	if !r.begin() {
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	defer r.wg.Done()
	snap := r.src.Get()
	client, err := transport.Accept(w, req, snap.Config.Transport, snap.Config.WSOrigins)
	if err != nil {
		r.logger.Warn().Err(err).Str("remote", req.RemoteAddr).Msg("relay.ServeWebsocket upgrade failed")
		return
	}
	_ = r.Handle(ctx, client, IngressWebsocket)
}

// Handle runs one session for an accepted client and closes it on return.
func (r *Relay) Handle(ctx context.Context, client transport.Conn, ingress string) error {
	snap := r.src.Get()
	d, err := r.dispatcher(snap)
	if err != nil {
		_ = client.Close()
		r.logger.Error().Err(err).Msg("relay.Handle dispatcher unavailable")
		return err
	}
	s := newSession(r, snap, d, client, ingress)
	r.track(s, true)
	defer r.track(s, false)
	return s.run(ctx)
}

func (r *Relay) track(s *Session, open bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if open {
		r.sessions[s.ID] = s
		return
	}
	delete(r.sessions, s.ID)
}

// Sessions is the number of live sessions.
func (r *Relay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// begin counts a new session unless the relay is draining.
func (r *Relay) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.draining {
		return false
	}
	r.wg.Add(1)
	return true
}

// Wait refuses new sessions and blocks until every session started by Serve
// or ServeWebsocket ends.
func (r *Relay) Wait() {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()
	r.wg.Wait()
}
