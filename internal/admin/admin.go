// Package admin serves the relay's HTTP surface: health, metrics, the
// loaded protocol and websocket ingress.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/duelwire/internal/auth"
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/observability"
	"github.com/danmuck/duelwire/internal/protocol/proto"
	"github.com/danmuck/duelwire/internal/relay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownGrace = 5 * time.Second

// Server holds what the handlers read. Config comes from the snapshot at
// construction; listen addresses and paths are not reloadable.
type Server struct {
	ctx     context.Context
	src     relay.Source
	relay   *relay.Relay
	started time.Time
	logger  zerolog.Logger
}

func New(ctx context.Context, src relay.Source, r *relay.Relay) *Server {
	return &Server{
		ctx:     ctx,
		src:     src,
		relay:   r,
		started: time.Now(),
		logger:  observability.Logger("admin"),
	}
}

// Router builds the admin engine. The websocket route is mounted here only
// when withIngress is set.
func (s *Server) Router(withIngress bool) *gin.Engine {
	cfg := s.src.Get().Config
	router := s.engine(cfg)

	router.GET("/health", s.health)

	guarded := router.Group("/")
	if cfg.AdminToken != "" {
		guarded.Use(auth.Require(auth.StaticToken{Token: cfg.AdminToken}))
	}
	guarded.GET("/metrics", gin.WrapH(promhttp.Handler()))
	guarded.GET("/protocol", s.protocol)

	if withIngress {
		router.GET(cfg.WSPath, s.websocket)
	}
	return router
}

// IngressRouter serves only the websocket path, for a dedicated ws_listen.
func (s *Server) IngressRouter() *gin.Engine {
	cfg := s.src.Get().Config
	router := s.engine(cfg)
	router.GET(cfg.WSPath, s.websocket)
	return router
}

func (s *Server) engine(cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(observability.Requests(cfg.Name, s.logger))
	if len(cfg.AdminOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AdminOrigins,
			AllowMethods: []string{http.MethodGet},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization", auth.TokenHeader},
			MaxAge:       12 * time.Hour,
		}))
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	snap := s.src.Get()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"name":           snap.Config.Name,
		"uptime":         time.Since(s.started).String(),
		"sessions":       s.relay.Sessions(),
		"config_version": snap.Version,
		"loaded_at":      snap.LoadedAt.UTC().Format(time.RFC3339),
	})
}

type structInfo struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

func (s *Server) protocol(c *gin.Context) {
	snap := s.src.Get()
	commands := make(map[string][]string, 2)
	for _, dir := range proto.Directions() {
		commands[string(dir)] = snap.Catalog.Protos().Commands(dir)
	}
	names := snap.Catalog.StructNames()
	structs := make([]structInfo, 0, len(names))
	for _, name := range names {
		st, _ := snap.Catalog.Struct(name)
		structs = append(structs, structInfo{Name: name, Size: st.Size()})
	}
	c.JSON(http.StatusOK, gin.H{
		"version":  snap.Version,
		"commands": commands,
		"structs":  structs,
	})
}

func (s *Server) websocket(c *gin.Context) {
	s.relay.ServeWebsocket(s.ctx, c.Writer, c.Request)
}

// Run serves handler on addr until ctx ends.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen %s: %w", addr, err)
	}
	return Serve(ctx, ln, handler)
}

// Serve is Run on an existing listener.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler) error {
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
