package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/danmuck/duelwire/internal/admin"
	"github.com/danmuck/duelwire/internal/capture"
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/logging"
	"github.com/danmuck/duelwire/internal/observability"
	"github.com/danmuck/duelwire/internal/plugins"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/danmuck/duelwire/internal/relay"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var hotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Run the relay with the listeners named in the config file:

  listen        TCP client ingress
  ws_listen     websocket client ingress on ws_path
  admin_listen  /health, /metrics and /protocol (and ws_path when
                ws_listen is empty)

The config file and the definitions directory are reloaded on change and on
SIGHUP. New sessions use the reloaded protocol; live sessions keep theirs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "reload on config or definitions change")
}

func applyLogLevel(raw string) {
	if os.Getenv(logging.EnvLogLevel) != "" {
		return
	}
	if lvl, ok := logging.ParseLevel(raw); ok {
		zerolog.SetGlobalLevel(lvl)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := observability.Logger("serve")
	holder, err := config.NewHolder(cfgFile, observability.Logger("config"))
	if err != nil {
		return err
	}
	defer holder.Stop()

	cfg := holder.Get().Config
	applyLogLevel(cfg.LogLevel)
	holder.OnChange(func(s *config.Snapshot) { applyLogLevel(s.Config.LogLevel) })
	if hotReload {
		if err := holder.WatchFile(); err != nil {
			return err
		}
	}
	holder.WatchSignals()
	observability.RegisterMetrics()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := plugins.Install(handler.NewRegistry(holder.Get().Catalog.Protos()), cfg); err != nil {
		return err
	}
	opts := []relay.Option{relay.WithHandlers(plugins.Install)}
	if cfg.Capture != "" {
		w, err := capture.Create(cfg.Capture)
		if err != nil {
			return err
		}
		defer w.Close()
		opts = append(opts, relay.WithCapture(w))
		logger.Info().Str("path", cfg.Capture).Msg("capture enabled")
	}
	r := relay.New(holder, opts...)
	srv := admin.New(ctx, holder, r)

	var runners []func() error
	if cfg.Listen != "" {
		ln, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("relay listen %s: %w", cfg.Listen, err)
		}
		runners = append(runners, func() error { return r.Serve(ctx, ln) })
	}
	if cfg.WSListen != "" {
		runners = append(runners, func() error { return admin.Run(ctx, cfg.WSListen, srv.IngressRouter()) })
	}
	if cfg.AdminListen != "" {
		runners = append(runners, func() error { return admin.Run(ctx, cfg.AdminListen, srv.Router(cfg.WSListen == "")) })
	}

	logger.Info().Str("name", cfg.Name).Str("listen", cfg.Listen).Str("ws_listen", cfg.WSListen).
		Str("admin_listen", cfg.AdminListen).Str("upstream", cfg.Upstream).Msg("duelwire serving")

	errs := make([]error, len(runners))
	var wg sync.WaitGroup
	for i, run := range runners {
		i, run := i, run
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errs[i] = run(); errs[i] != nil {
				logger.Error().Err(errs[i]).Msg("listener stopped")
				stop()
			}
		}()
	}
	wg.Wait()
	r.Wait()
	logger.Info().Msg("duelwire stopped")
	return errors.Join(errs...)
}
