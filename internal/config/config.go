package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/duelwire/internal/protocol/dispatch"
	"github.com/danmuck/duelwire/internal/transport"
	"github.com/rs/zerolog/log"
)

// Config is the resolved relay configuration.
type Config struct {
	Name        string
	Listen      string
	WSListen    string
	WSPath      string
	AdminListen string
	AdminToken  string
	// AdminOrigins enables CORS on the admin router for these origins.
	AdminOrigins []string
	// WSOrigins lists browser origins allowed on websocket ingress besides
	// the relay's own host.
	WSOrigins []string
	Upstream  string
	// UpstreamWS dials the upstream over websocket instead of TCP.
	UpstreamWS      bool
	Definitions     string
	DispatchLimit   int
	PreconnectAllow []string
	Trace           bool
	Capture         string
	// Plugins names the handler bundles installed on every registry.
	Plugins   []string
	ChatBlock []string
	LogLevel  string
	Transport transport.Config
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Name:            "duelwire",
		Listen:          ":7911",
		WSPath:          "/ws",
		AdminListen:     "127.0.0.1:7912",
		Upstream:        "127.0.0.1:7910",
		Definitions:     "data",
		DispatchLimit:   dispatch.DefaultLimit,
		PreconnectAllow: []string{"PLAYER_INFO", "JOIN_GAME", "CREATE_GAME", "EXTERNAL_ADDRESS"},
		LogLevel:        "info",
		Transport:       transport.DefaultConfig(),
	}
}

type fileTLS struct {
	Enabled            bool   `toml:"enabled"`
	CAFile             string `toml:"ca_file"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type fileConfig struct {
	Name            string   `toml:"name"`
	Listen          string   `toml:"listen"`
	WSListen        string   `toml:"ws_listen"`
	WSPath          string   `toml:"ws_path"`
	AdminListen     string   `toml:"admin_listen"`
	AdminToken      string   `toml:"admin_token"`
	AdminOrigins    []string `toml:"admin_origins"`
	WSOrigins       []string `toml:"ws_origins"`
	Upstream        string   `toml:"upstream"`
	UpstreamWS      bool     `toml:"upstream_ws"`
	Definitions     string   `toml:"definitions"`
	DispatchLimit   int      `toml:"dispatch_limit"`
	PreconnectAllow []string `toml:"preconnect_allow"`
	Trace           bool     `toml:"trace"`
	Capture         string   `toml:"capture"`
	Plugins         []string `toml:"plugins"`
	ChatBlock       []string `toml:"chat_block"`
	LogLevel        string   `toml:"log_level"`
	ConnectTimeout  string   `toml:"connect_timeout"`
	ReadTimeout     string   `toml:"read_timeout"`
	WriteTimeout    string   `toml:"write_timeout"`
	DialAttempts    int      `toml:"dial_attempts"`
	UpstreamTLS     fileTLS  `toml:"upstream_tls"`
}

// Load reads a TOML file over Default and validates the result. Relative
// definitions and capture paths resolve against the file's directory.
func Load(path string) (*Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load relay config: %w", err)
	}
	for _, key := range meta.Undecoded() {
		log.Warn().Str("path", path).Str("key", key.String()).Msg("config.Load unknown key")
	}

	str := func(key string, dst *string, v string) {
		if meta.IsDefined(key) {
			*dst = strings.TrimSpace(v)
		}
	}
	str("name", &cfg.Name, raw.Name)
	str("listen", &cfg.Listen, raw.Listen)
	str("ws_listen", &cfg.WSListen, raw.WSListen)
	str("ws_path", &cfg.WSPath, raw.WSPath)
	str("admin_listen", &cfg.AdminListen, raw.AdminListen)
	str("admin_token", &cfg.AdminToken, raw.AdminToken)
	str("upstream", &cfg.Upstream, raw.Upstream)
	str("definitions", &cfg.Definitions, raw.Definitions)
	str("capture", &cfg.Capture, raw.Capture)
	str("log_level", &cfg.LogLevel, raw.LogLevel)

	if meta.IsDefined("admin_origins") {
		cfg.AdminOrigins = trimAll(raw.AdminOrigins)
	}
	if meta.IsDefined("ws_origins") {
		cfg.WSOrigins = trimAll(raw.WSOrigins)
	}
	if meta.IsDefined("plugins") {
		cfg.Plugins = trimAll(raw.Plugins)
	}
	if meta.IsDefined("chat_block") {
		cfg.ChatBlock = trimAll(raw.ChatBlock)
	}
	if meta.IsDefined("upstream_ws") {
		cfg.UpstreamWS = raw.UpstreamWS
	}
	if meta.IsDefined("trace") {
		cfg.Trace = raw.Trace
	}
	if meta.IsDefined("dispatch_limit") {
		cfg.DispatchLimit = raw.DispatchLimit
	}
	if meta.IsDefined("preconnect_allow") {
		cfg.PreconnectAllow = normalizeNames(raw.PreconnectAllow)
	}
	if meta.IsDefined("dial_attempts") {
		cfg.Transport.DialAttempts = raw.DialAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Transport.ConnectTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Transport.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Transport.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("upstream_tls") {
		cfg.Transport.TLS = transport.TLS{
			Enabled:            raw.UpstreamTLS.Enabled,
			CAFile:             raw.UpstreamTLS.CAFile,
			CertFile:           raw.UpstreamTLS.CertFile,
			KeyFile:            raw.UpstreamTLS.KeyFile,
			ServerName:         raw.UpstreamTLS.ServerName,
			InsecureSkipVerify: raw.UpstreamTLS.InsecureSkipVerify,
		}
	}

	base := filepath.Dir(path)
	cfg.Definitions = resolve(base, cfg.Definitions)
	cfg.Capture = resolve(base, cfg.Capture)
	t := &cfg.Transport.TLS
	t.CAFile = resolve(base, t.CAFile)
	t.CertFile = resolve(base, t.CertFile)
	t.KeyFile = resolve(base, t.KeyFile)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("relay config missing name")
	}
	if cfg.Listen == "" && cfg.WSListen == "" && cfg.AdminListen == "" {
		return fmt.Errorf("relay config needs listen, ws_listen or admin_listen")
	}
	if strings.TrimSpace(cfg.Upstream) == "" {
		return fmt.Errorf("relay config missing upstream")
	}
	if strings.TrimSpace(cfg.Definitions) == "" {
		return fmt.Errorf("relay config missing definitions")
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		return fmt.Errorf("ws_path must start with /: %q", cfg.WSPath)
	}
	if cfg.DispatchLimit < dispatch.MinLimit {
		return fmt.Errorf("dispatch_limit must be at least %d: %d", dispatch.MinLimit, cfg.DispatchLimit)
	}
	if len(cfg.PreconnectAllow) == 0 {
		return fmt.Errorf("preconnect_allow must list at least one command")
	}
	for _, name := range cfg.PreconnectAllow {
		if !isCommandName(name) {
			return fmt.Errorf("preconnect_allow has invalid command %q", name)
		}
	}
	if cfg.Transport.DialAttempts < 1 {
		return fmt.Errorf("dial_attempts must be at least 1")
	}
	if err := cfg.Transport.TLS.Validate(); err != nil {
		return fmt.Errorf("upstream_tls: %w", err)
	}
	return nil
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, name := range in {
		v := strings.ToUpper(strings.TrimSpace(name))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func trimAll(in []string) []string {
	var out []string
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func isCommandName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		if (c < 'A' || c > 'Z') && c != '_' {
			return false
		}
	}
	return true
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
