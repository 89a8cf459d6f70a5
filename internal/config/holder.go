// Package config loads the relay configuration and keeps it, together with
// the compiled protocol catalog, reloadable at runtime.
package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/duelwire/internal/definitions"
	"github.com/danmuck/duelwire/internal/protocol"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Snapshot is one consistent view of config and catalog. Snapshots are
// never mutated; a reload publishes a new one.
type Snapshot struct {
	Config   *Config
	Catalog  *protocol.Catalog
	Version  uint64
	LoadedAt time.Time
}

// Holder provides thread-safe access to the current snapshot with reload
// on file change or SIGHUP. A failed reload keeps the previous snapshot.
type Holder struct {
	mu       sync.RWMutex
	snap     *Snapshot
	path     string
	logger   zerolog.Logger
	watcher  *fsnotify.Watcher
	watched  map[string]struct{}
	onChange []func(*Snapshot)
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads the config at path and the definitions it names.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	snap, err := loadSnapshot(absPath)
	if err != nil {
		return nil, err
	}
	snap.Version = 1
	return &Holder{
		snap:    snap,
		path:    absPath,
		logger:  logger,
		watched: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}, nil
}

func loadSnapshot(path string) (*Snapshot, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	catalog, err := definitions.Catalog(cfg.Definitions)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	return &Snapshot{Config: cfg, Catalog: catalog, LoadedAt: time.Now()}, nil
}

// Get returns the current snapshot.
func (h *Holder) Get() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Reload re-reads config and definitions from disk.
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("config.Reload")

	next, err := loadSnapshot(h.path)
	if err != nil {
		h.logger.Error().Err(err).Msg("config.Reload failed, keeping previous snapshot")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.snap
	next.Version = prev.Version + 1
	h.snap = next
	listeners := append([]func(*Snapshot){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(prev, next)
	if h.watcher != nil {
		h.watchDir(next.Config.Definitions)
	}
	for _, fn := range listeners {
		fn(next)
	}
	h.logger.Info().Uint64("version", next.Version).Msg("config.Reload ok")
	return nil
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// WatchFile reloads when the config file or any definitions file changes.
// Directories are watched so atomic editor saves are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config directory: %w", err)
	}
	h.watched[filepath.Dir(h.path)] = struct{}{}
	h.watchDir(h.Get().Config.Definitions)

	go h.watchLoop()
	h.logger.Info().Str("path", h.path).Msg("config.WatchFile watching")
	return nil
}

func (h *Holder) watchDir(dir string) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watched[abs]; ok {
		return
	}
	if err := h.watcher.Add(abs); err != nil {
		h.logger.Warn().Err(err).Str("dir", abs).Msg("config.watchDir failed")
		return
	}
	h.watched[abs] = struct{}{}
}

// WatchSignals reloads on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("config.WatchSignals SIGHUP")
				_ = h.Reload()
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()
}

// Stop ends file and signal watching.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if abs == h.path {
		return true
	}
	defs, err := filepath.Abs(h.Get().Config.Definitions)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == defs
}

func (h *Holder) watchLoop() {
	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if !h.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Str("file", event.Name).Msg("config.watchLoop change")
			_ = h.Reload()

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config.watchLoop watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) logChanges(prev, next *Snapshot) {
	if prev.Config.LogLevel != next.Config.LogLevel {
		h.logger.Info().Str("old", prev.Config.LogLevel).Str("new", next.Config.LogLevel).Msg("log level changed")
	}
	if prev.Config.Upstream != next.Config.Upstream {
		h.logger.Info().Str("old", prev.Config.Upstream).Str("new", next.Config.Upstream).Msg("upstream changed")
	}
	if len(prev.Catalog.StructNames()) != len(next.Catalog.StructNames()) {
		h.logger.Info().
			Int("old", len(prev.Catalog.StructNames())).
			Int("new", len(next.Catalog.StructNames())).
			Msg("struct count changed")
	}
	for _, key := range NonReloadableFields() {
		if changed(prev.Config, next.Config, key) {
			h.logger.Warn().Str("field", key).Msg("changed field needs a restart")
		}
	}
}

// NonReloadableFields lists keys whose new value only applies after restart.
func NonReloadableFields() []string {
	return []string{"listen", "ws_listen", "ws_path", "admin_listen"}
}

func changed(a, b *Config, key string) bool {
	switch key {
	case "listen":
		return a.Listen != b.Listen
	case "ws_listen":
		return a.WSListen != b.WSListen
	case "ws_path":
		return a.WSPath != b.WSPath
	case "admin_listen":
		return a.AdminListen != b.AdminListen
	}
	return false
}
