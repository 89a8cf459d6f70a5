package plugins

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/protocol/handler"
	"github.com/rs/zerolog/log"
)

var ErrUnknownPlugin = errors.New("plugins: unknown plugin")

var (
	mu       sync.RWMutex
	registry = map[string]Plugin{}
)

func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	registry[p.Name()] = p
}

// Names lists registered plugins in sorted order.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func Get(name string) (Plugin, bool) {
	mu.RLock()
	defer mu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// Resolve looks up every name, failing on the first unknown one.
func Resolve(names []string) ([]Plugin, error) {
	selected := make([]Plugin, 0, len(names))
	for _, name := range names {
		p, ok := Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, name)
		}
		selected = append(selected, p)
	}
	return selected, nil
}

// Install installs the plugins cfg names on reg, in order. It has the shape
// the relay expects for its per-snapshot installer.
func Install(reg *handler.Registry, cfg *config.Config) error {
	selected, err := Resolve(cfg.Plugins)
	if err != nil {
		return err
	}
	for _, p := range selected {
		if err := p.Install(reg, cfg); err != nil {
			return fmt.Errorf("install %s: %w", p.Name(), err)
		}
		log.Debug().Str("plugin", p.Name()).Int("handlers", reg.Len()).Msg("plugins.Install installed")
	}
	return nil
}
