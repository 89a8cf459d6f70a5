// Package plugins holds named handler bundles. The relay installs the
// configured bundles on every registry it builds for a new catalog.
package plugins

import (
	"github.com/danmuck/duelwire/internal/config"
	"github.com/danmuck/duelwire/internal/protocol/handler"
)

// Plugin registers its handlers on reg. Settings are read from cfg, the
// config of the snapshot the registry is built for. Commands missing from
// the catalog are skipped rather than treated as errors.
type Plugin interface {
	Name() string
	Install(reg *handler.Registry, cfg *config.Config) error
}
