package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders Default as a TOML starting point.
func Template() (string, error) {
	cfg := Default()
	raw := fileConfig{
		Name:            cfg.Name,
		Listen:          cfg.Listen,
		WSListen:        "127.0.0.1:7913",
		WSPath:          cfg.WSPath,
		AdminListen:     cfg.AdminListen,
		Upstream:        cfg.Upstream,
		Definitions:     cfg.Definitions,
		DispatchLimit:   cfg.DispatchLimit,
		PreconnectAllow: cfg.PreconnectAllow,
		LogLevel:        cfg.LogLevel,
		ConnectTimeout:  cfg.Transport.ConnectTimeout.String(),
		ReadTimeout:     "0s",
		WriteTimeout:    cfg.Transport.WriteTimeout.String(),
		DialAttempts:    cfg.Transport.DialAttempts,
	}
	b, err := toml.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("render config template: %w", err)
	}
	return string(b), nil
}

// WriteTemplate writes Template to path, refusing to replace an existing
// file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
