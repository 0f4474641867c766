/*
 * aptsnap - A point-in-time snapshot proxy for Debian-style APT archives
 *
 * Copyright (C) 2025 Elara Ivy <elara@elara.ws>
 *
 * This file is part of aptsnap.
 *
 * aptsnap is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * aptsnap is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with aptsnap.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package config loads process-wide defaults for the aptsnap binaries from
// an optional TOML file, then applies environment overrides. Both
// lp-in-release and magic-proxy call Load once at startup. DefaultMirror
// is overridden by lp-in-release's -m/--mirror and CacheFile by its
// --cache-file; the other values have no command-line flag.
package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// Config holds process-wide defaults. Command-line flags take precedence
// over anything loaded here.
type Config struct {
	// DefaultMirror is used by lp-in-release's list/select subcommands
	// when -m/--mirror is not given.
	DefaultMirror string `toml:"default_mirror" env:"DEFAULT_MIRROR"`
	// CacheFile is the shared JSON cache path used when --cache-file is
	// not given.
	CacheFile string `toml:"cache_file" env:"CACHE_FILE"`
	// AdminAddress is the bind address for the proxy's admin/status mux.
	AdminAddress string `toml:"admin_address" env:"ADMIN_ADDRESS"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`
}

// Load reads /etc/aptsnap.toml if present, then applies APTSNAP_-prefixed
// environment variables on top. A missing config file is not an error.
func Load() (*Config, error) {
	cfg := &Config{
		DefaultMirror: "http://archive.ubuntu.com/ubuntu",
		CacheFile:     "/var/cache/aptsnap/inrelease-cache.json",
		AdminAddress:  "127.0.0.1:0",
		LogLevel:      "info",
	}

	if fl, err := os.Open("/etc/aptsnap.toml"); err == nil {
		defer fl.Close()
		if err := toml.NewDecoder(fl).Decode(cfg); err != nil {
			return nil, err
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "APTSNAP_"}); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SlogLevel parses LogLevel into a slog.Level, defaulting to
// slog.LevelInfo for an empty or unrecognised value.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
