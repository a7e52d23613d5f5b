// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package xdg provides XDG Base Directory paths for Quire.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "quire"

// ConfigDir returns the config directory. Checks XDG_CONFIG_HOME first,
// falls back to ~/.config.
func ConfigDir() string {
	return dir("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the data directory. Checks XDG_DATA_HOME first, falls
// back to ~/.local/share.
func DataDir() string {
	return dir("XDG_DATA_HOME", ".local", "share")
}

// StateDir returns the state directory. Checks XDG_STATE_HOME first, falls
// back to ~/.local/state.
func StateDir() string {
	return dir("XDG_STATE_HOME", ".local", "state")
}

func dir(env string, fallback ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
	}
	return filepath.Join(base, appName)
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
