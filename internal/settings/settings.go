// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package settings persists host preferences and per-extension setting
// values in a YAML file.
//
// Layout:
//
//	host:
//	  default_folder: /home/me/notes
//	  last_opened_folder: /home/me/notes
//	extensions:
//	  demo.word-count:
//	    showChars: true
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/dispose"
	"github.com/quire-editor/quire/internal/manifest"
)

// Error codes.
const (
	CodeSettingInvalid = "SETTING_INVALID"
	CodeSettingsIO     = "SETTINGS_IO"
)

// Keys are "/"-delimited because extension ids contain dots.
const (
	delim               = "/"
	keyDefaultFolder    = "host/default_folder"
	keyLastOpenedFolder = "host/last_opened_folder"
	extensionsPrefix    = "extensions"
)

// ChangeFunc observes a setting and receives the new value.
type ChangeFunc func(ctx context.Context, value any)

type watcher struct {
	fn ChangeFunc
}

// Store is a settings file. A zero path keeps settings in memory only.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	k        *koanf.Koanf
	watchers map[string][]*watcher
}

// Load reads path. A missing file yields empty settings.
func Load(path string) (*Store, error) {
	s := &Store{
		path:     path,
		logger:   slog.Default().With("component", "settings"),
		k:        koanf.New(delim),
		watchers: make(map[string][]*watcher),
	}
	if path == "" {
		return s, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return s, nil
	}
	if err := s.k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, oops.In("settings").Code(CodeSettingsIO).
			With("path", path).
			Hint("fix or remove the settings file").
			Wrapf(err, "load settings")
	}
	return s, nil
}

// Path returns the settings file path.
func (s *Store) Path() string { return s.path }

// DefaultFolder returns the folder opened when none is given.
func (s *Store) DefaultFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k.String(keyDefaultFolder)
}

// SetDefaultFolder stores dir as the default folder.
func (s *Store) SetDefaultFolder(dir string) error {
	return s.setHost(keyDefaultFolder, dir)
}

// ClearDefaultFolder removes the default folder.
func (s *Store) ClearDefaultFolder() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.k.Delete(keyDefaultFolder)
	return s.saveLocked()
}

// LastOpenedFolder returns the folder most recently opened.
func (s *Store) LastOpenedFolder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.k.String(keyLastOpenedFolder)
}

// SetLastOpenedFolder records dir as the last opened folder.
func (s *Store) SetLastOpenedFolder(dir string) error {
	return s.setHost(keyLastOpenedFolder, dir)
}

func (s *Store) setHost(key, dir string) error {
	if dir == "" {
		return oops.In("settings").Code(CodeSettingInvalid).With("key", key).New("folder cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return oops.In("settings").Code(CodeSettingInvalid).With("key", key).Wrap(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.k.Set(key, abs); err != nil {
		return oops.In("settings").Code(CodeSettingsIO).With("key", key).Wrap(err)
	}
	return s.saveLocked()
}

// Get returns the effective value of an extension setting: the stored
// value if one exists, else the manifest default. ok is false for keys the
// manifest does not declare.
func (s *Store) Get(m *manifest.Manifest, key string) (value any, ok bool) {
	desc, declared := m.Setting(key)
	if !declared {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := extKey(m.ID, key); s.k.Exists(p) {
		return s.k.Get(p), true
	}
	return desc.Default, true
}

// Values returns every declared setting's effective value.
func (s *Store) Values(m *manifest.Manifest) map[string]any {
	out := make(map[string]any, len(m.Settings))
	for _, d := range m.Settings {
		v, _ := s.Get(m, d.Key)
		out[d.Key] = v
	}
	return out
}

// Set validates value against the declared type, persists it and notifies
// watchers of the key.
func (s *Store) Set(ctx context.Context, m *manifest.Manifest, key string, value any) error {
	desc, declared := m.Setting(key)
	if !declared {
		return oops.In("settings").Code(CodeSettingInvalid).
			With("extension", m.ID).
			With("key", key).
			Errorf("setting %q is not declared by %s", key, m.ID)
	}
	if err := manifest.CheckSettingValue(desc, value); err != nil {
		return oops.In("settings").Code(CodeSettingInvalid).
			With("extension", m.ID).
			With("key", key).
			Wrap(err)
	}

	s.mu.Lock()
	if err := s.k.Set(extKey(m.ID, key), value); err != nil {
		s.mu.Unlock()
		return oops.In("settings").Code(CodeSettingsIO).With("extension", m.ID).Wrap(err)
	}
	if err := s.saveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	watchers := slices.Clone(s.watchers[watchKey(m.ID, key)])
	s.mu.Unlock()

	for _, w := range watchers {
		w.fn(ctx, value)
	}
	return nil
}

// OnChange registers fn for changes to one extension setting.
func (s *Store) OnChange(extensionID, key string, fn ChangeFunc) dispose.Func {
	w := &watcher{fn: fn}
	wk := watchKey(extensionID, key)
	s.mu.Lock()
	s.watchers[wk] = append(s.watchers[wk], w)
	s.mu.Unlock()
	return dispose.Once(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.watchers[wk] = slices.DeleteFunc(s.watchers[wk], func(x *watcher) bool { return x == w })
		if len(s.watchers[wk]) == 0 {
			delete(s.watchers, wk)
		}
	})
}

// DeleteExtension drops every stored value for extensionID.
func (s *Store) DeleteExtension(extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := extensionsPrefix + delim + extensionID
	if !s.k.Exists(p) {
		return nil
	}
	s.k.Delete(p)
	return s.saveLocked()
}

// Extensions returns the ids that have stored values, sorted.
func (s *Store) Extensions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.k.Cut(extensionsPrefix).Raw()))
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := s.k.Marshal(yaml.Parser())
	if err != nil {
		return oops.In("settings").Code(CodeSettingsIO).Wrapf(err, "encode settings")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return oops.In("settings").Code(CodeSettingsIO).With("path", s.path).Wrap(err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return oops.In("settings").Code(CodeSettingsIO).With("path", tmp).Wrap(err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return oops.In("settings").Code(CodeSettingsIO).With("path", s.path).Wrap(err)
	}
	s.logger.Debug("settings saved", "path", s.path)
	return nil
}

func extKey(extensionID, key string) string {
	return extensionsPrefix + delim + extensionID + delim + key
}

func watchKey(extensionID, key string) string {
	return fmt.Sprintf("%s\x00%s", extensionID, key)
}
