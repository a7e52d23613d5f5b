// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package manifest describes extensions statically: identity, declared
// capabilities, settings schema and static UI contributions.
//
// Validation is pure. Parse and Validate never touch storage; uniqueness
// against already-installed extensions is checked through a caller-supplied
// predicate.
package manifest

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// CodeManifestInvalid is the oops code for every manifest rejection.
const CodeManifestInvalid = "MANIFEST_INVALID"

// Type identifies the extension runtime.
type Type string

// Extension runtimes supported by the host.
const (
	TypeLua    Type = "lua"
	TypeJS     Type = "js"
	TypeNative Type = "native"
)

// SettingType is the value type of one declared setting.
type SettingType string

// Setting types.
const (
	SettingString  SettingType = "string"
	SettingNumber  SettingType = "number"
	SettingBoolean SettingType = "boolean"
	SettingSelect  SettingType = "select"
)

// Manifest is the static description of an extension.
type Manifest struct {
	ID          string              `yaml:"id" json:"id"`
	Name        string              `yaml:"name" json:"name"`
	Version     string              `yaml:"version" json:"version"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Author      string              `yaml:"author,omitempty" json:"author,omitempty"`
	Type        Type                `yaml:"type,omitempty" json:"type,omitempty" jsonschema:"enum=lua,enum=js,enum=native"`
	Main        string              `yaml:"main,omitempty" json:"main,omitempty"`
	Permissions []Capability        `yaml:"permissions,omitempty" json:"permissions,omitempty" jsonschema:"uniqueItems=true"`
	Settings    []SettingDescriptor `yaml:"settings,omitempty" json:"settings,omitempty"`
	UI          *UIContributions    `yaml:"ui,omitempty" json:"ui,omitempty"`
}

// SettingDescriptor declares one user-configurable setting.
type SettingDescriptor struct {
	Key         string      `yaml:"key" json:"key"`
	Type        SettingType `yaml:"type" json:"type" jsonschema:"enum=string,enum=number,enum=boolean,enum=select"`
	Title       string      `yaml:"title,omitempty" json:"title,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Default     any         `yaml:"default,omitempty" json:"default,omitempty"`
	Options     []string    `yaml:"options,omitempty" json:"options,omitempty"`
}

// UIContributions lists static UI the extension declares up front.
type UIContributions struct {
	Panels   []PanelDescriptor   `yaml:"panels,omitempty" json:"panels,omitempty"`
	Commands []CommandDescriptor `yaml:"commands,omitempty" json:"commands,omitempty"`
}

// PanelDescriptor is a schema-only panel registered on activation.
type PanelDescriptor struct {
	ID       string         `yaml:"id" json:"id"`
	Title    string         `yaml:"title" json:"title"`
	Position string         `yaml:"position,omitempty" json:"position,omitempty" jsonschema:"enum=left,enum=right"`
	Schema   map[string]any `yaml:"schema,omitempty" json:"schema,omitempty"`
}

// CommandDescriptor declares command metadata. A runtime registration with
// the same id inherits title and shortcut from here when it omits them.
type CommandDescriptor struct {
	ID       string `yaml:"id" json:"id"`
	Title    string `yaml:"title" json:"title"`
	Shortcut string `yaml:"shortcut,omitempty" json:"shortcut,omitempty"`
}

const maxIDLength = 128

// idPattern: lowercase segments of letters, digits and hyphens joined by dots.
var idPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9-]*[a-z0-9])?)*$`)

var settingKeyPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Parse decodes a manifest from YAML or JSON and validates it.
func Parse(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, invalid("", "manifest data is empty")
	}
	if err := ValidateSchema(data); err != nil {
		return nil, invalid("", FormatSchemaError(err))
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, invalid("", "invalid manifest document: "+err.Error())
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks manifest constraints and fills defaults (Type, Main).
func (m *Manifest) Validate() error {
	if m.ID == "" {
		return invalid("", "id is required")
	}
	if len(m.ID) > maxIDLength {
		return invalid(m.ID, fmt.Sprintf("id must be %d characters or less, got %d", maxIDLength, len(m.ID)))
	}
	if !idPattern.MatchString(m.ID) {
		return invalid(m.ID, fmt.Sprintf("id %q must be lowercase dot-separated segments of a-z, 0-9 and hyphens", m.ID))
	}
	if m.Name == "" {
		return invalid(m.ID, "name is required")
	}
	if m.Version == "" {
		return invalid(m.ID, "version is required")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return invalid(m.ID, fmt.Sprintf("version %q is not semantic: %v", m.Version, err))
	}

	switch m.Type {
	case "":
		m.Type = TypeLua
	case TypeLua, TypeJS, TypeNative:
	default:
		return invalid(m.ID, fmt.Sprintf("type must be 'lua', 'js' or 'native', got %q", m.Type))
	}
	if m.Main == "" {
		switch m.Type {
		case TypeLua:
			m.Main = "main.lua"
		case TypeJS:
			m.Main = "main.js"
		}
	}

	for _, c := range m.Permissions {
		if !c.Valid() {
			return invalid(m.ID, fmt.Sprintf("unknown permission %q", c))
		}
	}

	if err := m.validateSettings(); err != nil {
		return err
	}
	return m.validateUI()
}

func (m *Manifest) validateSettings() error {
	seen := make(map[string]bool, len(m.Settings))
	for i, s := range m.Settings {
		if !settingKeyPattern.MatchString(s.Key) {
			return invalid(m.ID, fmt.Sprintf("settings[%d]: invalid key %q", i, s.Key))
		}
		if seen[s.Key] {
			return invalid(m.ID, fmt.Sprintf("settings[%d]: duplicate key %q", i, s.Key))
		}
		seen[s.Key] = true

		switch s.Type {
		case SettingString, SettingNumber, SettingBoolean:
		case SettingSelect:
			if len(s.Options) == 0 {
				return invalid(m.ID, fmt.Sprintf("settings[%d]: select %q needs options", i, s.Key))
			}
		default:
			return invalid(m.ID, fmt.Sprintf("settings[%d]: unrecognized type %q", i, s.Type))
		}
		if s.Default != nil {
			if err := CheckSettingValue(s, s.Default); err != nil {
				return invalid(m.ID, fmt.Sprintf("settings[%d]: default: %v", i, err))
			}
		}
	}
	return nil
}

func (m *Manifest) validateUI() error {
	if m.UI == nil {
		return nil
	}
	panelIDs := make(map[string]bool, len(m.UI.Panels))
	for i, p := range m.UI.Panels {
		if p.ID == "" || p.Title == "" {
			return invalid(m.ID, fmt.Sprintf("ui.panels[%d]: id and title are required", i))
		}
		if panelIDs[p.ID] {
			return invalid(m.ID, fmt.Sprintf("ui.panels[%d]: duplicate id %q", i, p.ID))
		}
		panelIDs[p.ID] = true
		if p.Position != "" && p.Position != "left" && p.Position != "right" {
			return invalid(m.ID, fmt.Sprintf("ui.panels[%d]: position must be left or right", i))
		}
	}
	for i, c := range m.UI.Commands {
		if c.ID == "" || c.Title == "" {
			return invalid(m.ID, fmt.Sprintf("ui.commands[%d]: id and title are required", i))
		}
	}
	return nil
}

// ValidateUnique rejects a manifest whose id is already known.
func ValidateUnique(m *Manifest, known func(id string) bool) error {
	if known != nil && known(m.ID) {
		return invalid(m.ID, fmt.Sprintf("extension id %q is already installed", m.ID))
	}
	return nil
}

// Declares reports whether the manifest declares capability c.
func (m *Manifest) Declares(c Capability) bool {
	return slices.Contains(m.Permissions, c)
}

// Setting returns the descriptor for key.
func (m *Manifest) Setting(key string) (SettingDescriptor, bool) {
	for _, s := range m.Settings {
		if s.Key == key {
			return s, true
		}
	}
	return SettingDescriptor{}, false
}

// CommandDescriptor returns the static descriptor for a command id.
func (m *Manifest) CommandDescriptor(id string) (CommandDescriptor, bool) {
	if m.UI == nil {
		return CommandDescriptor{}, false
	}
	for _, c := range m.UI.Commands {
		if c.ID == id {
			return c, true
		}
	}
	return CommandDescriptor{}, false
}

// CheckSettingValue verifies v matches the declared setting type.
func CheckSettingValue(s SettingDescriptor, v any) error {
	switch s.Type {
	case SettingString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("%s expects a string, got %T", s.Key, v)
		}
	case SettingNumber:
		switch v.(type) {
		case int, int32, int64, float32, float64, uint, uint32, uint64:
		default:
			return fmt.Errorf("%s expects a number, got %T", s.Key, v)
		}
	case SettingBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("%s expects a boolean, got %T", s.Key, v)
		}
	case SettingSelect:
		str, ok := v.(string)
		if !ok || !slices.Contains(s.Options, str) {
			return fmt.Errorf("%s expects one of %v, got %v", s.Key, s.Options, v)
		}
	}
	return nil
}

// ErrInvalid builds a MANIFEST_INVALID error for callers outside the package.
func ErrInvalid(id, reason string) error {
	return invalid(id, reason)
}

func invalid(id, reason string) error {
	b := oops.In("manifest").Code(CodeManifestInvalid).With("reason", reason)
	if id != "" {
		b = b.With("extension", id)
	}
	return b.Errorf("manifest invalid: %s", reason)
}
