// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package shortcut parses keyboard shortcut strings and routes key events
// to commands.
package shortcut

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// CodeShortcutInvalid is returned for shortcut strings that do not parse.
const CodeShortcutInvalid = "SHORTCUT_INVALID"

// Modifier is a set of modifier keys.
type Modifier uint8

// Modifiers.
const (
	ModCtrl Modifier = 1 << iota
	ModShift
	ModAlt
	ModMeta
)

// Has reports whether m contains mod.
func (m Modifier) Has(mod Modifier) bool { return m&mod != 0 }

func (m Modifier) String() string {
	var parts []string
	if m.Has(ModCtrl) {
		parts = append(parts, "Ctrl")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if m.Has(ModShift) {
		parts = append(parts, "Shift")
	}
	if m.Has(ModMeta) {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"meta":    ModMeta,
	"cmd":     ModMeta,
	"command": ModMeta,
}

// keyAliases maps accepted key names to the canonical lower-case name
// used for comparison.
var keyAliases = map[string]string{
	"esc":        "escape",
	"return":     "enter",
	"del":        "delete",
	"spacebar":   "space",
	" ":          "space",
	"up":         "arrowup",
	"down":       "arrowdown",
	"left":       "arrowleft",
	"right":      "arrowright",
	"pgup":       "pageup",
	"pgdn":       "pagedown",
	"plus":       "+",
	"arrowup":    "arrowup",
	"arrowdown":  "arrowdown",
	"arrowleft":  "arrowleft",
	"arrowright": "arrowright",
}

// shortcutLexer splits "Ctrl+Shift+H" into words and plus signs. A plus
// sign in key position ("Ctrl++") is the plus key.
var shortcutLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Plus", Pattern: `\+`},
	{Name: "Word", Pattern: `[^+\s]+`},
	{Name: "whitespace", Pattern: `\s+`},
})

// chord is the raw parse: one or more parts joined by '+'.
//
// Grammar: part ( "+" part )*
type chord struct {
	Parts []string `parser:"@(Word | Plus) ( Plus @(Word | Plus) )*"`
}

var parser = participle.MustBuild[chord](participle.Lexer(shortcutLexer))

// Shortcut is a parsed key chord: required modifiers plus one key.
type Shortcut struct {
	Mods Modifier
	Key  string
}

// Parse reads a shortcut such as "Ctrl+Shift+H" or "cmd+k". Matching is
// case-insensitive. Every part but the last must be a modifier.
func Parse(s string) (Shortcut, error) {
	if strings.TrimSpace(s) == "" {
		return Shortcut{}, invalid(s, "shortcut is empty")
	}
	c, err := parser.ParseString("", s)
	if err != nil {
		return Shortcut{}, oops.In("shortcut").Code(CodeShortcutInvalid).
			With("shortcut", s).
			Wrapf(err, "parse shortcut %q", s)
	}

	var sc Shortcut
	last := len(c.Parts) - 1
	for _, part := range c.Parts[:last] {
		mod, ok := modifierNames[strings.ToLower(part)]
		if !ok {
			return Shortcut{}, invalid(s, fmt.Sprintf("unknown modifier %q", part))
		}
		sc.Mods |= mod
	}
	key := c.Parts[last]
	if _, isMod := modifierNames[strings.ToLower(key)]; isMod {
		return Shortcut{}, invalid(s, "shortcut needs a key after its modifiers")
	}
	sc.Key = NormalizeKey(key)
	return sc, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Shortcut {
	sc, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return sc
}

// NormalizeKey lower-cases key and resolves aliases.
func NormalizeKey(key string) string {
	if key == " " {
		return "space"
	}
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// String renders the shortcut canonically, e.g. "Ctrl+Shift+H".
func (s Shortcut) String() string {
	key := s.Key
	if utf8.RuneCountInString(key) == 1 {
		key = strings.ToUpper(key)
	} else if key != "" {
		key = strings.ToUpper(key[:1]) + key[1:]
	}
	if s.Mods == 0 {
		return key
	}
	return s.Mods.String() + "+" + key
}

// Matches reports whether ev carries exactly these modifiers and this key.
func (s Shortcut) Matches(ev KeyEvent) bool {
	return ev.Modifiers() == s.Mods && NormalizeKey(ev.Key) == s.Key
}

// typesText reports whether the shortcut could collide with typing: no
// Ctrl, Alt or Meta and a single-character key.
func (s Shortcut) typesText() bool {
	if s.Mods.Has(ModCtrl) || s.Mods.Has(ModAlt) || s.Mods.Has(ModMeta) {
		return false
	}
	return utf8.RuneCountInString(s.Key) == 1 || s.Key == "space"
}

// KeyEvent is one key press as reported by the UI.
type KeyEvent struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
	// Editable is set when focus is in a text field.
	Editable bool `json:"editable,omitempty"`
}

// Modifiers returns the event's modifier set.
func (ev KeyEvent) Modifiers() Modifier {
	var m Modifier
	if ev.Ctrl {
		m |= ModCtrl
	}
	if ev.Shift {
		m |= ModShift
	}
	if ev.Alt {
		m |= ModAlt
	}
	if ev.Meta {
		m |= ModMeta
	}
	return m
}

func invalid(s, reason string) error {
	return oops.In("shortcut").Code(CodeShortcutInvalid).
		With("shortcut", s).
		With("reason", reason).
		Errorf("invalid shortcut %q: %s", s, reason)
}
