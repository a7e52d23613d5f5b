// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package manifest

import "slices"

// Capability is a named right gating one extension context facility.
type Capability string

// Known capabilities.
const (
	CapFileRead    Capability = "file:read"
	CapFileWrite   Capability = "file:write"
	CapUICommands  Capability = "ui:commands"
	CapUIPanels    Capability = "ui:panels"
	CapUISidebar   Capability = "ui:sidebar"
	CapUIStatusBar Capability = "ui:statusbar"
	CapUIToolbar   Capability = "ui:toolbar"
	CapStorage     Capability = "storage"
)

var knownCapabilities = []Capability{
	CapFileRead,
	CapFileWrite,
	CapUICommands,
	CapUIPanels,
	CapUISidebar,
	CapUIStatusBar,
	CapUIToolbar,
	CapStorage,
}

// KnownCapabilities returns every capability the host understands.
func KnownCapabilities() []Capability {
	return slices.Clone(knownCapabilities)
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return slices.Contains(knownCapabilities, c)
}

func (c Capability) String() string { return string(c) }
