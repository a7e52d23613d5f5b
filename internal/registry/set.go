// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package registry

import "log/slog"

// Set is the group of registries owned by one host.
type Set struct {
	Commands  *Registry[Command]
	Panels    *Registry[Panel]
	Sidebar   *Registry[SidebarItem]
	StatusBar *Registry[StatusBarItem]
	Toolbar   *Registry[ToolbarItem]
	Recent    *Recent
}

// NewSet creates empty registries.
func NewSet(logger *slog.Logger) *Set {
	return &Set{
		Commands:  New[Command]("commands", logger),
		Panels:    New[Panel]("panels", logger),
		Sidebar:   New[SidebarItem]("sidebar", logger),
		StatusBar: New[StatusBarItem]("statusbar", logger),
		Toolbar:   New[ToolbarItem]("toolbar", logger),
		Recent:    NewRecent(DefaultRecentLimit),
	}
}

// RemoveOwner removes every entry owned by owner from all registries and
// returns the total removed.
func (s *Set) RemoveOwner(owner string) int {
	n := s.Commands.RemoveOwner(owner)
	n += s.Panels.RemoveOwner(owner)
	n += s.Sidebar.RemoveOwner(owner)
	n += s.StatusBar.RemoveOwner(owner)
	n += s.Toolbar.RemoveOwner(owner)
	return n
}

// Sizes returns the entry count per registry name.
func (s *Set) Sizes() map[string]int {
	return map[string]int{
		s.Commands.Name():  s.Commands.Len(),
		s.Panels.Name():    s.Panels.Len(),
		s.Sidebar.Name():   s.Sidebar.Len(),
		s.StatusBar.Name(): s.StatusBar.Len(),
		s.Toolbar.Name():   s.Toolbar.Len(),
	}
}
