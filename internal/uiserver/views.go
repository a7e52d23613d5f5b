// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package uiserver

import "github.com/quire-editor/quire/internal/registry"

// Registry names used in routes and stream messages.
const (
	RegistryCommands  = "commands"
	RegistryPanels    = "panels"
	RegistrySidebar   = "sidebar"
	RegistryStatusBar = "statusbar"
	RegistryToolbar   = "toolbar"
)

// CommandView is the wire form of a command.
type CommandView struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Shortcut string `json:"shortcut,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// CommandsView lists commands in registration order with the recently
// used ids, most recent first.
type CommandsView struct {
	Version uint64        `json:"version"`
	Items   []CommandView `json:"items"`
	Recent  []string      `json:"recent"`
}

// PanelView is the wire form of a panel. Dynamic marks panels whose
// content comes from a render function.
type PanelView struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Position string         `json:"position"`
	Owner    string         `json:"owner,omitempty"`
	Schema   map[string]any `json:"schema,omitempty"`
	Data     any            `json:"data,omitempty"`
	Dynamic  bool           `json:"dynamic,omitempty"`
}

// PanelsView buckets panels by side.
type PanelsView struct {
	Version uint64      `json:"version"`
	Left    []PanelView `json:"left"`
	Right   []PanelView `json:"right"`
}

// SidebarItemView is the wire form of a sidebar item.
type SidebarItemView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// SidebarView buckets sidebar items by position.
type SidebarView struct {
	Version uint64            `json:"version"`
	Top     []SidebarItemView `json:"top"`
	Bottom  []SidebarItemView `json:"bottom"`
}

// StatusBarItemView is the wire form of a status bar item.
type StatusBarItemView struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Tooltip   string `json:"tooltip,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Clickable bool   `json:"clickable,omitempty"`
}

// StatusBarView buckets status bar items by position.
type StatusBarView struct {
	Version uint64              `json:"version"`
	Left    []StatusBarItemView `json:"left"`
	Right   []StatusBarItemView `json:"right"`
}

// ToolbarItemView is the wire form of a toolbar button.
type ToolbarItemView struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Icon  string `json:"icon,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// ToolbarGroupView is one group of toolbar buttons.
type ToolbarGroupView struct {
	Name  string            `json:"name"`
	Items []ToolbarItemView `json:"items"`
}

// ToolbarView lists toolbar groups in first-registration order.
type ToolbarView struct {
	Version uint64             `json:"version"`
	Groups  []ToolbarGroupView `json:"groups"`
}

func commandsView(s registry.Snapshot[registry.Command], recent []string) CommandsView {
	v := CommandsView{Version: s.Version, Items: make([]CommandView, 0, len(s.Items)), Recent: recent}
	if v.Recent == nil {
		v.Recent = []string{}
	}
	for _, c := range s.Items {
		v.Items = append(v.Items, CommandView{ID: c.ID, Title: c.Title, Shortcut: c.Shortcut, Owner: c.Owner})
	}
	return v
}

func panelView(p registry.Panel) PanelView {
	return PanelView{
		ID:       p.ID,
		Title:    p.Title,
		Position: string(p.Position),
		Owner:    p.Owner,
		Schema:   p.Schema,
		Data:     p.Data,
		Dynamic:  p.Render != nil,
	}
}

func panelsView(s registry.Snapshot[registry.Panel]) PanelsView {
	left, right := registry.SplitPanels(s.Items)
	v := PanelsView{Version: s.Version, Left: []PanelView{}, Right: []PanelView{}}
	for _, p := range left {
		v.Left = append(v.Left, panelView(p))
	}
	for _, p := range right {
		v.Right = append(v.Right, panelView(p))
	}
	return v
}

func sidebarView(s registry.Snapshot[registry.SidebarItem]) SidebarView {
	top, bottom := registry.SplitSidebar(s.Items)
	conv := func(items []registry.SidebarItem) []SidebarItemView {
		out := make([]SidebarItemView, 0, len(items))
		for _, it := range items {
			out = append(out, SidebarItemView{ID: it.ID, Title: it.Title, Icon: it.Icon, Owner: it.Owner})
		}
		return out
	}
	return SidebarView{Version: s.Version, Top: conv(top), Bottom: conv(bottom)}
}

func statusBarView(s registry.Snapshot[registry.StatusBarItem]) StatusBarView {
	left, right := registry.SplitStatusBar(s.Items)
	conv := func(items []registry.StatusBarItem) []StatusBarItemView {
		out := make([]StatusBarItemView, 0, len(items))
		for _, it := range items {
			out = append(out, StatusBarItemView{
				ID:        it.ID,
				Title:     it.Title,
				Tooltip:   it.Tooltip,
				Owner:     it.Owner,
				Clickable: it.Run != nil,
			})
		}
		return out
	}
	return StatusBarView{Version: s.Version, Left: conv(left), Right: conv(right)}
}

func toolbarView(s registry.Snapshot[registry.ToolbarItem]) ToolbarView {
	v := ToolbarView{Version: s.Version, Groups: []ToolbarGroupView{}}
	for _, g := range registry.GroupToolbar(s.Items) {
		gv := ToolbarGroupView{Name: g.Name, Items: make([]ToolbarItemView, 0, len(g.Items))}
		for _, it := range g.Items {
			gv.Items = append(gv.Items, ToolbarItemView{ID: it.ID, Title: it.Title, Icon: it.Icon, Owner: it.Owner})
		}
		v.Groups = append(v.Groups, gv)
	}
	return v
}

// view returns the current view of the named registry.
func view(regs *registry.Set, name string) (any, bool) {
	switch name {
	case RegistryCommands:
		return commandsView(regs.Commands.Snapshot(), regs.Recent.List()), true
	case RegistryPanels:
		return panelsView(regs.Panels.Snapshot()), true
	case RegistrySidebar:
		return sidebarView(regs.Sidebar.Snapshot()), true
	case RegistryStatusBar:
		return statusBarView(regs.StatusBar.Snapshot()), true
	case RegistryToolbar:
		return toolbarView(regs.Toolbar.Snapshot()), true
	}
	return nil, false
}
