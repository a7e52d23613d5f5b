// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package registry

// DefaultToolbarGroup holds toolbar items registered without a group.
const DefaultToolbarGroup = "default"

// SplitSidebar buckets items by position, keeping registration order.
func SplitSidebar(items []SidebarItem) (top, bottom []SidebarItem) {
	for _, it := range items {
		if it.Position == SidebarBottom {
			bottom = append(bottom, it)
		} else {
			top = append(top, it)
		}
	}
	return top, bottom
}

// SplitStatusBar buckets items by position, keeping registration order.
func SplitStatusBar(items []StatusBarItem) (left, right []StatusBarItem) {
	for _, it := range items {
		if it.Position == StatusBarRight {
			right = append(right, it)
		} else {
			left = append(left, it)
		}
	}
	return left, right
}

// SplitPanels buckets panels by side, keeping registration order.
func SplitPanels(items []Panel) (left, right []Panel) {
	for _, it := range items {
		if it.Position == PanelLeft {
			left = append(left, it)
		} else {
			right = append(right, it)
		}
	}
	return left, right
}

// ToolbarGroup is one run of toolbar buttons.
type ToolbarGroup struct {
	Name  string
	Items []ToolbarItem
}

// GroupToolbar groups items by Group. Groups appear in the order their
// first item was registered.
func GroupToolbar(items []ToolbarItem) []ToolbarGroup {
	var groups []ToolbarGroup
	index := make(map[string]int)
	for _, it := range items {
		name := it.Group
		if name == "" {
			name = DefaultToolbarGroup
		}
		i, ok := index[name]
		if !ok {
			i = len(groups)
			index[name] = i
			groups = append(groups, ToolbarGroup{Name: name})
		}
		groups[i].Items = append(groups[i].Items, it)
	}
	return groups
}
