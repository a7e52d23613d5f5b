// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSidebar(t *testing.T) {
	top, bottom := SplitSidebar([]SidebarItem{
		{ID: "a", Position: SidebarBottom},
		{ID: "b", Position: SidebarTop},
		{ID: "c", Position: SidebarBottom},
	})
	assert.Equal(t, []string{"b"}, ids(top))
	assert.Equal(t, []string{"a", "c"}, ids(bottom))
}

func TestSplitStatusBar(t *testing.T) {
	left, right := SplitStatusBar([]StatusBarItem{
		{ID: "words", Position: StatusBarRight},
		{ID: "sync", Position: StatusBarLeft},
	})
	assert.Equal(t, []string{"sync"}, ids(left))
	assert.Equal(t, []string{"words"}, ids(right))
}

func TestSplitPanels(t *testing.T) {
	left, right := SplitPanels([]Panel{{ID: "outline", Position: PanelLeft}, {ID: "stats", Position: PanelRight}})
	assert.Equal(t, []string{"outline"}, ids(left))
	assert.Equal(t, []string{"stats"}, ids(right))
}

func TestGroupToolbar_FirstSeenGroupOrder(t *testing.T) {
	groups := GroupToolbar([]ToolbarItem{
		{ID: "bold", Group: "format"},
		{ID: "sync"},
		{ID: "italic", Group: "format"},
		{ID: "export", Group: "file"},
	})
	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"format", DefaultToolbarGroup, "file"}, names)
	assert.Equal(t, []string{"bold", "italic"}, ids(groups[0].Items))
}

func TestRecent(t *testing.T) {
	r := NewRecent(3)
	for _, id := range []string{"a", "b", "c", "a", "d"} {
		r.Touch(id)
	}
	assert.Equal(t, []string{"d", "a", "c"}, r.List())
	r.Forget("a")
	assert.Equal(t, []string{"d", "c"}, r.List())
	assert.Equal(t, DefaultRecentLimit, NewRecent(0).limit)
}
