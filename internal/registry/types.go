// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package registry

import (
	"context"
	"errors"
	"fmt"
)

// RunFunc is the action behind a command or clickable item.
type RunFunc func(ctx context.Context) error

// Command is an invocable action.
type Command struct {
	ID       string
	Title    string
	Shortcut string
	Owner    string
	Run      RunFunc
}

// EntryID implements Entry.
func (c Command) EntryID() string { return c.ID }

// EntryOwner implements Entry.
func (c Command) EntryOwner() string { return c.Owner }

// Validate implements Entry.
func (c Command) Validate() error {
	if err := requireIDTitle(c.ID, c.Title); err != nil {
		return err
	}
	if c.Run == nil {
		return errors.New("command has no run function")
	}
	return nil
}

// PanelPosition is the side a panel docks to.
type PanelPosition string

// Panel positions.
const (
	PanelLeft  PanelPosition = "left"
	PanelRight PanelPosition = "right"
)

// Panel is a side panel. It carries either a static Schema with Data, or a
// Render function, or both.
type Panel struct {
	ID       string
	Title    string
	Position PanelPosition
	Owner    string
	Schema   map[string]any
	Data     any
	Render   func(ctx context.Context) (any, error)
}

// EntryID implements Entry.
func (p Panel) EntryID() string { return p.ID }

// EntryOwner implements Entry.
func (p Panel) EntryOwner() string { return p.Owner }

// Validate implements Entry.
func (p Panel) Validate() error {
	if err := requireIDTitle(p.ID, p.Title); err != nil {
		return err
	}
	switch p.Position {
	case PanelLeft, PanelRight:
		return nil
	}
	return fmt.Errorf("panel position %q must be left or right", p.Position)
}

// SidebarPosition is the sidebar bucket.
type SidebarPosition string

// Sidebar positions.
const (
	SidebarTop    SidebarPosition = "top"
	SidebarBottom SidebarPosition = "bottom"
)

// SidebarItem is an icon entry in the sidebar.
type SidebarItem struct {
	ID       string
	Title    string
	Icon     string
	Position SidebarPosition
	Owner    string
	Run      RunFunc
}

// EntryID implements Entry.
func (s SidebarItem) EntryID() string { return s.ID }

// EntryOwner implements Entry.
func (s SidebarItem) EntryOwner() string { return s.Owner }

// Validate implements Entry.
func (s SidebarItem) Validate() error {
	if err := requireIDTitle(s.ID, s.Title); err != nil {
		return err
	}
	switch s.Position {
	case SidebarTop, SidebarBottom:
		return nil
	}
	return fmt.Errorf("sidebar position %q must be top or bottom", s.Position)
}

// StatusBarPosition is the status bar bucket.
type StatusBarPosition string

// Status bar positions.
const (
	StatusBarLeft  StatusBarPosition = "left"
	StatusBarRight StatusBarPosition = "right"
)

// StatusBarItem is a text entry in the status bar.
type StatusBarItem struct {
	ID       string
	Title    string
	Tooltip  string
	Position StatusBarPosition
	Owner    string
	Run      RunFunc
}

// EntryID implements Entry.
func (s StatusBarItem) EntryID() string { return s.ID }

// EntryOwner implements Entry.
func (s StatusBarItem) EntryOwner() string { return s.Owner }

// Validate implements Entry.
func (s StatusBarItem) Validate() error {
	if err := requireIDTitle(s.ID, s.Title); err != nil {
		return err
	}
	switch s.Position {
	case StatusBarLeft, StatusBarRight:
		return nil
	}
	return fmt.Errorf("status bar position %q must be left or right", s.Position)
}

// ToolbarItem is a toolbar button.
type ToolbarItem struct {
	ID    string
	Title string
	Icon  string
	Group string
	Owner string
	Run   RunFunc
}

// EntryID implements Entry.
func (t ToolbarItem) EntryID() string { return t.ID }

// EntryOwner implements Entry.
func (t ToolbarItem) EntryOwner() string { return t.Owner }

// Validate implements Entry.
func (t ToolbarItem) Validate() error {
	if err := requireIDTitle(t.ID, t.Title); err != nil {
		return err
	}
	if t.Run == nil {
		return errors.New("toolbar item has no run function")
	}
	return nil
}

func requireIDTitle(id, title string) error {
	if id == "" {
		return errors.New("id is required")
	}
	if title == "" {
		return errors.New("title is required")
	}
	return nil
}
