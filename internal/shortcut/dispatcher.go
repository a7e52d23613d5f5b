// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package shortcut

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quire-editor/quire/internal/registry"
	"github.com/quire-editor/quire/pkg/errutil"
)

// RunFunc executes a command by id.
type RunFunc func(ctx context.Context, id string) error

// Result reports what Dispatch did with an event.
type Result struct {
	// Handled means a command matched and default handling must be
	// suppressed, even if the command then failed.
	Handled   bool   `json:"handled"`
	CommandID string `json:"command,omitempty"`
}

type parsed struct {
	sc  Shortcut
	err error
}

// Dispatcher routes key events to the first command in the live command
// registry whose shortcut matches.
type Dispatcher struct {
	commands *registry.Registry[registry.Command]
	run      RunFunc
	logger   *slog.Logger

	mu    sync.Mutex
	cache map[string]parsed
}

// NewDispatcher creates a dispatcher over commands. run executes a matched
// command; when nil the command's Run function is called directly.
func NewDispatcher(commands *registry.Registry[registry.Command], run RunFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		commands: commands,
		run:      run,
		logger:   logger.With("component", "shortcut"),
		cache:    make(map[string]parsed),
	}
	if d.run == nil {
		d.run = d.runDirect
	}
	return d
}

// Match returns the first command, in registry order, whose shortcut
// matches ev. Commands with unparseable shortcuts are skipped. While
// typing into a text field, shortcuts that would produce text never
// match.
func (d *Dispatcher) Match(ev KeyEvent) (registry.Command, bool) {
	if ev.Key == "" {
		return registry.Command{}, false
	}
	for _, cmd := range d.commands.List() {
		if cmd.Shortcut == "" {
			continue
		}
		sc, ok := d.parse(cmd)
		if !ok {
			continue
		}
		if ev.Editable && sc.typesText() {
			continue
		}
		if sc.Matches(ev) {
			return cmd, true
		}
	}
	return registry.Command{}, false
}

// Dispatch runs the matching command. Unmatched events are reported as not
// handled and nothing runs.
func (d *Dispatcher) Dispatch(ctx context.Context, ev KeyEvent) (Result, error) {
	cmd, ok := d.Match(ev)
	if !ok {
		return Result{}, nil
	}
	return Result{Handled: true, CommandID: cmd.ID}, d.run(ctx, cmd.ID)
}

func (d *Dispatcher) parse(cmd registry.Command) (Shortcut, bool) {
	d.mu.Lock()
	p, seen := d.cache[cmd.Shortcut]
	if !seen {
		p.sc, p.err = Parse(cmd.Shortcut)
		d.cache[cmd.Shortcut] = p
	}
	d.mu.Unlock()
	if p.err != nil {
		if !seen {
			errutil.LogWarn(d.logger, "ignoring command shortcut", p.err,
				"command", cmd.ID,
				"extension", cmd.Owner)
		}
		return Shortcut{}, false
	}
	return p.sc, true
}

func (d *Dispatcher) runDirect(ctx context.Context, id string) error {
	cmd, ok := d.commands.Get(id)
	if !ok {
		return nil
	}
	return cmd.Run(ctx)
}
