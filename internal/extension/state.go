// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"slices"

	"github.com/samber/oops"
)

// State is the lifecycle state of an installed extension.
type State int

// Lifecycle states.
const (
	StateUnloaded State = iota
	StateLoading
	StateActivated
	StateDeactivated
	StateError
	StateUninstalled
)

var stateNames = map[State]string{
	StateUnloaded:    "unloaded",
	StateLoading:     "loading",
	StateActivated:   "activated",
	StateDeactivated: "deactivated",
	StateError:       "error",
	StateUninstalled: "uninstalled",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st, name := range stateNames {
		if name == string(b) {
			*s = st
			return nil
		}
	}
	return oops.In("extension").Errorf("unknown extension state %q", b)
}

// transitions lists the legal next states. Activated goes back to Loading
// when an update reloads the code.
var transitions = map[State][]State{
	StateUnloaded:    {StateLoading, StateDeactivated, StateUninstalled},
	StateLoading:     {StateActivated, StateError},
	StateActivated:   {StateDeactivated, StateLoading, StateUninstalled},
	StateDeactivated: {StateLoading, StateUninstalled},
	StateError:       {StateLoading, StateDeactivated, StateUninstalled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

func invalidTransition(id string, from, to State) error {
	return oops.In("extension").Code(CodeInvalidTransition).
		With("extension", id).
		With("from", from.String()).
		With("to", to.String()).
		Errorf("%s cannot go from %s to %s", id, from, to)
}
