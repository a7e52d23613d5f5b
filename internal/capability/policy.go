// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package capability

import (
	"fmt"
	"maps"
	"slices"
)

// Policy maps extension ids to grant patterns. Extensions without an
// explicit entry receive Defaults.
type Policy struct {
	Defaults []string
	Grants   map[string][]string
}

// AllowAll grants every declared capability.
func AllowAll() Policy {
	return Policy{Defaults: []string{"**"}}
}

// PatternsFor returns the patterns that apply to ext.
func (p Policy) PatternsFor(ext string) []string {
	if patterns, ok := p.Grants[ext]; ok {
		return slices.Clone(patterns)
	}
	return slices.Clone(p.Defaults)
}

// Validate compiles every pattern so configuration mistakes surface at
// startup instead of on first activation.
func (p Policy) Validate() error {
	if _, err := compile(p.Defaults); err != nil {
		return err
	}
	for _, ext := range slices.Sorted(maps.Keys(p.Grants)) {
		if _, err := compile(p.Grants[ext]); err != nil {
			return fmt.Errorf("grants for %s: %w", ext, err)
		}
	}
	return nil
}
