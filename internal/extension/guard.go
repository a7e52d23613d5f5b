// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"

	"github.com/samber/oops"
)

type guardKey struct{ g *Guard }

// Guard serializes calls into one extension instance. A call made further
// down the same call chain (identified through the context) re-enters
// without waiting, so an extension whose command triggers its own event
// handler does not deadlock.
type Guard struct {
	sem chan struct{}
}

// NewGuard creates an unlocked Guard.
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Held reports whether ctx is already inside g.
func (g *Guard) Held(ctx context.Context) bool {
	return ctx.Value(guardKey{g}) != nil
}

// Do runs fn holding g. Waiting for g gives up when ctx is done. A panic
// in fn is recovered and returned as an error.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) (err error) {
	if !g.Held(ctx) {
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return oops.In("extension").Wrapf(ctx.Err(), "waiting for extension")
		}
		defer func() { <-g.sem }()
		ctx = context.WithValue(ctx, guardKey{g}, struct{}{})
	}
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("extension").With("panic", r).Errorf("extension code panicked: %v", r)
		}
	}()
	return fn(ctx)
}
