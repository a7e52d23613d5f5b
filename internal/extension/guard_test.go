// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestGuard_Serializes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g := NewGuard()
	var inside, peak atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Do(context.Background(), func(context.Context) error {
				n := inside.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestGuard_ReentersOnSameChain(t *testing.T) {
	g := NewGuard()
	var depth int
	err := g.Do(context.Background(), func(ctx context.Context) error {
		assert.True(t, g.Held(ctx))
		return g.Do(ctx, func(context.Context) error {
			depth++
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.False(t, g.Held(context.Background()))
}

func TestGuard_WaitHonorsContext(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g := NewGuard()
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Do(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, func(context.Context) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done
}

func TestGuard_RecoversPanic(t *testing.T) {
	g := NewGuard()
	err := g.Do(context.Background(), func(context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	// The guard is released after a panic.
	require.NoError(t, g.Do(context.Background(), func(context.Context) error { return nil }))
}
