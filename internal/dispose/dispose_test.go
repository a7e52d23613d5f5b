// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package dispose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnce(t *testing.T) {
	calls := 0
	fn := Once(func() { calls++ })
	fn()
	fn()
	assert.Equal(t, 1, calls)
}

func TestStack_RunsLIFO(t *testing.T) {
	var s Stack
	var order []int
	for i := 1; i <= 3; i++ {
		s.Push(func() { order = append(order, i) })
	}
	s.Push(nil)
	assert.Equal(t, 3, s.Len())

	assert.Nil(t, s.Run())
	assert.Equal(t, []int{3, 2, 1}, order)
	assert.Equal(t, 0, s.Len())
}

func TestStack_ContinuesAfterPanic(t *testing.T) {
	var s Stack
	ran := false
	s.Push(func() { ran = true })
	s.Push(func() { panic("boom") })

	assert.Equal(t, "boom", s.Run())
	assert.True(t, ran)
}

func TestStack_TrackRemovesOnDispose(t *testing.T) {
	var s Stack
	calls := 0
	for range 100 {
		d := s.Track(func() { calls++ })
		d()
		d()
	}
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 100, calls)

	kept := s.Track(func() { calls++ })
	assert.Equal(t, 1, s.Len())
	assert.Nil(t, s.Run())
	assert.Equal(t, 101, calls)

	kept()
	assert.Equal(t, 101, calls, "a Func already run by Run must not run again")
	assert.NotNil(t, s.Track(nil))
	assert.Equal(t, 0, s.Len())
}
