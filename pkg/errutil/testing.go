// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package errutil

import (
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

type helper interface{ Helper() }

// AssertErrorCode reports a failure on t unless err carries code. The
// error text is included in the failure message.
func AssertErrorCode(t assert.TestingT, err error, code string) bool {
	if h, ok := t.(helper); ok {
		h.Helper()
	}
	if !assert.Error(t, err, "expected an error with code %s", code) {
		return false
	}
	return assert.Equal(t, code, Code(err), "wrong code on error: %v", err)
}

// AssertErrorContext reports a failure on t unless err carries key with
// value in its oops context.
func AssertErrorContext(t assert.TestingT, err error, key string, value any) bool {
	if h, ok := t.(helper); ok {
		h.Helper()
	}
	oopsErr, ok := oops.AsOops(err)
	if !assert.True(t, ok, "expected an oops error, got %T: %v", err, err) {
		return false
	}
	ctx := oopsErr.Context()
	if !assert.Contains(t, ctx, key, "context of %v", err) {
		return false
	}
	return assert.Equal(t, value, ctx[key], "context key %s", key)
}
