// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package errutil_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/quire-editor/quire/pkg/errutil"
)

// recorder collects assertion failures instead of failing the test.
type recorder struct {
	failures []string
}

func (r *recorder) Errorf(format string, args ...any) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestAssertErrorCode(t *testing.T) {
	wrapped := oops.In("extension").Wrapf(oops.Code("RESOURCE_NOT_FOUND").Errorf("missing"), "load")

	tests := []struct {
		name string
		err  error
		code string
		pass bool
	}{
		{"matching code", oops.Code("RESOURCE_NOT_FOUND").Errorf("missing"), "RESOURCE_NOT_FOUND", true},
		{"code through wrap", wrapped, "RESOURCE_NOT_FOUND", true},
		{"other code", oops.Code("PACKAGE_INVALID").Errorf("bad"), "RESOURCE_NOT_FOUND", false},
		{"plain error", errors.New("boom"), "RESOURCE_NOT_FOUND", false},
		{"nil error", nil, "RESOURCE_NOT_FOUND", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			assert.Equal(t, tt.pass, errutil.AssertErrorCode(rec, tt.err, tt.code))
			assert.Equal(t, tt.pass, len(rec.failures) == 0, rec.failures)
		})
	}
}

func TestAssertErrorCode_FailureNamesTheError(t *testing.T) {
	rec := &recorder{}
	errutil.AssertErrorCode(rec, errors.New("disk on fire"), "STORE_UNAVAILABLE")

	assert.NotEmpty(t, rec.failures)
	assert.Contains(t, rec.failures[0], "disk on fire")
}

func TestAssertErrorContext(t *testing.T) {
	err := oops.With("extension", "demo").Errorf("test error")

	errutil.AssertErrorContext(t, err, "extension", "demo")

	rec := &recorder{}
	assert.False(t, errutil.AssertErrorContext(rec, err, "extension", "other"))
	assert.False(t, errutil.AssertErrorContext(rec, err, "path", "x"))
	assert.False(t, errutil.AssertErrorContext(rec, errors.New("plain"), "extension", "demo"))
	assert.Len(t, rec.failures, 3)
}
