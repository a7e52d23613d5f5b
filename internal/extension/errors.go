// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package extension

import (
	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/manifest"
	"github.com/quire-editor/quire/pkg/errutil"
)

// Error codes.
const (
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeActivationFailed   = "ACTIVATION_FAILED"
	CodeExtensionNotFound  = "EXTENSION_NOT_FOUND"
	CodeExtensionInactive  = "EXTENSION_INACTIVE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeCommandNotFound    = "COMMAND_NOT_FOUND"
	CodeCommandFailed      = "COMMAND_FAILED"
	CodeRuntimeUnavailable = "RUNTIME_UNAVAILABLE"
	CodeVersionDowngrade   = "VERSION_DOWNGRADE"
	CodeNoWorkspace        = "NO_WORKSPACE"
	CodeHostClosed         = "HOST_CLOSED"
)

func permissionDenied(ext string, c manifest.Capability, facility string) error {
	return oops.In("extension").Code(CodePermissionDenied).
		With("extension", ext).
		With("capability", string(c)).
		With("facility", facility).
		Hint("declare the capability in the manifest and grant it in extensions.grants").
		Errorf("%s: %s requires %s", ext, facility, c)
}

func notFound(id string) error {
	return oops.In("extension").Code(CodeExtensionNotFound).
		With("extension", id).
		Errorf("extension %q is not installed", id)
}

func inactive(id, facility string) error {
	return oops.In("extension").Code(CodeExtensionInactive).
		With("extension", id).
		With("facility", facility).
		Errorf("%s: %s used after deactivation", id, facility)
}

func noWorkspace(id string) error {
	return oops.In("extension").Code(CodeNoWorkspace).
		With("extension", id).
		Hint("open a folder first").
		New("no workspace is open")
}

// withCode wraps err under the extension domain. code is applied only when
// err does not already carry one, so inner codes such as
// PERMISSION_DENIED survive.
func withCode(err error, code string, kv ...any) error {
	b := oops.In("extension")
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			b = b.With(k, kv[i+1])
		}
	}
	if errutil.Code(err) == "" {
		b = b.Code(code)
	}
	return b.Wrap(err)
}
