// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package errutil bridges oops errors into structured logs and tests.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level with its oops code and context
// flattened into slog attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelError, msg, err, attrs...)
}

// LogWarn is LogError at warn level. Extension failures that the host
// contains are reported this way.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err, attrs...)
}

// Log writes err at the given level. For oops errors the code and context
// map are attached; plain errors are logged by their string.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]any, 0, len(attrs)+6)
	out = append(out, attrs...)
	if oopsErr, ok := oops.AsOops(err); ok {
		out = append(out, "error", oopsErr.Error())
		if code := oopsErr.Code(); code != nil && code != "" {
			out = append(out, "code", code)
		}
		if c := oopsErr.Context(); len(c) > 0 {
			out = append(out, "context", c)
		}
	} else {
		out = append(out, "error", err)
	}
	logger.Log(ctx, level, msg, out...)
}

// HasCode reports whether err carries the given oops code.
func HasCode(err error, code string) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	return oopsErr.Code() == code
}

// Code returns err's oops code, or "" when it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
