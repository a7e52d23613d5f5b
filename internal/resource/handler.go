// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package resource

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quire-editor/quire/pkg/errutil"
)

// HandlerPattern is the route served by Handler.
const HandlerPattern = "GET /ext/{id}/{path...}"

// Handler serves extension resources at /ext/{id}/{path...}. Missing and
// refused resources are 404; storage failures are 503.
func (r *Repository) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(HandlerPattern, func(w http.ResponseWriter, req *http.Request) {
		id, path := req.PathValue("id"), req.PathValue("path")
		res, err := r.LoadResource(req.Context(), id, path)
		switch {
		case err == nil:
		case errutil.HasCode(err, CodeResourceNotFound):
			http.NotFound(w, req)
			return
		default:
			errutil.Log(req.Context(), slog.Default(), slog.LevelError, "serve extension resource failed", err,
				"extension", id, "path", path)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		ct := res.MIMEType
		if IsText(ct) {
			ct += "; charset=utf-8"
		}
		w.Header().Set("Content-Type", ct)
		w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		_, _ = w.Write(res.Data)
	})
	return mux
}
