// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package resource stores extension packages and serves their bundled
// files by logical path.
package resource

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/blake2b"

	"github.com/quire-editor/quire/internal/store"
	"github.com/quire-editor/quire/internal/vpath"
)

// Error codes.
const (
	CodeResourceNotFound   = "RESOURCE_NOT_FOUND"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
)

// Resource is one served file.
type Resource struct {
	Path     string
	Data     []byte
	MIMEType string
}

// Option configures a Repository.
type Option func(*Repository)

// WithBaseURL sets the prefix used by URL.
func WithBaseURL(base string) Option {
	return func(r *Repository) { r.baseURL = strings.TrimRight(base, "/") }
}

// WithBackoff sets the retry policy for transient store failures. The
// function is called once per operation.
func WithBackoff(fn func() retry.Backoff) Option {
	return func(r *Repository) { r.backoff = fn }
}

// Repository persists extension packages in a store.PackageStore.
type Repository struct {
	store   store.PackageStore
	baseURL string
	backoff func() retry.Backoff
	locks   keyedMutex
}

// NewRepository creates a Repository over s.
func NewRepository(s store.PackageStore, opts ...Option) *Repository {
	r := &Repository{
		store: s,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StoreOption adjusts a StorePackage call.
type StoreOption func(*store.Package)

// Disabled stores the package with enabled=false.
func Disabled() StoreOption {
	return func(p *store.Package) { p.Enabled = false }
}

// StorePackage normalizes and decodes resources, then replaces the stored
// package for extensionID in one write. Writes for the same id are
// serialized; writes for different ids proceed independently.
func (r *Repository) StorePackage(
	ctx context.Context,
	extensionID string,
	manifest []byte,
	codeText string,
	resources map[string]string,
	opts ...StoreOption,
) (*store.Package, error) {
	decoded, err := DecodeResources(resources)
	if err != nil {
		return nil, oops.With("extension", extensionID).Wrap(err)
	}
	pkg := &store.Package{
		ExtensionID: extensionID,
		Manifest:    manifest,
		Code:        codeText,
		Resources:   decoded,
		Enabled:     true,
	}
	for _, opt := range opts {
		opt(pkg)
	}
	pkg.Digest = Digest(manifest, codeText, decoded)

	unlock := r.locks.Lock(extensionID)
	defer unlock()

	pkg.UpdatedAt = time.Now()
	if err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.PutPackage(ctx, pkg)
	}); err != nil {
		return nil, r.storageError("store package", extensionID, err)
	}
	return pkg, nil
}

// DecodeResources normalizes paths and decodes base64 payloads. Two paths
// that normalize to the same logical path are rejected.
func DecodeResources(resources map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(resources))
	keys := make([]string, 0, len(resources))
	for k := range resources {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, raw := range keys {
		p, err := vpath.Normalize(raw)
		if err != nil {
			return nil, err
		}
		if _, dup := out[p]; dup {
			return nil, oops.In("resource").Code(CodePackageInvalid).
				With("path", p).
				Errorf("resource path %q appears more than once", p)
		}
		data, err := base64.StdEncoding.DecodeString(resources[raw])
		if err != nil {
			return nil, oops.In("resource").Code(CodePackageInvalid).
				With("path", p).
				Wrapf(err, "decode %s", p)
		}
		out[p] = data
	}
	return out, nil
}

// Digest is the blake2b-256 hex digest of a package's contents.
func Digest(manifest []byte, codeText string, resources map[string][]byte) string {
	h, _ := blake2b.New256(nil) //nolint:errcheck // nil key never fails
	_, _ = h.Write(manifest)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(codeText))
	paths := make([]string, 0, len(resources))
	for p := range resources {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(resources[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LoadResource returns the resource at path for extensionID. Paths that do
// not normalize, do not exist, or hold unsupported binary content all fail
// with RESOURCE_NOT_FOUND.
func (r *Repository) LoadResource(ctx context.Context, extensionID, path string) (*Resource, error) {
	p, err := vpath.Normalize(path)
	if err != nil {
		return nil, notFound(extensionID, path, "invalid path")
	}
	var data []byte
	err = r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		data, err = r.store.GetResource(ctx, extensionID, p)
		return err
	})
	if store.IsNotFound(err) {
		return nil, notFound(extensionID, p, "no such resource")
	}
	if err != nil {
		return nil, r.storageError("load resource", extensionID, err)
	}
	mimeType := InferMIME(p, data)
	if mimeType == "" {
		return nil, notFound(extensionID, p, "unsupported binary type")
	}
	return &Resource{Path: p, Data: data, MIMEType: mimeType}, nil
}

// ReadText returns a textual resource as a string.
func (r *Repository) ReadText(ctx context.Context, extensionID, path string) (string, error) {
	res, err := r.LoadResource(ctx, extensionID, path)
	if err != nil {
		return "", err
	}
	if !IsText(res.MIMEType) {
		return "", notFound(extensionID, res.Path, "not a text resource")
	}
	return string(res.Data), nil
}

// URL returns the address at which Handler serves path.
func (r *Repository) URL(extensionID, path string) (string, error) {
	p, err := vpath.Normalize(path)
	if err != nil {
		return "", err
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return r.baseURL + "/ext/" + url.PathEscape(extensionID) + "/" + strings.Join(segs, "/"), nil
}

// LoadPackage returns the stored package for extensionID.
func (r *Repository) LoadPackage(ctx context.Context, extensionID string) (*store.Package, error) {
	var pkg *store.Package
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		pkg, err = r.store.GetPackage(ctx, extensionID)
		return err
	})
	if err != nil {
		return nil, r.storageError("load package", extensionID, err)
	}
	return pkg, nil
}

// List returns every stored package.
func (r *Repository) List(ctx context.Context) ([]store.PackageInfo, error) {
	var out []store.PackageInfo
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.store.ListPackages(ctx)
		return err
	})
	if err != nil {
		return nil, r.storageError("list packages", "", err)
	}
	return out, nil
}

// SetEnabled persists the enabled flag.
func (r *Repository) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	unlock := r.locks.Lock(extensionID)
	defer unlock()
	if err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.SetEnabled(ctx, extensionID, enabled)
	}); err != nil {
		return r.storageError("set enabled", extensionID, err)
	}
	return nil
}

// Delete removes the package and all of its resources.
func (r *Repository) Delete(ctx context.Context, extensionID string) error {
	unlock := r.locks.Lock(extensionID)
	defer unlock()
	if err := r.withRetry(ctx, func(ctx context.Context) error {
		return r.store.DeletePackage(ctx, extensionID)
	}); err != nil {
		return r.storageError("delete package", extensionID, err)
	}
	return nil
}

func (r *Repository) withRetry(ctx context.Context, fn func(context.Context) error) error {
	return retry.Do(ctx, r.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if store.IsUnavailable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// storageError tags unavailable-backend failures with STORAGE_UNAVAILABLE.
// Not-found errors keep store.ErrNotFound in their chain.
func (r *Repository) storageError(operation, extensionID string, err error) error {
	b := oops.In("resource").With("operation", operation)
	if extensionID != "" {
		b = b.With("extension", extensionID)
	}
	if store.IsUnavailable(err) {
		return b.Code(CodeStorageUnavailable).Hint("check the store backend").Wrap(err)
	}
	return b.Wrap(err)
}

func notFound(extensionID, path, reason string) error {
	return oops.In("resource").Code(CodeResourceNotFound).
		With("extension", extensionID).
		With("path", path).
		With("reason", reason).
		Errorf("resource %s/%s not found: %s", extensionID, path, reason)
}
