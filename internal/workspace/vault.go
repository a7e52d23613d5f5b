// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

// Package workspace is the folder of documents the editor has open.
//
// Every path is a logical vault path: it goes through vpath.Normalize and
// is resolved inside an os.Root, so neither ".." nor a symlink can reach
// outside the folder. Mutations publish events on the bus.
package workspace

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/quire-editor/quire/internal/eventbus"
	"github.com/quire-editor/quire/internal/vpath"
)

// Error codes.
const (
	CodeFileNotFound = "FILE_NOT_FOUND"
	CodeFileExists   = "FILE_EXISTS"
	CodeVaultIO      = "VAULT_IO"
	CodeVaultClosed  = "VAULT_CLOSED"
)

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// File describes one regular file in the vault.
type File struct {
	Path    string    `json:"path"`
	Name    string    `json:"name"`
	Ext     string    `json:"ext"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// Vault is an opened workspace folder.
type Vault struct {
	dir    string
	root   *os.Root
	bus    *eventbus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	active string
	closed bool
}

// Open opens dir as the vault and emits workspace-opened. bus may be nil.
func Open(ctx context.Context, dir string, bus *eventbus.Bus) (*Vault, error) {
	v, err := New(dir, bus)
	if err != nil {
		return nil, err
	}
	v.Announce(ctx)
	return v, nil
}

// New opens dir without announcing it. Call Announce once the vault is
// reachable by whoever handles workspace-opened.
func New(dir string, bus *eventbus.Bus) (*Vault, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, oops.In("workspace").Code(CodeVaultIO).
			With("dir", dir).
			Hint("the folder must exist and be readable").
			Wrapf(err, "open vault")
	}
	return &Vault{
		dir:    dir,
		root:   root,
		bus:    bus,
		logger: slog.Default().With("vault", dir),
	}, nil
}

// Announce emits workspace-opened for the vault.
func (v *Vault) Announce(ctx context.Context) {
	v.logger.Info("vault opened")
	if v.bus != nil {
		v.bus.EmitWorkspaceOpened(ctx, v.dir)
	}
}

// Root returns the folder the vault was opened on.
func (v *Vault) Root() string { return v.dir }

// Close releases the folder handle.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	return v.root.Close()
}

// ReadFile returns the contents of p.
func (v *Vault) ReadFile(_ context.Context, p string) ([]byte, error) {
	p, err := v.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := v.root.ReadFile(p)
	if err != nil {
		return nil, ioError("read", p, err)
	}
	return data, nil
}

// WriteFile creates or replaces p and emits vault-changed.
func (v *Vault) WriteFile(ctx context.Context, p string, data []byte) error {
	p, err := v.resolve(p)
	if err != nil {
		return err
	}
	kind := eventbus.Modify
	if _, err := v.root.Stat(p); errors.Is(err, fs.ErrNotExist) {
		kind = eventbus.Create
	}
	if err := v.write(p, data); err != nil {
		return err
	}
	v.emitChange(ctx, kind, p, "")
	return nil
}

// Save writes p as a user save and emits file-saved after vault-changed.
func (v *Vault) Save(ctx context.Context, p string, data []byte) error {
	if err := v.WriteFile(ctx, p, data); err != nil {
		return err
	}
	norm, _ := vpath.Normalize(p) //nolint:errcheck // WriteFile already validated p
	if v.bus != nil {
		v.bus.EmitFileSaved(ctx, norm)
	}
	return nil
}

// Create writes a new file and fails with FILE_EXISTS if p is taken.
func (v *Vault) Create(ctx context.Context, p string, data []byte) error {
	p, err := v.resolve(p)
	if err != nil {
		return err
	}
	if _, err := v.root.Stat(p); err == nil {
		return oops.In("workspace").Code(CodeFileExists).With("path", p).Errorf("%s already exists", p)
	}
	if err := v.write(p, data); err != nil {
		return err
	}
	v.emitChange(ctx, eventbus.Create, p, "")
	return nil
}

// Rename moves oldPath to newPath. The active file follows the rename.
func (v *Vault) Rename(ctx context.Context, oldPath, newPath string) error {
	from, err := v.resolve(oldPath)
	if err != nil {
		return err
	}
	to, err := v.resolve(newPath)
	if err != nil {
		return err
	}
	if _, err := v.root.Stat(from); err != nil {
		return ioError("rename", from, err)
	}
	if _, err := v.root.Stat(to); err == nil {
		return oops.In("workspace").Code(CodeFileExists).With("path", to).Errorf("%s already exists", to)
	}
	if err := v.mkdirParent(to); err != nil {
		return err
	}
	if err := v.root.Rename(from, to); err != nil {
		return ioError("rename", from, err)
	}
	v.emitChange(ctx, eventbus.Rename, to, from)

	v.mu.Lock()
	follow := v.active == from
	if follow {
		v.active = to
	}
	v.mu.Unlock()
	if follow && v.bus != nil {
		v.bus.EmitActiveFileChanged(ctx, to)
	}
	return nil
}

// Delete removes p. Deleting the active file clears it.
func (v *Vault) Delete(ctx context.Context, p string) error {
	p, err := v.resolve(p)
	if err != nil {
		return err
	}
	if err := v.root.Remove(p); err != nil {
		return ioError("delete", p, err)
	}
	v.emitChange(ctx, eventbus.Delete, p, "")

	v.mu.Lock()
	cleared := v.active == p
	if cleared {
		v.active = ""
	}
	v.mu.Unlock()
	if cleared && v.bus != nil {
		v.bus.EmitActiveFileChanged(ctx, "")
	}
	return nil
}

// List returns every regular file in the vault sorted by path. Hidden
// files and directories are skipped.
func (v *Vault) List(_ context.Context) ([]File, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	var files []File
	err := fs.WalkDir(v.root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != "." && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{
			Path:    p,
			Name:    d.Name(),
			Ext:     strings.TrimPrefix(vpath.Ext(p), "."),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, ioError("list", ".", err)
	}
	slices.SortFunc(files, func(a, b File) int { return strings.Compare(a.Path, b.Path) })
	return files, nil
}

// SetActiveFile marks p as the file being edited; "" clears it. An
// unchanged value emits nothing.
func (v *Vault) SetActiveFile(ctx context.Context, p string) error {
	if p != "" {
		var err error
		if p, err = v.resolve(p); err != nil {
			return err
		}
		if _, err := v.root.Stat(p); err != nil {
			return ioError("activate", p, err)
		}
	}
	v.mu.Lock()
	changed := v.active != p
	v.active = p
	v.mu.Unlock()
	if changed && v.bus != nil {
		v.bus.EmitActiveFileChanged(ctx, p)
	}
	return nil
}

// ActiveFile returns the active path, or "" when none is set.
func (v *Vault) ActiveFile() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.active
}

func (v *Vault) checkOpen() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return oops.In("workspace").Code(CodeVaultClosed).With("dir", v.dir).New("vault is closed")
	}
	return nil
}

func (v *Vault) resolve(p string) (string, error) {
	if err := v.checkOpen(); err != nil {
		return "", err
	}
	return vpath.Normalize(p)
}

func (v *Vault) write(p string, data []byte) error {
	if err := v.mkdirParent(p); err != nil {
		return err
	}
	if err := v.root.WriteFile(p, data, filePerm); err != nil {
		return ioError("write", p, err)
	}
	return nil
}

func (v *Vault) mkdirParent(p string) error {
	dir := path.Dir(p)
	if dir == "." {
		return nil
	}
	if err := v.root.MkdirAll(dir, dirPerm); err != nil {
		return ioError("mkdir", dir, err)
	}
	return nil
}

func (v *Vault) emitChange(ctx context.Context, kind eventbus.ChangeKind, p, oldPath string) {
	v.logger.Debug("vault changed", "kind", string(kind), "path", p, "old_path", oldPath)
	if v.bus != nil {
		v.bus.EmitVaultChanged(ctx, kind, p, oldPath)
	}
}

func ioError(op, p string, err error) error {
	b := oops.In("workspace").With("operation", op).With("path", p)
	if errors.Is(err, fs.ErrNotExist) {
		return b.Code(CodeFileNotFound).Wrapf(err, "%s %s", op, p)
	}
	return b.Code(CodeVaultIO).Wrapf(err, "%s %s", op, p)
}
