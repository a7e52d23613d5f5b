// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS extension_packages (
	id         TEXT PRIMARY KEY,
	manifest   BLOB NOT NULL,
	code       TEXT NOT NULL,
	digest     TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS extension_resources (
	extension_id TEXT NOT NULL REFERENCES extension_packages(id) ON DELETE CASCADE,
	path         TEXT NOT NULL,
	data         BLOB NOT NULL,
	PRIMARY KEY (extension_id, path)
);
CREATE TABLE IF NOT EXISTS extension_kv (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

// SQLiteStore is a Backend on a local SQLite file. This is the default
// backend for a desktop install.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// schema exists.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, oops.In("store").With("path", path).Hint("check data_dir permissions").Wrap(err)
		}
	}

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&"
	} else {
		dsn += "?"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, oops.In("store").With("path", path).Wrap(err)
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, classifySQLite("open", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, oops.In("store").With("operation", "create schema").Wrap(err)
	}
	return &SQLiteStore{db: db}, nil
}

// PutPackage implements PackageStore.
func (s *SQLiteStore) PutPackage(ctx context.Context, pkg *Package) (err error) {
	if pkg == nil || pkg.ExtensionID == "" {
		return oops.In("store").With("operation", "put package").Errorf("package has no extension id")
	}
	updated := pkg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite("put package", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO extension_packages (id, manifest, code, digest, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			manifest = excluded.manifest,
			code = excluded.code,
			digest = excluded.digest,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`,
		pkg.ExtensionID, pkg.Manifest, pkg.Code, pkg.Digest, pkg.Enabled, updated.UnixMilli(),
	); err != nil {
		return classifySQLite("put package", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM extension_resources WHERE extension_id = ?`, pkg.ExtensionID); err != nil {
		return classifySQLite("put package", err)
	}
	for path, data := range pkg.Resources {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO extension_resources (extension_id, path, data) VALUES (?, ?, ?)`,
			pkg.ExtensionID, path, data,
		); err != nil {
			return classifySQLite("put resource", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return classifySQLite("put package", err)
	}
	return nil
}

// GetPackage implements PackageStore.
func (s *SQLiteStore) GetPackage(ctx context.Context, extensionID string) (*Package, error) {
	pkg := &Package{ExtensionID: extensionID}
	var updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT manifest, code, digest, enabled, updated_at FROM extension_packages WHERE id = ?`,
		extensionID,
	).Scan(&pkg.Manifest, &pkg.Code, &pkg.Digest, &pkg.Enabled, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get package", extensionID)
	}
	if err != nil {
		return nil, classifySQLite("get package", err)
	}
	pkg.UpdatedAt = time.UnixMilli(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data FROM extension_resources WHERE extension_id = ?`, extensionID)
	if err != nil {
		return nil, classifySQLite("get package resources", err)
	}
	defer rows.Close()
	pkg.Resources = make(map[string][]byte)
	for rows.Next() {
		var path string
		var data []byte
		if err := rows.Scan(&path, &data); err != nil {
			return nil, oops.In("store").With("operation", "scan resource row").Wrap(err)
		}
		pkg.Resources[path] = data
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("get package resources", err)
	}
	return pkg, nil
}

// GetResource implements PackageStore.
func (s *SQLiteStore) GetResource(ctx context.Context, extensionID, path string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM extension_resources WHERE extension_id = ? AND path = ?`,
		extensionID, path,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("get resource", extensionID, "path", path)
	}
	if err != nil {
		return nil, classifySQLite("get resource", err)
	}
	return data, nil
}

// ListPackages implements PackageStore.
func (s *SQLiteStore) ListPackages(ctx context.Context) ([]PackageInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, manifest, digest, enabled, updated_at FROM extension_packages ORDER BY id`)
	if err != nil {
		return nil, classifySQLite("list packages", err)
	}
	defer rows.Close()

	var out []PackageInfo
	for rows.Next() {
		var info PackageInfo
		var updated int64
		if err := rows.Scan(&info.ExtensionID, &info.Manifest, &info.Digest, &info.Enabled, &updated); err != nil {
			return nil, oops.In("store").With("operation", "scan package row").Wrap(err)
		}
		info.UpdatedAt = time.UnixMilli(updated)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("list packages", err)
	}
	return out, nil
}

// SetEnabled implements PackageStore.
func (s *SQLiteStore) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE extension_packages SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UnixMilli(), extensionID)
	if err != nil {
		return classifySQLite("set enabled", err)
	}
	return requireAffected(res, "set enabled", extensionID)
}

// DeletePackage implements PackageStore.
func (s *SQLiteStore) DeletePackage(ctx context.Context, extensionID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extension_packages WHERE id = ?`, extensionID)
	if err != nil {
		return classifySQLite("delete package", err)
	}
	return requireAffected(res, "delete package", extensionID)
}

// Get implements KVStore.
func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM extension_kv WHERE namespace = ? AND key = ?`, namespace, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("kv get", namespace, "key", key)
	}
	if err != nil {
		return nil, classifySQLite("kv get", err)
	}
	return value, nil
}

// Set implements KVStore.
func (s *SQLiteStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extension_kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value`,
		namespace, key, value)
	if err != nil {
		return classifySQLite("kv set", err)
	}
	return nil
}

// Delete implements KVStore.
func (s *SQLiteStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM extension_kv WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
		return classifySQLite("kv delete", err)
	}
	return nil
}

// Keys implements KVStore.
func (s *SQLiteStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM extension_kv WHERE namespace = ? ORDER BY key`, namespace)
	if err != nil {
		return nil, classifySQLite("kv keys", err)
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, oops.In("store").With("operation", "scan kv row").Wrap(err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite("kv keys", err)
	}
	return keys, nil
}

// DeleteNamespace implements KVStore.
func (s *SQLiteStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extension_kv WHERE namespace = ?`, namespace); err != nil {
		return classifySQLite("kv delete namespace", err)
	}
	return nil
}

// Close implements PackageStore.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func requireAffected(res sql.Result, operation, extensionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return oops.In("store").With("operation", operation).Wrap(err)
	}
	if n == 0 {
		return notFound(operation, extensionID)
	}
	return nil
}

// classifySQLite maps lock contention and closed handles to ErrUnavailable.
func classifySQLite(operation string, err error) error {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(operation, err)
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_IOERR:
			return unavailable(operation, err)
		}
	}
	return oops.In("store").With("operation", operation).Wrap(err)
}
