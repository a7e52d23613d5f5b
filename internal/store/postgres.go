// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// CodeSchemaMissing is returned when the extension tables do not exist.
const CodeSchemaMissing = "SCHEMA_MISSING"

// poolIface is the subset of pgxpool.Pool used by PostgresStore. It is
// satisfied by pgxmock.PgxPoolIface in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore is a Backend on PostgreSQL. The schema is managed by
// Migrator.
type PostgresStore struct {
	pool poolIface
}

// OpenPostgres connects to the database at dsn.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.In("store").With("operation", "connect").Hint("check store.dsn").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classifyPostgres("connect", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// PutPackage implements PackageStore.
func (s *PostgresStore) PutPackage(ctx context.Context, pkg *Package) (err error) {
	if pkg == nil || pkg.ExtensionID == "" {
		return oops.In("store").With("operation", "put package").Errorf("package has no extension id")
	}
	updated := pkg.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyPostgres("put package", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
		}
	}()

	if _, err = tx.Exec(ctx, `
		INSERT INTO extension_packages (id, manifest, code, digest, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			manifest = EXCLUDED.manifest,
			code = EXCLUDED.code,
			digest = EXCLUDED.digest,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`,
		pkg.ExtensionID, pkg.Manifest, pkg.Code, pkg.Digest, pkg.Enabled, updated,
	); err != nil {
		return classifyPostgres("put package", err)
	}
	if _, err = tx.Exec(ctx, `DELETE FROM extension_resources WHERE extension_id = $1`, pkg.ExtensionID); err != nil {
		return classifyPostgres("put package", err)
	}

	paths := make([]string, 0, len(pkg.Resources))
	for p := range pkg.Resources {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	for _, p := range paths {
		if _, err = tx.Exec(ctx,
			`INSERT INTO extension_resources (extension_id, path, data) VALUES ($1, $2, $3)`,
			pkg.ExtensionID, p, pkg.Resources[p],
		); err != nil {
			return classifyPostgres("put resource", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return classifyPostgres("put package", err)
	}
	return nil
}

// GetPackage implements PackageStore.
func (s *PostgresStore) GetPackage(ctx context.Context, extensionID string) (*Package, error) {
	pkg := &Package{ExtensionID: extensionID}
	err := s.pool.QueryRow(ctx,
		`SELECT manifest, code, digest, enabled, updated_at FROM extension_packages WHERE id = $1`,
		extensionID,
	).Scan(&pkg.Manifest, &pkg.Code, &pkg.Digest, &pkg.Enabled, &pkg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("get package", extensionID)
	}
	if err != nil {
		return nil, classifyPostgres("get package", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT path, data FROM extension_resources WHERE extension_id = $1`, extensionID)
	if err != nil {
		return nil, classifyPostgres("get package resources", err)
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
		return nil, classifyPostgres("get package resources", err)
	}
	return pkg, nil
}

// GetResource implements PackageStore.
func (s *PostgresStore) GetResource(ctx context.Context, extensionID, path string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM extension_resources WHERE extension_id = $1 AND path = $2`,
		extensionID, path,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("get resource", extensionID, "path", path)
	}
	if err != nil {
		return nil, classifyPostgres("get resource", err)
	}
	return data, nil
}

// ListPackages implements PackageStore.
func (s *PostgresStore) ListPackages(ctx context.Context) ([]PackageInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, manifest, digest, enabled, updated_at FROM extension_packages ORDER BY id`)
	if err != nil {
		return nil, classifyPostgres("list packages", err)
	}
	defer rows.Close()

	var out []PackageInfo
	for rows.Next() {
		var info PackageInfo
		if err := rows.Scan(&info.ExtensionID, &info.Manifest, &info.Digest, &info.Enabled, &info.UpdatedAt); err != nil {
			return nil, oops.In("store").With("operation", "scan package row").Wrap(err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres("list packages", err)
	}
	return out, nil
}

// SetEnabled implements PackageStore.
func (s *PostgresStore) SetEnabled(ctx context.Context, extensionID string, enabled bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE extension_packages SET enabled = $2, updated_at = now() WHERE id = $1`,
		extensionID, enabled)
	if err != nil {
		return classifyPostgres("set enabled", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("set enabled", extensionID)
	}
	return nil
}

// DeletePackage implements PackageStore. Resources are removed by the
// foreign key cascade.
func (s *PostgresStore) DeletePackage(ctx context.Context, extensionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM extension_packages WHERE id = $1`, extensionID)
	if err != nil {
		return classifyPostgres("delete package", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("delete package", extensionID)
	}
	return nil
}

// Get implements KVStore.
func (s *PostgresStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM extension_kv WHERE namespace = $1 AND key = $2`, namespace, key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound("kv get", namespace, "key", key)
	}
	if err != nil {
		return nil, classifyPostgres("kv get", err)
	}
	return value, nil
}

// Set implements KVStore.
func (s *PostgresStore) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := validateKV(key, value); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO extension_kv (namespace, key, value) VALUES ($1, $2, $3)
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value`,
		namespace, key, value); err != nil {
		return classifyPostgres("kv set", err)
	}
	return nil
}

// Delete implements KVStore.
func (s *PostgresStore) Delete(ctx context.Context, namespace, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM extension_kv WHERE namespace = $1 AND key = $2`, namespace, key); err != nil {
		return classifyPostgres("kv delete", err)
	}
	return nil
}

// Keys implements KVStore.
func (s *PostgresStore) Keys(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key FROM extension_kv WHERE namespace = $1 ORDER BY key`, namespace)
	if err != nil {
		return nil, classifyPostgres("kv keys", err)
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
		return nil, classifyPostgres("kv keys", err)
	}
	return keys, nil
}

// DeleteNamespace implements KVStore.
func (s *PostgresStore) DeleteNamespace(ctx context.Context, namespace string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM extension_kv WHERE namespace = $1`, namespace); err != nil {
		return classifyPostgres("kv delete namespace", err)
	}
	return nil
}

// Close implements PackageStore.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func classifyPostgres(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgErr.Code == pgerrcode.AdminShutdown,
			pgErr.Code == pgerrcode.CannotConnectNow:
			return unavailable(operation, err)
		case pgErr.Code == pgerrcode.UndefinedTable:
			return oops.In("store").Code(CodeSchemaMissing).
				With("operation", operation).
				Hint("run quire migrate up").
				Wrap(err)
		}
		return oops.In("store").With("operation", operation).With("sqlstate", pgErr.Code).Wrap(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return unavailable(operation, err)
	}
	return oops.In("store").With("operation", operation).Wrap(err)
}
