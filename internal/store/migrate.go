// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"cmp"
	"embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

// CodeMigrationFailed marks every postgres schema migration error. The
// failing step is in the "operation" context key.
const CodeMigrationFailed = "STORE_MIGRATION_FAILED"

//go:embed migrations/*.sql
var schemaFS embed.FS

// Migration is one embedded schema step.
type Migration struct {
	Version uint
	Name    string
}

func (m Migration) String() string { return fmt.Sprintf("%06d_%s", m.Version, m.Name) }

// Migrations returns the embedded schema steps in version order.
func Migrations() ([]Migration, error) {
	entries, err := schemaFS.ReadDir("migrations")
	if err != nil {
		return nil, migrationErr("list", err)
	}
	var out []Migration
	for _, e := range entries {
		base, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if !ok {
			continue
		}
		num, name, _ := strings.Cut(base, "_")
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			return nil, migrationErr("list", err, "file", e.Name())
		}
		out = append(out, Migration{Version: uint(v), Name: name})
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// schemaDriver is the part of *migrate.Migrate the Migrator drives.
type schemaDriver interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (version uint, dirty bool, err error)
	Force(version int) error
	Close() (source error, database error)
}

// Migrator applies the schema of the postgres store. The sqlite store
// creates its tables when opened and has no migrations.
type Migrator struct {
	d schemaDriver
}

// NewMigrator connects to the postgres database at dsn.
func NewMigrator(dsn string) (*Migrator, error) {
	src, err := iofs.New(schemaFS, "migrations")
	if err != nil {
		return nil, migrationErr("open source", err)
	}
	d, err := migrate.NewWithSourceInstance("iofs", src, pgxURL(dsn))
	if err != nil {
		_ = src.Close() //nolint:errcheck // the connect error is the one to report
		return nil, migrationErr("connect", err)
	}
	return &Migrator{d: d}, nil
}

// pgxURL maps postgres:// and postgresql:// URLs onto the pgx5 driver.
func pgxURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

func migrationErr(operation string, err error, kv ...any) error {
	return oops.In("store").Code(CodeMigrationFailed).
		With("operation", operation).
		With(kv...).
		Wrap(err)
}

func ignoreNoChange(err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

// Up applies every pending step.
func (m *Migrator) Up() error {
	if err := ignoreNoChange(m.d.Up()); err != nil {
		return migrationErr("up", err)
	}
	return nil
}

// Down rolls back n steps. n <= 0 rolls back every step, dropping all
// stored extensions.
func (m *Migrator) Down(n int) error {
	var err error
	if n <= 0 {
		err = m.d.Down()
	} else {
		err = m.d.Steps(-n)
	}
	if err := ignoreNoChange(err); err != nil {
		return migrationErr("down", err, "steps", n)
	}
	return nil
}

// Version returns the applied version and whether a step failed partway.
// An empty database is version 0.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.d.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, migrationErr("version", err)
	}
	return v, dirty, nil
}

// Force marks version as applied and clears the dirty flag without running
// any step.
func (m *Migrator) Force(version int) error {
	if version < 0 {
		return oops.In("store").Code(CodeMigrationFailed).
			With("operation", "force").
			Errorf("version must not be negative, got %d", version)
	}
	if err := m.d.Force(version); err != nil {
		return migrationErr("force", err, "version", version)
	}
	return nil
}

// Pending returns the steps Up would apply.
func (m *Migrator) Pending() ([]Migration, error) {
	current, _, err := m.Version()
	if err != nil {
		return nil, err
	}
	all, err := Migrations()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(mg Migration) bool { return mg.Version <= current }), nil
}

// Close releases the source and the database connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.d.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return migrationErr("close", err)
	}
	return nil
}
