// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quire Contributors

package store

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quire-editor/quire/pkg/errutil"
)

// fakeDriver scripts the golang-migrate calls and records Steps arguments.
type fakeDriver struct {
	upErr, downErr, stepsErr, forceErr error
	version                            uint
	dirty                              bool
	versionErr                         error
	closeSourceErr, closeDBErr         error
	steps                              []int
	downAll                            bool
}

func (f *fakeDriver) Up() error { return f.upErr }
func (f *fakeDriver) Down() error {
	f.downAll = true
	return f.downErr
}
func (f *fakeDriver) Steps(n int) error {
	f.steps = append(f.steps, n)
	return f.stepsErr
}
func (f *fakeDriver) Version() (uint, bool, error) { return f.version, f.dirty, f.versionErr }
func (f *fakeDriver) Force(int) error              { return f.forceErr }
func (f *fakeDriver) Close() (error, error)        { return f.closeSourceErr, f.closeDBErr }

func TestMigrations_Embedded(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, Migration{Version: 1, Name: "extensions"}, all[0])
	assert.Equal(t, "000002_extension_kv", all[1].String())
}

func TestMigrations_EveryUpHasADown(t *testing.T) {
	entries, err := schemaFS.ReadDir("migrations")
	require.NoError(t, err)
	pattern := regexp.MustCompile(`^\d{6}_\w+\.(up|down)\.sql$`)
	names := map[string]bool{}
	for _, e := range entries {
		assert.Regexp(t, pattern, e.Name())
		names[e.Name()] = true
	}
	for name := range names {
		if base, ok := strings.CutSuffix(name, ".up.sql"); ok {
			assert.True(t, names[base+".down.sql"], "missing down for %s", name)
		}
	}
}

func TestPgxURL(t *testing.T) {
	assert.Equal(t, "pgx5://db:5432/quire", pgxURL("postgres://db:5432/quire"))
	assert.Equal(t, "pgx5://db/quire", pgxURL("postgresql://db/quire"))
	assert.Equal(t, "pgx5://db/quire", pgxURL("pgx5://db/quire"))
}

func TestNewMigrator_UnknownScheme(t *testing.T) {
	_, err := NewMigrator("mysql://localhost:3306/quire")
	errutil.AssertErrorCode(t, err, CodeMigrationFailed)
	errutil.AssertErrorContext(t, err, "operation", "connect")
}

func TestMigrator_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		fake *fakeDriver
		call func(*Migrator) error
		op   string
	}{
		{"up", &fakeDriver{upErr: boom}, (*Migrator).Up, "up"},
		{"down one", &fakeDriver{stepsErr: boom}, func(m *Migrator) error { return m.Down(1) }, "down"},
		{"down all", &fakeDriver{downErr: boom}, func(m *Migrator) error { return m.Down(0) }, "down"},
		{"force", &fakeDriver{forceErr: boom}, func(m *Migrator) error { return m.Force(1) }, "force"},
		{"force negative", &fakeDriver{}, func(m *Migrator) error { return m.Force(-1) }, "force"},
		{"close source", &fakeDriver{closeSourceErr: boom}, (*Migrator).Close, "close"},
		{"close database", &fakeDriver{closeDBErr: boom}, (*Migrator).Close, "close"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(&Migrator{d: tt.fake})
			errutil.AssertErrorCode(t, err, CodeMigrationFailed)
			errutil.AssertErrorContext(t, err, "operation", tt.op)
		})
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{d: &fakeDriver{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down(1))
	require.NoError(t, m.Down(0))
}

func TestMigrator_DownSteps(t *testing.T) {
	fake := &fakeDriver{}
	m := &Migrator{d: fake}

	require.NoError(t, m.Down(2))
	assert.Equal(t, []int{-2}, fake.steps)
	assert.False(t, fake.downAll)

	require.NoError(t, m.Down(-1))
	assert.True(t, fake.downAll)
}

func TestMigrator_CloseJoinsBothFailures(t *testing.T) {
	err := (&Migrator{d: &fakeDriver{
		closeSourceErr: errors.New("source gone"),
		closeDBErr:     errors.New("db gone"),
	}}).Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source gone")
	assert.Contains(t, err.Error(), "db gone")
}

func TestMigrator_Version(t *testing.T) {
	v, dirty, err := (&Migrator{d: &fakeDriver{version: 2, dirty: true}}).Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.True(t, dirty)

	v, dirty, err = (&Migrator{d: &fakeDriver{versionErr: migrate.ErrNilVersion}}).Version()
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.False(t, dirty)

	_, _, err = (&Migrator{d: &fakeDriver{versionErr: errors.New("lost")}}).Version()
	errutil.AssertErrorContext(t, err, "operation", "version")
}

func TestMigrator_Pending(t *testing.T) {
	tests := []struct {
		name    string
		fake    *fakeDriver
		pending []uint
	}{
		{"empty database", &fakeDriver{versionErr: migrate.ErrNilVersion}, []uint{1, 2}},
		{"first applied", &fakeDriver{version: 1}, []uint{2}},
		{"up to date", &fakeDriver{version: 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := (&Migrator{d: tt.fake}).Pending()
			require.NoError(t, err)
			var got []uint
			for _, mg := range pending {
				got = append(got, mg.Version)
			}
			assert.Equal(t, tt.pending, got)
		})
	}

	_, err := (&Migrator{d: &fakeDriver{versionErr: errors.New("lost")}}).Pending()
	errutil.AssertErrorCode(t, err, CodeMigrationFailed)
}
