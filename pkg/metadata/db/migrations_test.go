// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"errors"
	"testing"

	"github.com/LeeDigitalWorks/tams/pkg/metadata/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	for _, dialect := range []string{"postgres", "mysql"} {
		migrations, err := db.LoadMigrations(dialect)
		require.NoError(t, err, dialect)
		require.Len(t, migrations, 4, dialect)

		for i, m := range migrations {
			assert.Equal(t, i+1, m.Version)
			assert.NotEmpty(t, m.SQL)
		}
		assert.Equal(t, "create_segments", migrations[0].Name)
		assert.Contains(t, migrations[0].SQL, "segments_object_idx")
		assert.Equal(t, "create_tasks", migrations[3].Name)
	}

	_, err := db.LoadMigrations("oracle")
	assert.Error(t, err)
}

type fakeMigrator struct {
	version int
	applied []int
	failAt  int
}

func (f *fakeMigrator) CurrentVersion(ctx context.Context) (int, error) { return f.version, nil }

func (f *fakeMigrator) Apply(ctx context.Context, m db.Migration) error {
	if m.Version == f.failAt {
		return errors.New("boom")
	}
	f.applied = append(f.applied, m.Version)
	return nil
}

func (f *fakeMigrator) SetVersion(ctx context.Context, version int) error {
	f.version = version
	return nil
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	m := &fakeMigrator{version: 2}
	require.NoError(t, db.RunMigrations(ctx, m, "postgres"))
	assert.Equal(t, []int{3, 4}, m.applied)
	assert.Equal(t, 4, m.version)

	require.NoError(t, db.RunMigrations(ctx, m, "postgres"))
	assert.Equal(t, []int{3, 4}, m.applied, "already applied migrations are skipped")

	failing := &fakeMigrator{failAt: 2}
	err := db.RunMigrations(ctx, failing, "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply migration 2")
	assert.Equal(t, 1, failing.version)
}
