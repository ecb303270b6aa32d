package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectoryHandlerCreatesAllDirectories(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)

	require.NoError(t, s.Run(context.Background()))

	for _, rel := range DefaultDirectories {
		info, err := os.Stat(filepath.Join(dir, rel))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestDirectoryHandlerIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Run(context.Background()))
}

func TestDatabaseHandlerCreatesTablesGroupedByName(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	s.RegisterDatabaseHandler([]descriptor.DatabaseSchema{
		{
			DatabaseName: "framework",
			Tables: []descriptor.TableSpec{
				{Name: "scheduled_events", CreateSQL: "CREATE TABLE IF NOT EXISTS scheduled_events (id TEXT PRIMARY KEY)"},
			},
		},
		{
			DatabaseName: "framework",
			Tables: []descriptor.TableSpec{
				{Name: "executions", CreateSQL: "CREATE TABLE IF NOT EXISTS executions (id TEXT PRIMARY KEY)"},
			},
		},
	})

	require.NoError(t, s.Run(context.Background()))

	db := s.Database("framework")
	require.NotNil(t, db)

	var name string
	row := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='scheduled_events'")
	require.NoError(t, row.Scan(&name))
	assert.Equal(t, "scheduled_events", name)

	require.NoError(t, s.Close())
}

func TestBootstrapFailureWrapsHandlerName(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	s.handlers = append(s.handlers, Handler{
		Name:     "broken-handler",
		Priority: 1,
		Run:      func(ctx context.Context) error { return errors.New("boom") },
	})

	err := s.Run(context.Background())
	require.Error(t, err)
	assert.True(t, kernelerrors.Is(err, kernelerrors.CodeBootstrapFailed))
	assert.Contains(t, err.Error(), "broken-handler")
}
