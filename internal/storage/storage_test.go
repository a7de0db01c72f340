package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "piggy.db")
}

// newTestFacade returns an initialized Facade over a fresh database file.
func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	return openTestFacade(t, testDBPath(t))
}

func openTestFacade(t *testing.T, path string) *Facade {
	t.Helper()
	f := NewFacade(NewManager(path), nil)
	require.NoError(t, f.Initialize(context.Background()))
	t.Cleanup(func() { _ = f.Close() })
	return f
}
