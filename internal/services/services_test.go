package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"piggy/internal/credential"
	"piggy/internal/events"
	"piggy/internal/securestore"
	"piggy/internal/storage"
)

func newFacade(t *testing.T) *storage.Facade {
	t.Helper()
	f := storage.NewFacade(storage.NewManager(filepath.Join(t.TempDir(), "piggy.db")), nil)
	require.NoError(t, f.Initialize(context.Background()))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func newGuard() *credential.Guard {
	return credential.NewGuard(securestore.NewMemoryStore())
}

func backupFile(t *testing.T, data map[string]any) []byte {
	t.Helper()
	tables := make(map[string]any, len(storage.Tables))
	for _, table := range storage.Tables {
		tables[table] = []any{}
	}
	for k, v := range data {
		tables[k] = v
	}
	raw, err := json.Marshal(map[string]any{
		"version":   "1.0.0",
		"timestamp": "2024-06-01T10:00:00Z",
		"data":      tables,
	})
	require.NoError(t, err)
	return raw
}

var _ events.Publisher = (*events.Recorder)(nil)
