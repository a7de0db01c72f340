package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piggy/internal/backup"
	"piggy/internal/events"
	"piggy/internal/storage"
)

func TestBackupImport(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	rec := &events.Recorder{}
	svc := NewBackupService(f, rec, nil)

	data := backupFile(t, map[string]any{
		storage.TableVaults: []any{map[string]any{"id": 4, "name": "Trip", "balance": 20}},
		storage.TableVaultTransactions: []any{
			map[string]any{"id": 1, "vault_id": 4, "type": "deposit", "amount": 20, "date": "2024-05-05"},
		},
	})

	outcome, err := svc.Import(ctx, data)
	require.NoError(t, err)
	_, err = uuid.Parse(outcome.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Result.Total())

	require.Equal(t, []string{events.TypeBackupImported}, rec.Types())
	assert.Equal(t, outcome.BatchID, rec.Events()[0].Payload["batch_id"])

	rows, err := f.QueryMany(ctx, "SELECT t.amount FROM vault_transactions t JOIN vaults v ON v.id = t.vault_id WHERE v.name = 'Trip'")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestBackupImportRejectsInvalidRecords(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	rec := &events.Recorder{}
	svc := NewBackupService(f, rec, nil)

	data := backupFile(t, map[string]any{
		storage.TableVaults: []any{
			map[string]any{"id": 1, "name": "Good"},
			map[string]any{"id": 2, "name": "Bad", "balance": -3},
		},
	})

	outcome, err := svc.Import(ctx, data)
	require.ErrorIs(t, err, backup.ErrNotImportable)
	require.Len(t, outcome.Report.Errors, 1)
	assert.Contains(t, outcome.Report.Errors[0], "vaults[1]")
	assert.Empty(t, rec.Types())

	rows, err := f.QueryMany(ctx, "SELECT id FROM vaults")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestBackupValidate(t *testing.T) {
	ctx := context.Background()
	svc := NewBackupService(newFacade(t), nil, nil)

	_, err := svc.Validate(ctx, []byte("not json"))
	assert.ErrorIs(t, err, backup.ErrMalformed)

	report, err := svc.Validate(ctx, []byte(`{"data":{"settings":[]}}`))
	assert.ErrorIs(t, err, backup.ErrStructure)
	assert.Nil(t, report.Sanitized)
	assert.NotEmpty(t, report.Errors)

	report, err = svc.Validate(ctx, backupFile(t, nil))
	require.NoError(t, err)
	assert.True(t, report.Importable())
}

func TestBackupExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := newFacade(t)
	rec := &events.Recorder{}
	_, err := src.Insert(ctx, storage.TableVaults, map[string]any{"name": storage.Text("Car"), "balance": 300.0})
	require.NoError(t, err)

	data, err := NewBackupService(src, rec, nil).Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{events.TypeBackupExported}, rec.Types())

	dst := newFacade(t)
	_, err = NewBackupService(dst, nil, nil).Import(ctx, data)
	require.NoError(t, err)

	row, err := dst.QueryOne(ctx, "SELECT balance FROM vaults WHERE name = 'Car'")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, 300.0, row["balance"])
}

func TestBackupImportPartial(t *testing.T) {
	ctx := context.Background()
	f := newFacade(t)
	rec := &events.Recorder{}
	svc := NewBackupService(f, rec, nil)

	data := backupFile(t, map[string]any{
		storage.TableVaults: []any{
			map[string]any{"id": 1, "name": "Good"},
			map[string]any{"id": 2, "name": "Bad", "balance": -3},
		},
	})

	outcome, err := svc.ImportPartial(ctx, data)
	require.NoError(t, err)
	assert.True(t, outcome.Partial)
	assert.Len(t, outcome.Report.Errors, 1)
	assert.Equal(t, 1, outcome.Result.Inserted[storage.TableVaults])

	require.Len(t, rec.Events(), 1)
	assert.Equal(t, true, rec.Events()[0].Payload["partial"])

	_, err = svc.ImportPartial(ctx, []byte(`{"data":{}}`))
	assert.ErrorIs(t, err, backup.ErrStructure)
}
