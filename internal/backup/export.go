package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"piggy/internal/log"
	"piggy/internal/storage"
)

// Exporter reads the database into an Envelope.
type Exporter struct {
	facade *storage.Facade
	logger *log.Logger
	now    func() time.Time
}

// NewExporter creates an Exporter reading through facade.
func NewExporter(facade *storage.Facade, logger *log.Logger) *Exporter {
	if logger == nil {
		logger = log.Discard()
	}
	return &Exporter{
		facade: facade,
		logger: logger.WithComponent(log.ComponentBackup),
		now:    time.Now,
	}
}

// Export returns every table as typed records. Rows that would not pass import
// validation are left out and logged, so an export can always be imported.
func (e *Exporter) Export(ctx context.Context) (*Envelope, error) {
	env := &Envelope{
		Version:   FormatVersion,
		Timestamp: e.now().UTC().Format(time.RFC3339),
	}

	var err error
	if env.Data.Settings, err = exportTable(ctx, e, storage.TableSettings, sanitizeSettings); err != nil {
		return nil, err
	}
	if env.Data.Categories, err = exportTable(ctx, e, storage.TableCategories, sanitizeCategory); err != nil {
		return nil, err
	}
	if env.Data.Cards, err = exportTable(ctx, e, storage.TableCards, sanitizeCard); err != nil {
		return nil, err
	}
	if env.Data.BalanceTransactions, err = exportTable(ctx, e, storage.TableBalanceTransactions, sanitizeBalanceTransaction); err != nil {
		return nil, err
	}
	if env.Data.Purchases, err = exportTable(ctx, e, storage.TablePurchases, sanitizePurchase); err != nil {
		return nil, err
	}
	if env.Data.PurchaseItems, err = exportTable(ctx, e, storage.TablePurchaseItems, sanitizePurchaseItem); err != nil {
		return nil, err
	}
	if env.Data.Installments, err = exportTable(ctx, e, storage.TableInstallments, sanitizeInstallment); err != nil {
		return nil, err
	}
	if env.Data.Vaults, err = exportTable(ctx, e, storage.TableVaults, sanitizeVault); err != nil {
		return nil, err
	}
	if env.Data.VaultTransactions, err = exportTable(ctx, e, storage.TableVaultTransactions, sanitizeVaultTransaction); err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Backup exported", log.FieldRecordCount, env.Data.Records())
	return env, nil
}

func exportTable[T any](ctx context.Context, e *Exporter, table string, fn func(record) (T, error)) ([]T, error) {
	// Table names come from the fixed list in storage, never from input.
	rows, err := e.facade.QueryMany(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY id", table))
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", table, err)
	}

	out := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := fn(record(row))
		if err != nil {
			e.logger.WarnContext(ctx, "Skipping row that fails validation",
				log.FieldTable, table,
				log.FieldRowID, row["id"],
				log.FieldError, err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Encode writes env in the backup wire format.
func Encode(env *Envelope) ([]byte, error) {
	out := *env
	out.Data.normalize()
	if out.Version == "" {
		out.Version = FormatVersion
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	return data, nil
}
