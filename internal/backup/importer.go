package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"piggy/internal/log"
	"piggy/internal/storage"
)

// ImportResult counts what an import did per table.
type ImportResult struct {
	Inserted map[string]int
	// Skipped counts dependents whose parent was not imported.
	Skipped map[string]int
	// Detached counts records kept after clearing an optional reference.
	Detached map[string]int
	// Merged counts categories matched by name to an existing category.
	Merged int
}

func newImportResult() ImportResult {
	return ImportResult{
		Inserted: make(map[string]int),
		Skipped:  make(map[string]int),
		Detached: make(map[string]int),
	}
}

// Total returns the number of inserted rows.
func (r ImportResult) Total() int {
	n := 0
	for _, v := range r.Inserted {
		n += v
	}
	return n
}

// Importer replays sanitized backups into the database.
type Importer struct {
	facade *storage.Facade
	logger *log.Logger
	now    func() time.Time
}

// NewImporter creates an Importer writing through facade.
func NewImporter(facade *storage.Facade, logger *log.Logger) *Importer {
	if logger == nil {
		logger = log.Discard()
	}
	return &Importer{
		facade: facade,
		logger: logger.WithComponent(log.ComponentBackup),
		now:    time.Now,
	}
}

// Import writes the sanitized records of report. Reports with any error are
// refused. Every id is regenerated and foreign keys are rewritten to the new
// ids. The import is atomic: on error nothing is written.
func (im *Importer) Import(ctx context.Context, report Report) (ImportResult, error) {
	if !report.Importable() {
		return ImportResult{}, fmt.Errorf("%w: %d errors", ErrNotImportable, len(report.Errors))
	}
	return im.ImportEnvelope(ctx, report.Sanitized)
}

// ImportEnvelope writes env without checking a report.
func (im *Importer) ImportEnvelope(ctx context.Context, env *Envelope) (ImportResult, error) {
	var result ImportResult
	err := im.facade.Bulk(ctx, func(tx *storage.Tx) error {
		// Fresh state on every attempt: Bulk may run this twice.
		result = newImportResult()
		w := &writer{tx: tx, remap: NewRemapper(), result: &result, createdAt: im.now().UTC().Format(time.RFC3339)}
		return w.write(ctx, &env.Data)
	})
	if err != nil {
		return ImportResult{}, fmt.Errorf("import backup: %w", err)
	}
	return result, nil
}

type writer struct {
	tx        *storage.Tx
	remap     *Remapper
	result    *ImportResult
	createdAt string
}

func (w *writer) write(ctx context.Context, t *Tables) error {
	steps := []func(context.Context, *Tables) error{
		w.settings,
		w.categories,
		w.cards,
		w.balanceTransactions,
		w.purchases,
		w.purchaseItems,
		w.installments,
		w.vaults,
		w.vaultTransactions,
	}
	for _, step := range steps {
		if err := step(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) insert(ctx context.Context, table string, fields map[string]any) (int64, error) {
	id, err := w.tx.Insert(ctx, table, fields)
	if err != nil {
		return 0, err
	}
	w.result.Inserted[table]++
	return id, nil
}

// settings replaces the single settings row with the first imported one.
func (w *writer) settings(ctx context.Context, t *Tables) error {
	if len(t.Settings) == 0 {
		return nil
	}
	s := t.Settings[0]
	fields := map[string]any{
		"currency":              storage.Text(s.Currency),
		"monthly_income":        s.MonthlyIncome,
		"notifications_enabled": s.NotificationsEnabled,
		"updated_at":            storage.Text(w.createdAt),
	}
	err := w.tx.Update(ctx, storage.TableSettings, 1, fields)
	if errors.Is(err, storage.ErrNotFound) {
		_, err = w.insert(ctx, storage.TableSettings, fields)
		return err
	}
	if err != nil {
		return err
	}
	w.result.Inserted[storage.TableSettings]++
	return nil
}

// categories reuses existing categories with the same name.
func (w *writer) categories(ctx context.Context, t *Tables) error {
	for _, c := range t.Categories {
		row, err := w.tx.QueryOne(ctx,
			"SELECT id FROM categories WHERE LOWER(TRIM(name)) = LOWER(TRIM(?)) ORDER BY id LIMIT 1",
			storage.Text(c.Name))
		if err != nil {
			return err
		}
		if row != nil {
			w.remap.Record(KindCategory, c.ID, row["id"].(int64))
			w.result.Merged++
			continue
		}

		id, err := w.insert(ctx, storage.TableCategories, map[string]any{
			"name":       storage.Text(c.Name),
			"icon":       optionalText(c.Icon),
			"color":      optionalText(c.Color),
			"is_default": c.IsDefault,
			"created_at": storage.Text(w.createdAt),
		})
		if err != nil {
			return err
		}
		w.remap.Record(KindCategory, c.ID, id)
	}
	return nil
}

func (w *writer) cards(ctx context.Context, t *Tables) error {
	for _, c := range t.Cards {
		color := c.Color
		if color == "" {
			color = storage.DefaultCardColor
		}
		id, err := w.insert(ctx, storage.TableCards, map[string]any{
			"name":         storage.Text(c.Name),
			"last_digits":  optionalText(c.LastDigits),
			"credit_limit": c.CreditLimit,
			"closing_day":  optionalInt(c.ClosingDay),
			"due_day":      optionalInt(c.DueDay),
			"color":        storage.Text(color),
			"created_at":   storage.Text(w.createdAt),
		})
		if err != nil {
			return err
		}
		w.remap.Record(KindCard, c.ID, id)
	}
	return nil
}

func (w *writer) balanceTransactions(ctx context.Context, t *Tables) error {
	for _, tx := range t.BalanceTransactions {
		if !w.remap.RewriteOptional(KindCategory, &tx.CategoryID) {
			w.result.Detached[storage.TableBalanceTransactions]++
		}
		if _, err := w.insert(ctx, storage.TableBalanceTransactions, map[string]any{
			"type":        storage.Text(tx.Type),
			"amount":      tx.Amount,
			"description": optionalText(tx.Description),
			"category_id": optionalInt(tx.CategoryID),
			"date":        storage.Text(tx.Date),
			"created_at":  storage.Text(w.createdAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) purchases(ctx context.Context, t *Tables) error {
	for _, p := range t.Purchases {
		if p.CardID != nil {
			cardID := *p.CardID
			if !w.remap.Rewrite(KindCard, &cardID) {
				w.result.Skipped[storage.TablePurchases]++
				continue
			}
			p.CardID = &cardID
		}
		if !w.remap.RewriteOptional(KindCategory, &p.CategoryID) {
			w.result.Detached[storage.TablePurchases]++
		}
		id, err := w.insert(ctx, storage.TablePurchases, map[string]any{
			"description":        storage.Text(p.Description),
			"total_amount":       p.TotalAmount,
			"category_id":        optionalInt(p.CategoryID),
			"card_id":            optionalInt(p.CardID),
			"payment_method":     storage.Text(p.PaymentMethod),
			"installments_count": p.InstallmentsCount,
			"date":               storage.Text(p.Date),
			"created_at":         storage.Text(w.createdAt),
		})
		if err != nil {
			return err
		}
		w.remap.Record(KindPurchase, p.ID, id)
	}
	return nil
}

func (w *writer) purchaseItems(ctx context.Context, t *Tables) error {
	for _, item := range t.PurchaseItems {
		if !w.remap.Rewrite(KindPurchase, &item.PurchaseID) {
			w.result.Skipped[storage.TablePurchaseItems]++
			continue
		}
		if _, err := w.insert(ctx, storage.TablePurchaseItems, map[string]any{
			"purchase_id": item.PurchaseID,
			"name":        storage.Text(item.Name),
			"quantity":    item.Quantity,
			"unit_price":  item.UnitPrice,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) installments(ctx context.Context, t *Tables) error {
	for _, inst := range t.Installments {
		if !w.remap.Rewrite(KindPurchase, &inst.PurchaseID) {
			w.result.Skipped[storage.TableInstallments]++
			continue
		}
		if _, err := w.insert(ctx, storage.TableInstallments, map[string]any{
			"purchase_id": inst.PurchaseID,
			"number":      inst.Number,
			"amount":      inst.Amount,
			"due_date":    storage.Text(inst.DueDate),
			"status":      storage.Text(inst.Status),
			"paid_at":     optionalText(inst.PaidAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (w *writer) vaults(ctx context.Context, t *Tables) error {
	for _, v := range t.Vaults {
		var goal any
		if v.Goal != nil {
			goal = *v.Goal
		}
		id, err := w.insert(ctx, storage.TableVaults, map[string]any{
			"name":       storage.Text(v.Name),
			"balance":    v.Balance,
			"goal":       goal,
			"color":      optionalText(v.Color),
			"created_at": storage.Text(w.createdAt),
		})
		if err != nil {
			return err
		}
		w.remap.Record(KindVault, v.ID, id)
	}
	return nil
}

func (w *writer) vaultTransactions(ctx context.Context, t *Tables) error {
	for _, tx := range t.VaultTransactions {
		if !w.remap.Rewrite(KindVault, &tx.VaultID) {
			w.result.Skipped[storage.TableVaultTransactions]++
			continue
		}
		if _, err := w.insert(ctx, storage.TableVaultTransactions, map[string]any{
			"vault_id":   tx.VaultID,
			"type":       storage.Text(tx.Type),
			"amount":     tx.Amount,
			"note":       optionalText(tx.Note),
			"date":       storage.Text(tx.Date),
			"created_at": storage.Text(w.createdAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

// optionalText binds "" as NULL.
func optionalText(s string) any {
	if s == "" {
		return nil
	}
	return storage.Text(s)
}

func optionalInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
