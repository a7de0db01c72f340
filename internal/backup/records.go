package backup

import (
	"errors"
	"regexp"
	"strings"

	"piggy/internal/sanitize"
)

const (
	maxInstallments = 360
	maxQuantity     = 1_000_000
)

var (
	currencyPattern   = regexp.MustCompile(`^[A-Z]{3}$`)
	lastDigitsPattern = regexp.MustCompile(`^\d{1,4}$`)
)

// collector gathers field errors so that one bad record reports every
// problem at once.
type collector struct {
	errs []error
}

func (c *collector) add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *collector) int(v int64, err error) int64 { c.add(err); return v }
func (c *collector) intPtr(v *int64, err error) *int64 { c.add(err); return v }
func (c *collector) float(v float64, err error) float64 { c.add(err); return v }
func (c *collector) floatPtr(v *float64, err error) *float64 { c.add(err); return v }
func (c *collector) str(v string, err error) string { c.add(err); return v }
func (c *collector) bool(v bool, err error) bool { c.add(err); return v }

func (c *collector) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	reasons := make([]string, len(c.errs))
	for i, err := range c.errs {
		reasons[i] = err.Error()
	}
	return errors.New(strings.Join(reasons, "; "))
}

func sanitizeSettings(r record) (Settings, error) {
	var c collector
	currency := strings.ToUpper(c.str(r.text("currency", sanitize.ShortLength, false)))
	if currency == "" {
		currency = "EUR"
	} else if !currencyPattern.MatchString(currency) {
		c.add(fieldErr("currency", "must be a 3-letter code, got %q", currency))
	}
	s := Settings{
		Currency:             currency,
		MonthlyIncome:        c.float(r.amount("monthly_income", false, 0)),
		NotificationsEnabled: c.bool(r.boolean("notifications_enabled", true)),
	}
	return s, c.err()
}

func sanitizeCategory(r record) (Category, error) {
	var c collector
	cat := Category{
		ID:        c.int(r.id()),
		Name:      c.str(r.text("name", sanitize.NameLength, true)),
		Icon:      c.str(r.text("icon", sanitize.ShortLength, false)),
		Color:     c.str(r.text("color", sanitize.ShortLength, false)),
		IsDefault: c.bool(r.boolean("is_default", false)),
	}
	return cat, c.err()
}

func sanitizeCard(r record) (Card, error) {
	var c collector
	card := Card{
		ID:          c.int(r.id()),
		Name:        c.str(r.text("name", sanitize.NameLength, true)),
		LastDigits:  c.str(r.matching("last_digits", lastDigitsPattern, "")),
		CreditLimit: c.float(r.amount("credit_limit", false, 0)),
		ClosingDay:  c.intPtr(r.optionalInteger("closing_day", 1, 31)),
		DueDay:      c.intPtr(r.optionalInteger("due_day", 1, 31)),
		Color:       c.str(r.text("color", sanitize.ShortLength, false)),
	}
	return card, c.err()
}

func sanitizeBalanceTransaction(r record) (BalanceTransaction, error) {
	var c collector
	tx := BalanceTransaction{
		ID:          c.int(r.id()),
		Type:        c.str(r.oneOf("type", "", "income", "expense")),
		Amount:      c.float(r.amount("amount", true, 0)),
		Description: c.str(r.text("description", sanitize.TextLength, false)),
		CategoryID:  c.intPtr(r.optionalRef("category_id")),
		Date:        c.str(r.date("date", true)),
	}
	return tx, c.err()
}

func sanitizePurchase(r record) (Purchase, error) {
	var c collector
	p := Purchase{
		ID:                c.int(r.id()),
		Description:       c.str(r.text("description", sanitize.TextLength, true)),
		TotalAmount:       c.float(r.amount("total_amount", true, 0)),
		CategoryID:        c.intPtr(r.optionalRef("category_id")),
		CardID:            c.intPtr(r.optionalRef("card_id")),
		PaymentMethod:     c.str(r.oneOf("payment_method", "cash", "cash", "debit", "credit", "transfer")),
		InstallmentsCount: c.int(r.integer("installments_count", 1, maxInstallments, false, 1)),
		Date:              c.str(r.date("date", true)),
	}
	return p, c.err()
}

func sanitizePurchaseItem(r record) (PurchaseItem, error) {
	var c collector
	item := PurchaseItem{
		ID:         c.int(r.id()),
		PurchaseID: c.int(r.requiredRef("purchase_id")),
		Name:       c.str(r.text("name", sanitize.NameLength, true)),
		Quantity:   c.float(r.number("quantity", 0, maxQuantity, 1)),
		UnitPrice:  c.float(r.amount("unit_price", false, 0)),
	}
	return item, c.err()
}

func sanitizeInstallment(r record) (Installment, error) {
	var c collector
	inst := Installment{
		ID:         c.int(r.id()),
		PurchaseID: c.int(r.requiredRef("purchase_id")),
		Number:     c.int(r.integer("number", 1, maxInstallments, true, 0)),
		Amount:     c.float(r.amount("amount", true, 0)),
		DueDate:    c.str(r.date("due_date", true)),
		Status:     c.str(r.oneOf("status", "pending", "pending", "paid")),
		PaidAt:     c.str(r.date("paid_at", false)),
	}
	return inst, c.err()
}

func sanitizeVault(r record) (Vault, error) {
	var c collector
	v := Vault{
		ID:      c.int(r.id()),
		Name:    c.str(r.text("name", sanitize.NameLength, true)),
		Balance: c.float(r.amount("balance", false, 0)),
		Goal:    c.floatPtr(r.optionalAmount("goal")),
		Color:   c.str(r.text("color", sanitize.ShortLength, false)),
	}
	return v, c.err()
}

func sanitizeVaultTransaction(r record) (VaultTransaction, error) {
	var c collector
	tx := VaultTransaction{
		ID:      c.int(r.id()),
		VaultID: c.int(r.requiredRef("vault_id")),
		Type:    c.str(r.oneOf("type", "", "deposit", "withdraw")),
		Amount:  c.float(r.amount("amount", true, 0)),
		Note:    c.str(r.text("note", sanitize.TextLength, false)),
		Date:    c.str(r.date("date", true)),
	}
	return tx, c.err()
}
