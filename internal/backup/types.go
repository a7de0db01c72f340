package backup

// Settings is the user settings row.
type Settings struct {
	Currency             string  `json:"currency"`
	MonthlyIncome        float64 `json:"monthly_income"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
}

// Category groups transactions and purchases.
type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon,omitempty"`
	Color     string `json:"color,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// Card is a payment card.
type Card struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	LastDigits  string  `json:"last_digits,omitempty"`
	CreditLimit float64 `json:"credit_limit"`
	ClosingDay  *int64  `json:"closing_day"`
	DueDay      *int64  `json:"due_day"`
	Color       string  `json:"color,omitempty"`
}

// BalanceTransaction is an income or expense entry.
type BalanceTransaction struct {
	ID          int64   `json:"id"`
	Type        string  `json:"type"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description,omitempty"`
	CategoryID  *int64  `json:"category_id"`
	Date        string  `json:"date"`
}

// Purchase is a purchase, possibly split into installments.
type Purchase struct {
	ID                int64   `json:"id"`
	Description       string  `json:"description"`
	TotalAmount       float64 `json:"total_amount"`
	CategoryID        *int64  `json:"category_id"`
	CardID            *int64  `json:"card_id"`
	PaymentMethod     string  `json:"payment_method"`
	InstallmentsCount int64   `json:"installments_count"`
	Date              string  `json:"date"`
}

// PurchaseItem is a line of a purchase.
type PurchaseItem struct {
	ID         int64   `json:"id"`
	PurchaseID int64   `json:"purchase_id"`
	Name       string  `json:"name"`
	Quantity   float64 `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
}

// Installment is one scheduled payment of a purchase.
type Installment struct {
	ID         int64   `json:"id"`
	PurchaseID int64   `json:"purchase_id"`
	Number     int64   `json:"number"`
	Amount     float64 `json:"amount"`
	DueDate    string  `json:"due_date"`
	Status     string  `json:"status"`
	PaidAt     string  `json:"paid_at,omitempty"`
}

// Vault is a savings partition with its own balance.
type Vault struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Balance float64  `json:"balance"`
	Goal    *float64 `json:"goal"`
	Color   string   `json:"color,omitempty"`
}

// VaultTransaction is a deposit into or withdrawal from a vault.
type VaultTransaction struct {
	ID      int64   `json:"id"`
	VaultID int64   `json:"vault_id"`
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
	Note    string  `json:"note,omitempty"`
	Date    string  `json:"date"`
}

// Tables holds the nine collections of a backup.
type Tables struct {
	Settings            []Settings           `json:"settings"`
	Categories          []Category           `json:"categories"`
	Cards               []Card               `json:"cards"`
	BalanceTransactions []BalanceTransaction `json:"balance_transactions"`
	Purchases           []Purchase           `json:"purchases"`
	PurchaseItems       []PurchaseItem       `json:"purchase_items"`
	Installments        []Installment        `json:"installments"`
	Vaults              []Vault              `json:"vaults"`
	VaultTransactions   []VaultTransaction   `json:"vault_transactions"`
}

// Envelope is a sanitized backup.
type Envelope struct {
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
	Data      Tables `json:"data"`
}

// Records returns the number of records across all tables.
func (t *Tables) Records() int {
	return len(t.Settings) + len(t.Categories) + len(t.Cards) + len(t.BalanceTransactions) +
		len(t.Purchases) + len(t.PurchaseItems) + len(t.Installments) + len(t.Vaults) +
		len(t.VaultTransactions)
}

// normalize replaces nil collections with empty ones so they encode as [].
func (t *Tables) normalize() {
	if t.Settings == nil {
		t.Settings = []Settings{}
	}
	if t.Categories == nil {
		t.Categories = []Category{}
	}
	if t.Cards == nil {
		t.Cards = []Card{}
	}
	if t.BalanceTransactions == nil {
		t.BalanceTransactions = []BalanceTransaction{}
	}
	if t.Purchases == nil {
		t.Purchases = []Purchase{}
	}
	if t.PurchaseItems == nil {
		t.PurchaseItems = []PurchaseItem{}
	}
	if t.Installments == nil {
		t.Installments = []Installment{}
	}
	if t.Vaults == nil {
		t.Vaults = []Vault{}
	}
	if t.VaultTransactions == nil {
		t.VaultTransactions = []VaultTransaction{}
	}
}
