package storage

// Table names. Tables lists them in dependency order: a table only references
// tables that appear before it.
const (
	TableSettings            = "settings"
	TableCategories          = "categories"
	TableCards               = "cards"
	TableBalanceTransactions = "balance_transactions"
	TablePurchases           = "purchases"
	TablePurchaseItems       = "purchase_items"
	TableInstallments        = "installments"
	TableVaults              = "vaults"
	TableVaultTransactions   = "vault_transactions"
)

// Tables is the allow-list used by the table-scoped Facade helpers.
var Tables = []string{
	TableSettings,
	TableCategories,
	TableCards,
	TableBalanceTransactions,
	TablePurchases,
	TablePurchaseItems,
	TableInstallments,
	TableVaults,
	TableVaultTransactions,
}

// IsKnownTable reports whether name is one of the application tables.
func IsKnownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// validateIdentifier validates that a string is a safe SQL identifier.
// Valid identifiers start with a letter or underscore and contain only
// ASCII letters, digits and underscores.
func validateIdentifier(name string) bool {
	if name == "" {
		return false
	}
	if !(name[0] >= 'a' && name[0] <= 'z' || name[0] >= 'A' && name[0] <= 'Z' || name[0] == '_') {
		return false
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return false
		}
	}
	return true
}
