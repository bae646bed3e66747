package pipeline

import (
	"slices"

	"github.com/dvloznov/expense-tracker/internal/domain"
)

// ExtractAccounts lists every account named by txs in first-seen order,
// including both ends of transfers.
func ExtractAccounts(txs []domain.Transaction) []string {
	accounts := []string{}
	for _, tx := range txs {
		for _, name := range []string{tx.Account, tx.FromAccount, tx.ToAccount} {
			if name != "" && !slices.Contains(accounts, name) {
				accounts = append(accounts, name)
			}
		}
	}
	return accounts
}

// ExtractCategories collects categories from income and expense rows.
// A category takes the type of the first row that names it. Transfers
// contribute nothing because their Category holds an account.
func ExtractCategories(txs []domain.Transaction) map[string]domain.CategorySettings {
	categories := map[string]domain.CategorySettings{}
	for _, tx := range txs {
		if tx.Type.IsTransfer() || tx.Category == "" {
			continue
		}
		c, ok := categories[tx.Category]
		if !ok {
			c = domain.CategorySettings{Type: tx.Type, Subcategories: []string{}}
		}
		if tx.Subcategory != "" && !slices.Contains(c.Subcategories, tx.Subcategory) {
			c.Subcategories = append(c.Subcategories, tx.Subcategory)
		}
		categories[tx.Category] = c
	}
	return categories
}

// Reconcile returns the settings that result from importing txs with mode.
// current is not modified; nil means the user has no settings yet. Override
// replaces accounts and categories, merge only adds to them. Account groups
// and mappings are carried over in both modes.
func Reconcile(current *domain.UserSettings, txs []domain.Transaction, mode domain.ImportMode, userID string) *domain.UserSettings {
	out := current.Clone()
	if out == nil {
		out = domain.DefaultSettings(userID)
	}

	accounts := ExtractAccounts(txs)
	categories := ExtractCategories(txs)

	if mode == domain.ModeOverride {
		out.Accounts = accounts
		out.Categories = categories
		return out
	}

	for _, a := range accounts {
		if !slices.Contains(out.Accounts, a) {
			out.Accounts = append(out.Accounts, a)
		}
	}
	if out.Categories == nil {
		out.Categories = map[string]domain.CategorySettings{}
	}
	for name, incoming := range categories {
		existing, ok := out.Categories[name]
		if !ok {
			out.Categories[name] = incoming
			continue
		}
		for _, sub := range incoming.Subcategories {
			if !slices.Contains(existing.Subcategories, sub) {
				existing.Subcategories = append(existing.Subcategories, sub)
			}
		}
		out.Categories[name] = existing
	}
	return out
}
