package pipeline

import (
	"testing"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/stretchr/testify/assert"
)

func expense(date, account, category string, inr float64) domain.Transaction {
	return domain.Transaction{
		ID:       date + account + category,
		Date:     date,
		Account:  account,
		Category: category,
		INR:      inr,
		Type:     domain.TypeExpense,
	}
}

func TestIsDuplicate(t *testing.T) {
	base := expense("01/01/2024", "Cash", "Food", 100)

	tests := []struct {
		name   string
		mutate func(*domain.Transaction)
		want   bool
	}{
		{"identical", func(*domain.Transaction) {}, true},
		{"different ID", func(tx *domain.Transaction) { tx.ID = "other" }, true},
		{"different description", func(tx *domain.Transaction) { tx.Description = "x" }, true},
		{"different amount text", func(tx *domain.Transaction) { tx.Amount = "999" }, true},
		{"different date", func(tx *domain.Transaction) { tx.Date = "02/01/2024" }, false},
		{"different account", func(tx *domain.Transaction) { tx.Account = "Bank" }, false},
		{"different category", func(tx *domain.Transaction) { tx.Category = "Fuel" }, false},
		{"different subcategory", func(tx *domain.Transaction) { tx.Subcategory = "Lunch" }, false},
		{"different note", func(tx *domain.Transaction) { tx.Note = "n" }, false},
		{"different INR", func(tx *domain.Transaction) { tx.INR = 100.01 }, false},
		{"different type", func(tx *domain.Transaction) { tx.Type = domain.TypeIncome }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			assert.Equal(t, tt.want, IsDuplicate(base, other))
		})
	}
}

func TestFindNew(t *testing.T) {
	existing := []domain.Transaction{
		expense("01/01/2024", "Cash", "Food", 100),
		expense("02/01/2024", "Cash", "Fuel", 50),
	}
	candidates := []domain.Transaction{
		expense("01/01/2024", "Cash", "Food", 100),
		expense("03/01/2024", "Cash", "Food", 10),
		expense("02/01/2024", "Cash", "Fuel", 50),
		expense("03/01/2024", "Cash", "Food", 10),
	}

	p := FindNew(existing, candidates)

	assert.Len(t, p.Duplicates, 2)
	assert.Len(t, p.New, 2, "candidates are not compared against each other")
	assert.Equal(t, len(candidates), len(p.New)+len(p.Duplicates))
	assert.Equal(t, "03/01/2024", p.New[0].Date)
}

func TestFindNew_EmptyExisting(t *testing.T) {
	candidates := []domain.Transaction{expense("01/01/2024", "Cash", "Food", 1)}

	p := FindNew(nil, candidates)

	assert.Equal(t, candidates, p.New)
	assert.Empty(t, p.Duplicates)
}
