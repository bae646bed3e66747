package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		in     string
		want   TransactionType
		wantOK bool
	}{
		{"Income", TypeIncome, true},
		{" expense ", TypeExpense, true},
		{"TRANSFER", TypeTransfer, true},
		{"Transfer-Out", TypeTransferOut, true},
		{"refund", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseTransactionType(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransaction_KindRoundTrip(t *testing.T) {
	var tx Transaction
	tx.Type = TypeTransfer
	tx.SetKind(Transfer{FromAccount: "Bank", ToAccount: "Wallet"})

	assert.Equal(t, "Bank", tx.Account)
	assert.Equal(t, "Wallet", tx.Category)
	assert.Equal(t, "", tx.Subcategory)
	assert.Equal(t, Transfer{FromAccount: "Bank", ToAccount: "Wallet"}, tx.Kind())

	tx.Type = TypeExpense
	tx.SetKind(IncomeExpense{Account: "Cash", Category: "Food", Subcategory: "Lunch"})
	assert.Empty(t, tx.FromAccount)
	assert.Empty(t, tx.ToAccount)
	assert.Equal(t, IncomeExpense{Account: "Cash", Category: "Food", Subcategory: "Lunch"}, tx.Kind())
}

func TestTransaction_KindFallsBackToLegacyFields(t *testing.T) {
	tx := Transaction{Type: TypeTransferOut, Account: "Bank", Category: "Card"}
	assert.Equal(t, Transfer{FromAccount: "Bank", ToAccount: "Card"}, tx.Kind())
}

func TestUserSettings_CloneIsDeep(t *testing.T) {
	s := DefaultSettings("u1")
	s.Accounts = append(s.Accounts, "Cash")
	s.Categories["Food"] = CategorySettings{Type: TypeExpense, Subcategories: []string{"Lunch"}}
	s.AccountMapping["Cash"] = []string{"g1"}

	c := s.Clone()
	c.Accounts[0] = "Bank"
	c.Categories["Food"].Subcategories[0] = "Dinner"
	c.AccountMapping["Cash"][0] = "g2"

	assert.Equal(t, "Cash", s.Accounts[0])
	assert.Equal(t, "Lunch", s.Categories["Food"].Subcategories[0])
	assert.Equal(t, "g1", s.AccountMapping["Cash"][0])
}

func TestParseImportMode(t *testing.T) {
	m, err := ParseImportMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeOverride, m)

	m, err = ParseImportMode("Merge")
	require.NoError(t, err)
	assert.Equal(t, ModeMerge, m)

	_, err = ParseImportMode("append")
	assert.True(t, errors.Is(err, ErrInvalidMode))
}
