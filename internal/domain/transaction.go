package domain

import (
	"strings"
)

// TransactionType is the value of the "Income/Expense" column.
type TransactionType string

const (
	TypeIncome      TransactionType = "Income"
	TypeExpense     TransactionType = "Expense"
	TypeTransfer    TransactionType = "Transfer"
	TypeTransferOut TransactionType = "Transfer-Out"
)

// ParseTransactionType maps raw column text to a known type, ignoring case
// and surrounding whitespace.
func ParseTransactionType(s string) (TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "income":
		return TypeIncome, true
	case "expense":
		return TypeExpense, true
	case "transfer":
		return TypeTransfer, true
	case "transfer-out":
		return TypeTransferOut, true
	}
	return "", false
}

// IsTransfer reports whether money moves between two of the user's accounts.
func (t TransactionType) IsTransfer() bool {
	return t == TypeTransfer || t == TypeTransferOut
}

// Transaction is the flat record persisted per user. Transfers reuse Account
// and Category for the source and destination accounts; use Kind to read the
// structured form.
type Transaction struct {
	UserID      string          `json:"user" bson:"user"`
	ID          string          `json:"ID" bson:"ID"`
	Date        string          `json:"Date" bson:"Date"`
	Time        string          `json:"Time,omitempty" bson:"Time,omitempty"`
	Account     string          `json:"Account" bson:"Account"`
	FromAccount string          `json:"FromAccount,omitempty" bson:"FromAccount,omitempty"`
	ToAccount   string          `json:"ToAccount,omitempty" bson:"ToAccount,omitempty"`
	Category    string          `json:"Category" bson:"Category"`
	Subcategory string          `json:"Subcategory" bson:"Subcategory"`
	Note        string          `json:"Note" bson:"Note"`
	Description string          `json:"Description" bson:"Description"`
	INR         float64         `json:"INR" bson:"INR"`
	Amount      string          `json:"Amount" bson:"Amount"`
	Type        TransactionType `json:"Income/Expense" bson:"Income/Expense"`
	Currency    string          `json:"Currency" bson:"Currency"`
}

// Kind is either IncomeExpense or Transfer.
type Kind interface {
	isKind()
}

// IncomeExpense moves money into or out of a single account under a category.
type IncomeExpense struct {
	Account     string
	Category    string
	Subcategory string
}

// Transfer moves money between two of the user's accounts.
type Transfer struct {
	FromAccount string
	ToAccount   string
}

func (IncomeExpense) isKind() {}
func (Transfer) isKind()      {}

// Kind returns the structured view of the flat record.
func (t Transaction) Kind() Kind {
	if t.Type.IsTransfer() {
		from, to := t.FromAccount, t.ToAccount
		if from == "" {
			from = t.Account
		}
		if to == "" {
			to = t.Category
		}
		return Transfer{FromAccount: from, ToAccount: to}
	}
	return IncomeExpense{Account: t.Account, Category: t.Category, Subcategory: t.Subcategory}
}

// SetKind writes k into the legacy flat fields. For transfers Account holds
// the source account and Category holds the destination account.
func (t *Transaction) SetKind(k Kind) {
	switch v := k.(type) {
	case Transfer:
		t.FromAccount = v.FromAccount
		t.ToAccount = v.ToAccount
		t.Account = v.FromAccount
		t.Category = v.ToAccount
		t.Subcategory = ""
	case IncomeExpense:
		t.FromAccount = ""
		t.ToAccount = ""
		t.Account = v.Account
		t.Category = v.Category
		t.Subcategory = v.Subcategory
	}
}
