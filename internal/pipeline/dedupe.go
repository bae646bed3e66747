package pipeline

import (
	"github.com/dvloznov/expense-tracker/internal/domain"
)

// Fingerprint is the content used to decide that two transactions are the
// same. ID, Description and Amount are deliberately not part of it.
type Fingerprint struct {
	Date        string
	Account     string
	Category    string
	Subcategory string
	Note        string
	INR         float64
	Type        domain.TransactionType
}

// FingerprintOf extracts the comparison key of tx.
func FingerprintOf(tx domain.Transaction) Fingerprint {
	return Fingerprint{
		Date:        tx.Date,
		Account:     tx.Account,
		Category:    tx.Category,
		Subcategory: tx.Subcategory,
		Note:        tx.Note,
		INR:         tx.INR,
		Type:        tx.Type,
	}
}

// IsDuplicate reports whether a and b have identical fingerprints.
func IsDuplicate(a, b domain.Transaction) bool {
	return FingerprintOf(a) == FingerprintOf(b)
}

// Partition splits import candidates against stored transactions.
type Partition struct {
	New        []domain.Transaction
	Duplicates []domain.Transaction
}

// FindNew puts every candidate in exactly one side of the partition,
// preserving candidate order. Candidates are compared only against existing,
// not against each other.
func FindNew(existing, candidates []domain.Transaction) Partition {
	seen := make(map[Fingerprint]struct{}, len(existing))
	for _, tx := range existing {
		seen[FingerprintOf(tx)] = struct{}{}
	}

	p := Partition{
		New:        make([]domain.Transaction, 0, len(candidates)),
		Duplicates: make([]domain.Transaction, 0),
	}
	for _, c := range candidates {
		if _, dup := seen[FingerprintOf(c)]; dup {
			p.Duplicates = append(p.Duplicates, c)
			continue
		}
		p.New = append(p.New, c)
	}
	return p
}
