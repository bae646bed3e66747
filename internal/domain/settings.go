package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// CategorySettings describes one category in the user's settings document.
type CategorySettings struct {
	Type          TransactionType `json:"type" bson:"type"`
	Subcategories []string        `json:"subcategories" bson:"subcategories"`
}

// AccountGroup is a user-defined grouping of accounts.
type AccountGroup struct {
	ID   string `json:"id" bson:"id"`
	Name string `json:"name" bson:"name"`
}

// UserSettings is the per-user document of known accounts and categories.
// Version increases by one on every successful save.
type UserSettings struct {
	UserID         string                      `json:"userId" bson:"user"`
	Accounts       []string                    `json:"accounts" bson:"accounts"`
	Categories     map[string]CategorySettings `json:"categories" bson:"categories"`
	AccountGroups  []AccountGroup              `json:"accountGroups" bson:"accountGroups"`
	AccountMapping map[string][]string         `json:"accountMapping" bson:"accountMapping"`
	Version        int64                       `json:"version" bson:"version"`
	UpdatedAt      time.Time                   `json:"updatedAt" bson:"updatedAt"`
}

// DefaultSettings returns the empty settings a user starts with.
func DefaultSettings(userID string) *UserSettings {
	return &UserSettings{
		UserID:         userID,
		Accounts:       []string{},
		Categories:     map[string]CategorySettings{},
		AccountGroups:  []AccountGroup{},
		AccountMapping: map[string][]string{},
	}
}

// Clone returns a deep copy.
func (s *UserSettings) Clone() *UserSettings {
	if s == nil {
		return nil
	}
	out := *s
	out.Accounts = append([]string{}, s.Accounts...)
	out.AccountGroups = append([]AccountGroup{}, s.AccountGroups...)
	out.Categories = make(map[string]CategorySettings, len(s.Categories))
	for name, c := range s.Categories {
		out.Categories[name] = CategorySettings{
			Type:          c.Type,
			Subcategories: append([]string{}, c.Subcategories...),
		}
	}
	out.AccountMapping = make(map[string][]string, len(s.AccountMapping))
	for k, v := range s.AccountMapping {
		out.AccountMapping[k] = append([]string{}, v...)
	}
	return &out
}

// ImportMode selects how an import combines with already stored data.
type ImportMode string

const (
	ModeOverride ImportMode = "override"
	ModeMerge    ImportMode = "merge"
)

// ErrInvalidMode is returned by ParseImportMode for unknown values.
var ErrInvalidMode = errors.New("invalid import mode")

// ParseImportMode defaults to override when s is empty.
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeOverride:
		return ModeOverride, nil
	case ModeMerge:
		return ModeMerge, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}
