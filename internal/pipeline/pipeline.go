package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/store"
)

// DefaultSettingsRetries bounds how often a settings save is retried after a
// version conflict.
const DefaultSettingsRetries = 3

// Archiver keeps a copy of an uploaded import file and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, userID, filename string, data []byte) (string, error)
}

// ImportRequest is one file to import for one user.
type ImportRequest struct {
	UserID   string
	Filename string
	Data     []byte
	Mode     domain.ImportMode
}

// ImportResult reports the outcome of a successful import. New and
// Duplicates are only set in merge mode.
type ImportResult struct {
	Mode          domain.ImportMode `json:"-"`
	Rows          int               `json:"rows"`
	Total         int               `json:"total"`
	New           *int              `json:"new,omitempty"`
	Duplicates    *int              `json:"duplicates,omitempty"`
	Rejected      int               `json:"rejected"`
	ReassignedIDs int               `json:"reassignedIds,omitempty"`
	Rejections    []Rejection       `json:"rejections,omitempty"`
	ArchiveURI    string            `json:"archiveUri,omitempty"`
}

// Message is a human readable summary of r.
func (r *ImportResult) Message() string {
	var msg string
	if r.New != nil && r.Duplicates != nil {
		msg = fmt.Sprintf("Imported %d new transactions (%d duplicates skipped)", *r.New, *r.Duplicates)
	} else {
		msg = fmt.Sprintf("Successfully imported %d transactions", r.Total)
	}
	if r.Rejected > 0 {
		msg += fmt.Sprintf(", %d rows rejected", r.Rejected)
	}
	return msg
}

// Importer runs file imports against a transaction store and a settings store.
type Importer struct {
	transactions    store.TransactionStore
	settings        store.SettingsStore
	registry        *Registry
	archiver        Archiver
	maxFileBytes    int64
	settingsRetries int
	now             func() time.Time
	newID           IDFunc
	locks           userLocks
}

// Option configures an Importer.
type Option func(*Importer)

// WithArchiver archives every uploaded file before it is parsed.
func WithArchiver(a Archiver) Option {
	return func(i *Importer) { i.archiver = a }
}

// WithRegistry replaces the default parser registry.
func WithRegistry(r *Registry) Option {
	return func(i *Importer) { i.registry = r }
}

// WithMaxFileBytes sets the upload size limit; zero or less disables it.
func WithMaxFileBytes(n int64) Option {
	return func(i *Importer) { i.maxFileBytes = n }
}

// WithSettingsRetries sets how many times a conflicting settings save is retried.
func WithSettingsRetries(n int) Option {
	return func(i *Importer) { i.settingsRetries = n }
}

// WithClock sets the batch timestamp source.
func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

// WithIDFunc sets how IDs are derived for rows that have none.
func WithIDFunc(f IDFunc) Option {
	return func(i *Importer) { i.newID = f }
}

// NewImporter creates an Importer with the default parsers and limits.
func NewImporter(transactions store.TransactionStore, settings store.SettingsStore, opts ...Option) *Importer {
	i := &Importer{
		transactions:    transactions,
		settings:        settings,
		registry:        DefaultRegistry(),
		maxFileBytes:    DefaultMaxFileBytes,
		settingsRetries: DefaultSettingsRetries,
		now:             time.Now,
		newID:           DeriveID,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Supports reports whether filename has an importable extension.
func (i *Importer) Supports(filename string) bool {
	return i.registry.Supports(filename)
}

// MaxFileBytes is the largest upload Import accepts.
func (i *Importer) MaxFileBytes() int64 {
	return i.maxFileBytes
}

// Import parses, transforms and stores one file, then reconciles the user's
// settings. Imports for the same user are serialized within this process.
func (i *Importer) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("Import: user ID is required")
	}
	if req.Mode == "" {
		req.Mode = domain.ModeOverride
	}

	log := logger.WithFields(logger.FromContext(ctx), map[string]interface{}{
		"user_id":  req.UserID,
		"filename": req.Filename,
		"mode":     string(req.Mode),
	})
	ctx = logger.WithContext(ctx, log)

	unlock := i.locks.lock(req.UserID)
	defer unlock()

	log.Info().Int("bytes", len(req.Data)).Msg("Starting import")

	state := &PipelineState{Request: req}
	p := NewPipeline(
		&ArchiveUploadStep{Archiver: i.archiver},
		&ParseFileStep{Registry: i.registry, MaxFileBytes: i.maxFileBytes},
		&TransformRowsStep{Now: i.now, NewID: i.newID},
		&WriteTransactionsStep{Store: i.transactions},
		&ReconcileSettingsStep{Store: i.settings, MaxRetries: i.settingsRetries},
		&ReportStep{},
	)
	if err := p.Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Import failed")
		return nil, fmt.Errorf("Import: %w", err)
	}

	r := state.Result
	ev := log.Info().Int("total", r.Total).Int("rejected", r.Rejected)
	if r.New != nil {
		ev = ev.Int("new", *r.New).Int("duplicates", *r.Duplicates)
	}
	ev.Msg("Import completed")
	return r, nil
}

// CountTransactions returns how many transactions userID has stored.
func (i *Importer) CountTransactions(ctx context.Context, userID string) (int64, error) {
	n, err := i.transactions.CountUserTransactions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("CountTransactions: %w", err)
	}
	return n, nil
}

// Settings returns userID's settings, creating the defaults on first access.
func (i *Importer) Settings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	s, err := i.settings.GetSettings(ctx, userID)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("Settings: %w", err)
	}

	s = domain.DefaultSettings(userID)
	err = i.settings.SaveSettings(ctx, s)
	switch {
	case err == nil:
		return s, nil
	case errors.Is(err, store.ErrVersionConflict):
		// Created concurrently; read the winner.
		s, err = i.settings.GetSettings(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("Settings: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("Settings: creating defaults: %w", err)
	}
}

// ResetUserData deletes all of userID's transactions and resets the settings
// to the empty defaults. It returns the number of deleted transactions.
func (i *Importer) ResetUserData(ctx context.Context, userID string) (int64, error) {
	unlock := i.locks.lock(userID)
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	deleted, err := i.transactions.DeleteUserTransactions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ResetUserData: deleting transactions: %w", err)
	}

	for attempt := 0; ; attempt++ {
		var version int64
		current, err := i.settings.GetSettings(ctx, userID)
		switch {
		case err == nil:
			version = current.Version
		case !errors.Is(err, store.ErrNotFound):
			return deleted, fmt.Errorf("ResetUserData: loading settings: %w", err)
		}

		fresh := domain.DefaultSettings(userID)
		fresh.Version = version
		err = i.settings.SaveSettings(ctx, fresh)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= i.settingsRetries {
			return deleted, fmt.Errorf("ResetUserData: saving settings: %w", err)
		}
	}

	log := logger.FromContext(ctx)
	log.Info().Str("user_id", userID).Int64("deleted", deleted).Msg("Reset user data")
	return deleted, nil
}

// userLocks hands out one mutex per user and forgets it when unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}
