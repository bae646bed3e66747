package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/expense-tracker/internal/domain"
	"github.com/dvloznov/expense-tracker/internal/logger"
	"github.com/dvloznov/expense-tracker/internal/store"
	"github.com/google/uuid"
)

// PipelineStep represents a single step of an import.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Request       ImportRequest
	Rows          []Row
	Accepted      []domain.Transaction
	Rejections    []Rejection
	Partition     *Partition
	ReassignedIDs int
	Settings      *domain.UserSettings
	ArchiveURI    string
	Result        *ImportResult
}

// Step 1: ArchiveUploadStep keeps a copy of the raw file. Failures are logged
// and do not stop the import.
type ArchiveUploadStep struct {
	Archiver Archiver
}

func (s *ArchiveUploadStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Archiver == nil {
		return nil
	}
	log := logger.FromContext(ctx)

	uri, err := s.Archiver.Archive(ctx, state.Request.UserID, state.Request.Filename, state.Request.Data)
	if err != nil {
		log.Warn().Err(err).Str("filename", state.Request.Filename).Msg("Failed to archive import file")
		return nil
	}
	state.ArchiveURI = uri
	log.Debug().Str("archive_uri", uri).Msg("Archived import file")
	return nil
}

// Step 2: ParseFileStep turns the uploaded bytes into rows.
type ParseFileStep struct {
	Registry     *Registry
	MaxFileBytes int64
}

func (s *ParseFileStep) Execute(ctx context.Context, state *PipelineState) error {
	rows, err := s.Registry.ParseFile(state.Request.Filename, state.Request.Data, s.MaxFileBytes)
	if err != nil {
		return err
	}
	state.Rows = rows
	log := logger.FromContext(ctx)
	log.Debug().Int("rows", len(rows)).Msg("Parsed import file")
	return nil
}

// Step 3: TransformRowsStep validates rows and maps them to transactions.
type TransformRowsStep struct {
	Now   func() time.Time
	NewID IDFunc
}

func (s *TransformRowsStep) Execute(ctx context.Context, state *PipelineState) error {
	t := NewRowTransformer(state.Request.UserID, s.Now())
	if s.NewID != nil {
		t.NewID = s.NewID
	}
	state.Accepted, state.Rejections = t.TransformAll(state.Rows)

	log := logger.FromContext(ctx)
	for _, r := range state.Rejections {
		log.Debug().Int("row", r.Row).Str("reason", string(r.Reason)).Str("detail", r.Detail).Msg("Rejected row")
	}
	if len(state.Rejections) > 0 {
		log.Info().
			Int("accepted", len(state.Accepted)).
			Int("rejected", len(state.Rejections)).
			Msg("Some rows were rejected")
	}
	return nil
}

// Step 4: WriteTransactionsStep persists accepted transactions according to
// the import mode.
type WriteTransactionsStep struct {
	Store    store.TransactionStore
	UniqueID func() string
}

func (s *WriteTransactionsStep) Execute(ctx context.Context, state *PipelineState) error {
	// Once writing starts the import runs to completion.
	ctx = context.WithoutCancel(ctx)
	userID := state.Request.UserID

	if state.Request.Mode == domain.ModeMerge {
		existing, err := s.Store.ListUserTransactions(ctx, userID)
		if err != nil {
			return fmt.Errorf("WriteTransactions: listing existing transactions: %w", err)
		}
		p := FindNew(existing, state.Accepted)
		state.ReassignedIDs = ensureUniqueIDs(p.New, idSet(existing), s.uniqueID())
		state.Partition = &p

		if len(p.New) == 0 {
			return nil
		}
		if err := s.Store.InsertTransactions(ctx, userID, p.New); err != nil {
			return fmt.Errorf("WriteTransactions: inserting %d new transactions: %w", len(p.New), err)
		}
		return nil
	}

	state.ReassignedIDs = ensureUniqueIDs(state.Accepted, map[string]struct{}{}, s.uniqueID())
	if err := s.Store.ReplaceUserTransactions(ctx, userID, state.Accepted); err != nil {
		return fmt.Errorf("WriteTransactions: replacing transactions: %w", err)
	}
	return nil
}

func (s *WriteTransactionsStep) uniqueID() func() string {
	if s.UniqueID != nil {
		return s.UniqueID
	}
	return uuid.NewString
}

// Step 5: ReconcileSettingsStep folds accounts and categories into the
// user's settings, retrying on concurrent modification.
type ReconcileSettingsStep struct {
	Store      store.SettingsStore
	MaxRetries int
}

func (s *ReconcileSettingsStep) Execute(ctx context.Context, state *PipelineState) error {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)
	userID := state.Request.UserID

	for attempt := 0; ; attempt++ {
		current, err := s.Store.GetSettings(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("ReconcileSettings: loading settings: %w", err)
		}

		next := Reconcile(current, state.Accepted, state.Request.Mode, userID)
		err = s.Store.SaveSettings(ctx, next)
		if err == nil {
			state.Settings = next
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || attempt >= s.MaxRetries {
			return fmt.Errorf("ReconcileSettings: saving settings: %w", err)
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("Settings changed concurrently, retrying")
	}
}

// Step 6: ReportStep summarises the import.
type ReportStep struct{}

func (s *ReportStep) Execute(ctx context.Context, state *PipelineState) error {
	r := &ImportResult{
		Mode:          state.Request.Mode,
		Rows:          len(state.Rows),
		Total:         len(state.Accepted),
		Rejected:      len(state.Rejections),
		ReassignedIDs: state.ReassignedIDs,
		Rejections:    state.Rejections,
		ArchiveURI:    state.ArchiveURI,
	}
	if state.Partition != nil {
		newCount := len(state.Partition.New)
		dupCount := len(state.Partition.Duplicates)
		r.New = &newCount
		r.Duplicates = &dupCount
	}
	state.Result = r
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

// ensureUniqueIDs gives a fresh ID to every transaction whose ID is already
// in taken or repeats an earlier one in txs. It returns how many were changed.
func ensureUniqueIDs(txs []domain.Transaction, taken map[string]struct{}, newID func() string) int {
	changed := 0
	for i := range txs {
		if _, dup := taken[txs[i].ID]; dup {
			txs[i].ID = newID()
			changed++
		}
		taken[txs[i].ID] = struct{}{}
	}
	return changed
}

func idSet(txs []domain.Transaction) map[string]struct{} {
	ids := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		ids[tx.ID] = struct{}{}
	}
	return ids
}
