// Package pipeline orchestrates one batch pass: staging, resolution and
// assembly per source file (each in its own transaction scope), then the
// read-only alignment, identity and reconciliation stages over the committed
// fact store.
package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"circflow/internal/align"
	"circflow/internal/audit"
	"circflow/internal/dimension"
	"circflow/internal/facts"
	"circflow/internal/identity"
	"circflow/internal/reconcile"
	"circflow/internal/staging"
	txcontext "circflow/pkg/platform/tx"
)

// SourceBatch is one collector hand-off: the parsed rows of a single source
// file.
type SourceBatch struct {
	SourceFile string
	Rows       []staging.RawRow
}

// FileResult is the per-file ingestion outcome. Err is set when the file's
// transaction rolled back; other files are unaffected.
type FileResult struct {
	SourceFile      string
	Observations    int
	Rejections      []staging.Rejection
	MappingFailures []dimension.MappingFailure
	Audit           facts.BatchAudit
	Err             error
}

// PassReport is the full outcome of one pipeline pass.
type PassReport struct {
	BatchID          uuid.UUID
	Files            []FileResult
	PrimaryConflicts []facts.PrimaryConflict
	Cells            []align.Cell
	Results          []identity.Result
	Assessments      []reconcile.Assessment
	ModelState       reconcile.State
}

// Runner executes pipeline passes. Stages 1-3 run per file with bounded
// parallelism; stages 4-6 run once, strictly after every file has committed.
type Runner struct {
	normalizer  *staging.Normalizer
	resolver    *dimension.Resolver
	assembler   *facts.Assembler
	aligner     *align.Aligner
	model       *reconcile.Model
	target      dimension.Component
	db          *sql.DB
	auditInbox  chan<- audit.Event
	logger      *slog.Logger
	parallelism int
	retrain     bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithDB enables per-file transaction scope against PostgreSQL. Without it
// the store is assumed to apply batches atomically on its own (memory store).
func WithDB(db *sql.DB) RunnerOption {
	return func(r *Runner) {
		r.db = db
	}
}

// WithAuditInbox routes per-file audit events to the audit worker.
func WithAuditInbox(inbox chan<- audit.Event) RunnerOption {
	return func(r *Runner) {
		r.auditInbox = inbox
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithParallelism bounds the number of files ingested concurrently.
func WithParallelism(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.parallelism = n
		}
	}
}

// WithRetraining lets the pass retrain the model when it is not in the
// trained state.
func WithRetraining(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.retrain = enabled
	}
}

// NewRunner wires a Runner.
func NewRunner(
	normalizer *staging.Normalizer,
	resolver *dimension.Resolver,
	assembler *facts.Assembler,
	aligner *align.Aligner,
	model *reconcile.Model,
	target dimension.Component,
	opts ...RunnerOption,
) (*Runner, error) {
	if normalizer == nil || resolver == nil || assembler == nil || aligner == nil || model == nil {
		return nil, fmt.Errorf("runner requires normalizer, resolver, assembler, aligner and model")
	}
	r := &Runner{
		normalizer:  normalizer,
		resolver:    resolver,
		assembler:   assembler,
		aligner:     aligner,
		model:       model,
		target:      target,
		logger:      slog.Default(),
		parallelism: 4,
		retrain:     true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run executes one pass over the given batches. Per-file failures are
// recorded on the report, not returned: one bad file never blocks the rest.
// An error is returned only when a pass-level stage fails.
func (r *Runner) Run(ctx context.Context, batches []SourceBatch) (*PassReport, error) {
	report := &PassReport{
		BatchID: uuid.New(),
		Files:   make([]FileResult, len(batches)),
	}
	extractDate := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			report.Files[i] = r.ingestFile(gctx, batch, extractDate)
			r.publishAudit(report.BatchID, report.Files[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ingest batches: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Ingestion has fully committed; stages 4-6 read a consistent snapshot.
	conflicts, err := r.assembler.WarnPrimaryConflicts(ctx)
	if err != nil {
		return nil, err
	}
	report.PrimaryConflicts = conflicts

	cells, err := r.aligner.Align(ctx)
	if err != nil {
		return nil, err
	}
	report.Cells = cells
	report.Results = identity.EvaluateAll(cells)

	vectors := reconcile.Vectors(cells, report.Results, r.target)

	if r.retrain && r.model.State() != reconcile.StateTrained {
		if err := r.model.Train(ctx, vectors); err != nil {
			if errors.Is(err, reconcile.ErrInsufficientHistory) {
				r.logger.Warn("model retraining skipped", "error", err)
			} else {
				return nil, err
			}
		}
	}

	for _, v := range vectors {
		assessment, err := r.model.Classify(ctx, v)
		if err != nil {
			return nil, err
		}
		report.Assessments = append(report.Assessments, assessment)
	}
	report.ModelState = r.model.State()

	r.logger.Info("pipeline pass complete",
		"batch_id", report.BatchID.String(),
		"files", len(report.Files),
		"quarters", len(report.Results),
		"model_state", string(report.ModelState),
	)
	return report, nil
}

// ingestFile runs stages 1-3 for one source file. With a database attached
// the whole file commits or rolls back as one transaction.
func (r *Runner) ingestFile(ctx context.Context, batch SourceBatch, extractDate time.Time) FileResult {
	result := FileResult{SourceFile: batch.SourceFile}

	var resolved []dimension.ResolvedObservation
	for _, row := range batch.Rows {
		obs, ok, rejection := r.normalizer.Normalize(row, extractDate)
		if rejection != nil {
			result.Rejections = append(result.Rejections, *rejection)
			continue
		}
		if !ok {
			continue // placeholder token, observation absent
		}
		res, failure := r.resolver.Resolve(obs)
		if failure != nil {
			result.MappingFailures = append(result.MappingFailures, *failure)
			continue
		}
		resolved = append(resolved, res)
	}
	result.Observations = len(resolved)

	var err error
	if r.db != nil {
		err = r.assembleInTx(ctx, resolved, &result)
	} else {
		result.Audit, err = r.assembler.Assemble(ctx, resolved)
	}
	if err != nil {
		result.Err = err
		r.logger.Error("source file ingestion failed",
			"source_file", batch.SourceFile,
			"error", err,
		)
		return result
	}

	r.logger.Info("source file ingested",
		"source_file", batch.SourceFile,
		"observations", result.Observations,
		"inserted", result.Audit.Inserted,
		"updated", result.Audit.Updated,
		"rejected", len(result.Rejections),
		"mapping_failures", len(result.MappingFailures),
	)
	return result
}

func (r *Runner) assembleInTx(ctx context.Context, resolved []dimension.ResolvedObservation, result *FileResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin file transaction: %w", err)
	}

	batchAudit, err := r.assembler.Assemble(txcontext.WithTx(ctx, tx), resolved)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit file transaction: %w", err)
	}
	result.Audit = batchAudit
	return nil
}

func (r *Runner) publishAudit(batchID uuid.UUID, result FileResult) {
	if r.auditInbox == nil {
		return
	}
	event := audit.Event{
		ID:              uuid.New(),
		BatchID:         batchID,
		Timestamp:       time.Now().UTC(),
		SourceFile:      result.SourceFile,
		Status:          audit.StatusSucceeded,
		Inserted:        result.Audit.Inserted,
		Updated:         result.Audit.Updated,
		Rejected:        len(result.Rejections),
		MappingFailures: len(result.MappingFailures),
	}
	if result.Err != nil {
		event.Status = audit.StatusFailed
		event.Detail = result.Err.Error()
	}
	select {
	case r.auditInbox <- event:
	default:
		r.logger.Warn("audit inbox full, dropping event", "source_file", result.SourceFile)
	}
}
