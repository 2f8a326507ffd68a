// Package pipeline sequences extract, transform, save and load. Each stage can
// be disabled; a stage whose input is empty recovers it from the latest
// checkpoint, and a stage that cannot recover fails alone.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/checkpoint"
	"github.com/JakeFAU/review-pipeline/internal/clock"
	"github.com/JakeFAU/review-pipeline/internal/extract"
	"github.com/JakeFAU/review-pipeline/internal/id"
	"github.com/JakeFAU/review-pipeline/internal/ledger"
	"github.com/JakeFAU/review-pipeline/internal/load"
	"github.com/JakeFAU/review-pipeline/internal/metrics"
	"github.com/JakeFAU/review-pipeline/internal/review"
)

// Extractor pulls raw batches for the configured entities.
type Extractor interface {
	ExtractAll(ctx context.Context, entities []string, maxPages int) ([]review.RawReviewBatch, extract.Stats)
}

// Normalizer maps raw batches to documents.
type Normalizer interface {
	Normalize(batches []review.RawReviewBatch) []review.Document
}

// Loader writes documents to the index.
type Loader interface {
	Load(ctx context.Context, docs []review.Document) (load.Result, error)
}

// Checkpoints persists and recovers stage outputs.
type Checkpoints interface {
	SaveBatches(ctx context.Context, batches []review.RawReviewBatch) (string, error)
	SaveDocuments(ctx context.Context, docs []review.Document) (string, error)
	LoadLatestBatches() ([]review.RawReviewBatch, string, error)
	LoadLatestDocuments() ([]review.Document, string, error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, payload any, attrs map[string]string) (string, error)
}

// Stages toggles individual steps.
type Stages struct {
	Extract   bool
	Transform bool
	Save      bool
	Load      bool
}

// AllStages enables every step.
func AllStages() Stages {
	return Stages{Extract: true, Transform: true, Save: true, Load: true}
}

// Options parameterize one run.
type Options struct {
	Pages  int
	Stages Stages
}

// Deps are the collaborators of a Pipeline. Ledger, Publisher, Clock and
// IDs are optional.
type Deps struct {
	Entities    []string
	Extractor   Extractor
	Normalizer  Normalizer
	Loader      Loader
	Checkpoints Checkpoints
	Ledger      ledger.Recorder
	Publisher   Publisher
	Clock       review.Clock
	IDs         review.IDGenerator
}

// Pipeline runs the stages in order.
type Pipeline struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and fills defaults.
func New(deps Deps, logger *zap.Logger) (*Pipeline, error) {
	if deps.Extractor == nil || deps.Normalizer == nil || deps.Loader == nil || deps.Checkpoints == nil {
		return nil, errors.New("pipeline requires extractor, normalizer, loader and checkpoints")
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.IDs == nil {
		deps.IDs = id.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, logger: logger}, nil
}

type runState struct {
	batches []review.RawReviewBatch
	docs    []review.Document
	report  Report
	fatal   error
}

// Run executes one pass. It always returns a report; the error is non-nil
// when a stage had no input and no checkpoint to recover from, or when ctx
// was canceled.
func (p *Pipeline) Run(ctx context.Context, opts Options) (Report, error) {
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := p.logger.With(zap.String("run_id", runID))
	st := &runState{report: Report{
		RunID:     runID,
		StartedAt: p.deps.Clock.Now(),
		Pages:     opts.Pages,
		Status:    ledger.StatusRunning,
	}}
	if err := p.deps.Ledger.Start(ctx, st.report.ledgerRun()); err != nil {
		logger.Warn("ledger start failed", zap.Error(err))
	}
	logger.Info("pipeline started", zap.Int("pages", opts.Pages), zap.Int("entities", len(p.deps.Entities)))

	p.stage(ctx, logger, st, StageExtract, opts.Stages.Extract, func(ctx context.Context, sr *StageReport) error {
		return p.extract(ctx, logger, st, opts.Pages, sr)
	})
	p.stage(ctx, logger, st, StageTransform, opts.Stages.Transform, func(_ context.Context, sr *StageReport) error {
		return p.transform(logger, st, sr)
	})
	p.stage(ctx, logger, st, StageSave, opts.Stages.Save, func(ctx context.Context, sr *StageReport) error {
		return p.save(ctx, logger, st, sr)
	})
	p.stage(ctx, logger, st, StageLoad, opts.Stages.Load, func(ctx context.Context, sr *StageReport) error {
		return p.load(ctx, logger, st, sr)
	})

	st.report.FinishedAt = p.deps.Clock.Now()
	st.report.Status = st.report.status()
	metrics.ObserveRun(string(st.report.Status))

	// Bookkeeping must outlive a canceled run context.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.deps.Ledger.Finish(finishCtx, st.report.ledgerRun()); err != nil {
		logger.Warn("ledger finish failed", zap.Error(err))
	}
	if p.deps.Publisher != nil {
		attrs := map[string]string{"run_id": runID, "status": string(st.report.Status)}
		if _, err := p.deps.Publisher.Publish(finishCtx, st.report, attrs); err != nil {
			logger.Warn("publish run report failed", zap.Error(err))
		}
	}

	logger.Info("pipeline finished",
		zap.String("status", string(st.report.Status)),
		zap.Duration("elapsed", st.report.FinishedAt.Sub(st.report.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return st.report, err
	}
	return st.report, st.fatal
}

func (p *Pipeline) stage(
	ctx context.Context,
	logger *zap.Logger,
	st *runState,
	name Stage,
	enabled bool,
	fn func(context.Context, *StageReport) error,
) {
	sr := StageReport{Stage: name, Status: StageOK}
	if !enabled {
		sr.Status = StageSkipped
		st.report.Stages = append(st.report.Stages, sr)
		return
	}
	start := time.Now()
	err := fn(ctx, &sr)
	elapsed := time.Since(start)
	sr.DurationMS = elapsed.Milliseconds()
	if err != nil {
		sr.Status = StageFailed
		sr.Error = err.Error()
		logger.Error("stage failed", zap.String("stage", string(name)), zap.Error(err))
		if errors.Is(err, checkpoint.ErrNoCheckpoint) && st.fatal == nil {
			st.fatal = fmt.Errorf("%s: %w", name, err)
		}
	}
	metrics.ObserveStage(string(name), string(sr.Status), elapsed)
	st.report.Stages = append(st.report.Stages, sr)
}

func (p *Pipeline) extract(ctx context.Context, logger *zap.Logger, st *runState, pages int, sr *StageReport) error {
	batches, stats := p.deps.Extractor.ExtractAll(ctx, p.deps.Entities, pages)
	st.batches = batches
	st.report.Extract = stats
	sr.Input = len(p.deps.Entities)
	sr.Output = stats.Reviews

	path, err := p.deps.Checkpoints.SaveBatches(ctx, batches)
	if err != nil {
		logger.Warn("raw checkpoint not written", zap.Error(err))
	}
	sr.Checkpoint = path
	logger.Info("extraction finished",
		zap.Int("entities", stats.Entities),
		zap.Int("reviews", stats.Reviews),
		zap.Int("pages_failed", stats.PagesFailed),
	)
	return nil
}

func (p *Pipeline) transform(logger *zap.Logger, st *runState, sr *StageReport) error {
	if len(st.batches) == 0 {
		logger.Warn("no raw batches in memory, recovering latest raw checkpoint")
		batches, path, err := p.deps.Checkpoints.LoadLatestBatches()
		if err != nil {
			return fmt.Errorf("recover raw batches: %w", err)
		}
		if len(batches) == 0 {
			return fmt.Errorf("recover raw batches: %w: %s is empty", checkpoint.ErrNoCheckpoint, path)
		}
		st.batches = batches
		sr.Status = StageRecovered
		sr.Checkpoint = path
	}
	sr.Input = countReviews(st.batches)
	st.docs = p.deps.Normalizer.Normalize(st.batches)
	sr.Output = len(st.docs)
	logger.Info("transformation finished", zap.Int("documents", len(st.docs)))
	return nil
}

func (p *Pipeline) recoverDocuments(logger *zap.Logger, st *runState, sr *StageReport) error {
	if len(st.docs) > 0 {
		return nil
	}
	logger.Warn("no documents in memory, recovering latest documents checkpoint", zap.String("stage", string(sr.Stage)))
	docs, path, err := p.deps.Checkpoints.LoadLatestDocuments()
	if err != nil {
		return fmt.Errorf("recover documents: %w", err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("recover documents: %w: %s is empty", checkpoint.ErrNoCheckpoint, path)
	}
	st.docs = docs
	sr.Status = StageRecovered
	sr.Checkpoint = path
	return nil
}

func (p *Pipeline) save(ctx context.Context, logger *zap.Logger, st *runState, sr *StageReport) error {
	if err := p.recoverDocuments(logger, st, sr); err != nil {
		return err
	}
	sr.Input = len(st.docs)
	path, err := p.deps.Checkpoints.SaveDocuments(ctx, st.docs)
	if err != nil {
		return fmt.Errorf("save documents: %w", err)
	}
	sr.Output = len(st.docs)
	sr.Checkpoint = path
	return nil
}

func (p *Pipeline) load(ctx context.Context, logger *zap.Logger, st *runState, sr *StageReport) error {
	if err := p.recoverDocuments(logger, st, sr); err != nil {
		return err
	}
	sr.Input = len(st.docs)
	res, err := p.deps.Loader.Load(ctx, st.docs)
	st.report.Load = &res
	sr.Output = res.Succeeded
	if err != nil {
		return fmt.Errorf("load documents: %w", err)
	}
	return nil
}

func countReviews(batches []review.RawReviewBatch) int {
	n := 0
	for _, b := range batches {
		n += len(b.Reviews)
	}
	return n
}
