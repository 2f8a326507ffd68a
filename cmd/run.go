package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/review-pipeline/internal/ledger"
	"github.com/JakeFAU/review-pipeline/internal/pipeline"
)

// errNotSucceeded is returned by --strict runs that ended partial or failed.
var errNotSucceeded = errors.New("run did not succeed")

type runFlags struct {
	pages         int
	skipExtract   bool
	skipTransform bool
	skipSave      bool
	skipLoad      bool
	strict        bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extract, transform, save and load stages",
		Long: `Runs one pass of the pipeline. Each stage can be skipped; a stage whose
input is missing recovers it from the latest checkpoint on disk. The run
report is printed to stdout as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, f)
		},
	}
	cmd.Flags().IntVar(&f.pages, "pages", 0, "pages to fetch per entity (default pipeline.default_pages)")
	cmd.Flags().BoolVar(&f.skipExtract, "skip-extract", false, "skip the extract stage")
	cmd.Flags().BoolVar(&f.skipTransform, "skip-transform", false, "skip the transform stage")
	cmd.Flags().BoolVar(&f.skipSave, "skip-save", false, "skip writing the documents checkpoint")
	cmd.Flags().BoolVar(&f.skipLoad, "skip-load", false, "skip loading into the index")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero unless the run fully succeeded")
	return cmd
}

// stages merges configured stage toggles with the skip flags.
func (f runFlags) stages(cfg pipeline.Stages) pipeline.Stages {
	return pipeline.Stages{
		Extract:   cfg.Extract && !f.skipExtract,
		Transform: cfg.Transform && !f.skipTransform,
		Save:      cfg.Save && !f.skipSave,
		Load:      cfg.Load && !f.skipLoad,
	}
}

func runPipeline(cmd *cobra.Command, f runFlags) error {
	ctx := cmd.Context()
	e, err := resolveEnv(ctx)
	if err != nil {
		return err
	}
	cfg, logger := e.cfg, e.logger

	pages, clamped := cfg.ClampPages(f.pages)
	if clamped && f.pages != 0 {
		logger.Warn("page count out of range; clamped",
			zap.Int("requested", f.pages), zap.Int("pages", pages))
	}

	w, err := wire(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.close()

	p, err := pipeline.New(w.deps, logger.Named("pipeline"))
	if err != nil {
		return err
	}
	report, runErr := p.Run(ctx, pipeline.Options{
		Pages: pages,
		Stages: f.stages(pipeline.Stages{
			Extract:   cfg.Pipeline.Extract,
			Transform: cfg.Pipeline.Transform,
			Save:      cfg.Pipeline.Save,
			Load:      cfg.Pipeline.Load,
		}),
	})

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.Warn("print report failed", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("run %s: %w", report.RunID, runErr)
	}
	if f.strict && report.Status != ledger.StatusSucceeded {
		return fmt.Errorf("%w: status %s", errNotSucceeded, report.Status)
	}
	return nil
}
