package pipeline

import (
	"time"

	"github.com/JakeFAU/review-pipeline/internal/extract"
	"github.com/JakeFAU/review-pipeline/internal/ledger"
	"github.com/JakeFAU/review-pipeline/internal/load"
)

// Stage names a pipeline step.
type Stage string

// Stages in execution order.
const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageSave      Stage = "save"
	StageLoad      Stage = "load"
)

// StageStatus is the outcome of one stage.
type StageStatus string

// Stage outcomes.
const (
	StageOK        StageStatus = "ok"
	StageRecovered StageStatus = "recovered"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
)

// StageReport describes one stage execution.
type StageReport struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	Input      int         `json:"input"`
	Output     int         `json:"output"`
	Checkpoint string      `json:"checkpoint,omitempty"`
	DurationMS int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
}

// Report summarizes a run. It is written to the ledger and published.
type Report struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Pages      int           `json:"pages"`
	Status     ledger.Status `json:"status"`
	Stages     []StageReport `json:"stages"`
	Extract    extract.Stats `json:"extract"`
	Load       *load.Result  `json:"load,omitempty"`
}

// Stage returns the report for s.
func (r Report) Stage(s Stage) (StageReport, bool) {
	for _, sr := range r.Stages {
		if sr.Stage == s {
			return sr, true
		}
	}
	return StageReport{}, false
}

// status derives the run status: failed when any enabled stage failed,
// partial when data was dropped along the way.
func (r Report) status() ledger.Status {
	for _, sr := range r.Stages {
		if sr.Status == StageFailed {
			return ledger.StatusFailed
		}
	}
	if r.Extract.Failed > 0 || r.Extract.PagesFailed > 0 {
		return ledger.StatusPartial
	}
	if r.Load != nil && (r.Load.Failed() > 0 || r.Load.Skipped > 0) {
		return ledger.StatusPartial
	}
	return ledger.StatusSucceeded
}

func (r Report) ledgerRun() ledger.Run {
	run := ledger.Run{
		ID:        r.RunID,
		StartedAt: r.StartedAt,
		Status:    r.Status,
		Pages:     r.Pages,
		Extracted: r.Extract.Reviews,
	}
	if !r.FinishedAt.IsZero() {
		finished := r.FinishedAt
		run.FinishedAt = &finished
	}
	if sr, ok := r.Stage(StageTransform); ok {
		run.Normalized = sr.Output
	}
	if sr, ok := r.Stage(StageSave); ok {
		run.Checkpoint = sr.Checkpoint
	}
	if r.Load != nil {
		run.Loaded = r.Load.Succeeded
		run.Failed = r.Load.Failed()
	}
	for _, sr := range r.Stages {
		if sr.Status == StageFailed && sr.Error != "" {
			msg := string(sr.Stage) + ": " + sr.Error
			run.ErrorMessage = &msg
			break
		}
	}
	return run
}
