package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/review-pipeline/internal/checkpoint"
	"github.com/JakeFAU/review-pipeline/internal/ledger"
	"github.com/JakeFAU/review-pipeline/internal/pipeline"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("REVIEWETL_INDEX_PROVIDER", "memory")
	t.Setenv("REVIEWETL_CHECKPOINT_DIR", t.TempDir())
	t.Setenv("REVIEWETL_LOGGING_DEVELOPMENT", "false")
	t.Setenv("REVIEWETL_LOGGING_LEVEL", "error")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunWithoutEntitiesHasNothingToTransform(t *testing.T) {
	out, err := executeRoot(t, "run", "--pages", "3")
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)

	var report pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, ledger.StatusFailed, report.Status)
	require.Equal(t, 3, report.Pages)
	require.Len(t, report.Stages, 4)
	require.Equal(t, pipeline.StageOK, report.Stages[0].Status)
	require.Equal(t, pipeline.StageFailed, report.Stages[1].Status)
}

func TestRunClampsPages(t *testing.T) {
	out, _ := executeRoot(t, "run", "--pages", "500", "--skip-transform", "--skip-save", "--skip-load")

	var report pipeline.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Equal(t, 10, report.Pages)
	require.Equal(t, ledger.StatusSucceeded, report.Status)
}

func TestRunStrictOnlyAcceptsSucceeded(t *testing.T) {
	_, err := executeRoot(t, "run", "--strict", "--skip-transform", "--skip-save", "--skip-load")
	require.NoError(t, err)
}

func TestRunSkippingExtractWithoutCheckpointFails(t *testing.T) {
	_, err := executeRoot(t, "run", "--skip-extract")
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestRunFlagsStages(t *testing.T) {
	t.Parallel()

	f := runFlags{skipSave: true}
	got := f.stages(pipeline.AllStages())
	require.Equal(t, pipeline.Stages{Extract: true, Transform: true, Load: true}, got)

	got = runFlags{}.stages(pipeline.Stages{Extract: true})
	require.Equal(t, pipeline.Stages{Extract: true}, got)
}
