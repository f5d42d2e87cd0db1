package sampledb

import (
	"path/filepath"
	"testing"

	"github.com/cyclopcam/hardmine/pkg/dbh"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestRunsAndSamples(t *testing.T) {
	log := logs.NewTestingLog(t)
	db, err := Open(log, dbh.MakeSqliteConfig(filepath.Join(t.TempDir(), "samples.sqlite")))
	require.NoError(t, err)
	defer db.Close()

	runID, err := db.StartRun("threads: 2\n")
	require.NoError(t, err)
	require.Equal(t, 36, len(runID))

	pos := []nn.Sample{{Box: nn.Box{H0: 1, W0: 2, Height: 3, Width: 4, Class: 1, Confidence: 0.9, ScaleIndex: 2, CellRow: 5, CellCol: 6}}}
	neg := []nn.Sample{{Box: nn.Box{Class: 0, Confidence: 0.8}}, {Box: nn.Box{Class: 0, Confidence: 0.7}}}
	require.NoError(t, db.AddSamples(runID, "img1.jpg", KindPositive, pos))
	require.NoError(t, db.AddSamples(runID, "img1.jpg", KindNegative, neg))
	require.NoError(t, db.AddSamples(runID, "img2.jpg", KindNegative, nil))

	all, err := db.Samples(runID, "")
	require.NoError(t, err)
	require.Equal(t, 3, len(all))
	require.Equal(t, KindPositive, all[0].Kind)
	require.Equal(t, float32(1), all[0].BoxH0)
	require.Equal(t, 6, all[0].CellCol)
	require.Equal(t, 2, all[0].Scale)
	require.False(t, all[0].CreatedAt.IsZero())

	negs, err := db.Samples(runID, KindNegative)
	require.NoError(t, err)
	require.Equal(t, 2, len(negs))
	require.Equal(t, float32(0.7), negs[1].Confidence)

	require.NoError(t, db.FinishRun(runID, Totals{Frames: 2, Positives: 1, Negatives: 2}))
	run, err := db.Run(runID)
	require.NoError(t, err)
	require.Equal(t, 2, run.Frames)
	require.Equal(t, 2, run.Negatives)
	require.Equal(t, "threads: 2\n", run.Config)
	require.False(t, run.FinishedAt.IsZero())

	// Runs don't see each other's samples
	other, err := db.StartRun("")
	require.NoError(t, err)
	none, err := db.Samples(other, "")
	require.NoError(t, err)
	require.Equal(t, 0, len(none))
}
