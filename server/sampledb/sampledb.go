// Package sampledb is a catalog of mining runs, and the samples that each run produced.
package sampledb

import (
	"fmt"
	"time"

	"github.com/cyclopcam/hardmine/pkg/dbh"
	"github.com/cyclopcam/hardmine/pkg/log"
	"github.com/cyclopcam/hardmine/pkg/nn"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SampleDB struct {
	log log.Log
	db  *gorm.DB
}

// Open or create a sample DB
func Open(logger log.Log, cfg dbh.DBConfig) (*SampleDB, error) {
	logger = log.NewPrefixLogger(logger, "SampleDB:")
	logger.Infof("Opening %v", cfg.LogSafeDescription())
	db, err := dbh.OpenDB(logger, cfg, Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open sample database %v: %w", cfg.LogSafeDescription(), err)
	}
	return &SampleDB{
		log: logger,
		db:  db,
	}, nil
}

func (s *SampleDB) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

// StartRun records the start of a new run, and returns its ID
func (s *SampleDB) StartRun(config string) (string, error) {
	run := Run{
		ID:        uuid.NewString(),
		StartedAt: dbh.MakeIntTime(time.Now()),
		Config:    config,
	}
	if err := s.db.Create(&run).Error; err != nil {
		return "", err
	}
	return run.ID, nil
}

// FinishRun stores the totals of a run
func (s *SampleDB) FinishRun(runID string, totals Totals) error {
	return s.db.Model(&Run{}).Where("id = ?", runID).Updates(map[string]any{
		"finished_at": dbh.MakeIntTime(time.Now()),
		"frames":      totals.Frames,
		"skipped":     totals.Skipped,
		"failed":      totals.Failed,
		"positives":   totals.Positives,
		"negatives":   totals.Negatives,
	}).Error
}

// AddSamples records the samples of one kind that were mined from a frame
func (s *SampleDB) AddSamples(runID, frame string, kind Kind, samples []nn.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	now := dbh.MakeIntTime(time.Now())
	rows := make([]Sample, 0, len(samples))
	for _, smp := range samples {
		b := smp.Box
		rows = append(rows, Sample{
			RunID:      runID,
			Frame:      frame,
			Kind:       kind,
			Class:      b.Class,
			Confidence: b.Confidence,
			Scale:      b.ScaleIndex,
			Output:     b.OutputIndex,
			CellRow:    b.CellRow,
			CellCol:    b.CellCol,
			BoxH0:      b.H0,
			BoxW0:      b.W0,
			BoxHeight:  b.Height,
			BoxWidth:   b.Width,
			CreatedAt:  now,
		})
	}
	return s.db.Create(&rows).Error
}

func (s *SampleDB) Run(runID string) (*Run, error) {
	run := &Run{}
	if err := s.db.First(run, "id = ?", runID).Error; err != nil {
		return nil, err
	}
	return run, nil
}

// Samples of a run, in the order they were recorded. If kind is empty, all kinds are returned.
func (s *SampleDB) Samples(runID string, kind Kind) ([]Sample, error) {
	q := s.db.Where("run_id = ?", runID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	samples := []Sample{}
	if err := q.Order("id").Find(&samples).Error; err != nil {
		return nil, err
	}
	return samples, nil
}
