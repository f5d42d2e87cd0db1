package sampledb

import "github.com/cyclopcam/hardmine/pkg/dbh"

type Kind string

const (
	KindPositive Kind = "positive"
	KindNegative Kind = "negative"
)

// Run is one invocation of the miner over a set of frames
type Run struct {
	ID         string      `gorm:"primaryKey" json:"id"`
	StartedAt  dbh.IntTime `json:"startedAt"`
	FinishedAt dbh.IntTime `json:"finishedAt"`
	Config     string      `json:"config"` // YAML of the config that the run used
	Frames     int         `json:"frames"`
	Skipped    int         `json:"skipped"`
	Failed     int         `json:"failed"`
	Positives  int         `json:"positives"`
	Negatives  int         `json:"negatives"`
}

// Sample is the record of one mined sample. The tensor itself lives in the dataset files.
type Sample struct {
	ID         int64       `gorm:"primaryKey" json:"id"`
	RunID      string      `json:"runID"`
	Frame      string      `json:"frame"`
	Kind       Kind        `json:"kind"`
	Class      int         `json:"class"`
	Confidence float32     `json:"confidence"`
	Scale      int         `json:"scale"`
	Output     int         `json:"output"`
	CellRow    int         `json:"cellRow"`
	CellCol    int         `json:"cellCol"`
	BoxH0      float32     `gorm:"column:box_h0" json:"boxH0"`
	BoxW0      float32     `gorm:"column:box_w0" json:"boxW0"`
	BoxHeight  float32     `json:"boxHeight"`
	BoxWidth   float32     `json:"boxWidth"`
	CreatedAt  dbh.IntTime `json:"createdAt"`
}

// Totals of a run
type Totals struct {
	Frames    int
	Skipped   int
	Failed    int
	Positives int
	Negatives int
}
