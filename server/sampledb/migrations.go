package sampledb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/hardmine/pkg/dbh"
	"github.com/cyclopcam/hardmine/pkg/log"
)

func Migrations(log log.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE run(
			id TEXT PRIMARY KEY,
			started_at INT NOT NULL,
			finished_at INT,
			config TEXT NOT NULL,
			frames INT NOT NULL DEFAULT 0,
			skipped INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			positives INT NOT NULL DEFAULT 0,
			negatives INT NOT NULL DEFAULT 0
		);

		CREATE TABLE sample(
			id INTEGER PRIMARY KEY,
			run_id TEXT NOT NULL,
			frame TEXT NOT NULL,
			kind TEXT NOT NULL,
			class INT NOT NULL,
			confidence REAL NOT NULL,
			scale INT NOT NULL,
			output INT NOT NULL,
			cell_row INT NOT NULL,
			cell_col INT NOT NULL,
			box_h0 REAL NOT NULL,
			box_w0 REAL NOT NULL,
			box_height REAL NOT NULL,
			box_width REAL NOT NULL,
			created_at INT NOT NULL
		);
		CREATE INDEX idx_sample_run_id ON sample(run_id);
	`))

	return migs
}
