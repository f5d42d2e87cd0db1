package dbh

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestDBNotExist(t *testing.T) {
	require.False(t, isDatabaseNotExist(nil))
	require.False(t, dbNotExistRegex.MatchString(`does not exist`))
	require.True(t, dbNotExistRegex.MatchString(`database "foobar" does not exist`))
	require.False(t, dbNotExistRegex.MatchString(`table "foobar" does not exist`))
}

func TestDSN(t *testing.T) {
	c := DBConfig{Driver: DriverPostgres, Host: "localhost", Username: "miner", Password: "it's", Database: "samples", Port: 5433}
	require.Equal(t, `host=localhost user=miner password='it\'s' dbname=samples port=5433 sslmode=disable`, c.DSN())
	require.NotContains(t, c.LogSafeDescription(), "it's")

	s := MakeSqliteConfig("/tmp/x.sqlite")
	require.Equal(t, "/tmp/x.sqlite", s.DSN())
}

type intTimeTester struct {
	ID     int64   `gorm:"primaryKey"`
	MyTime IntTime
}

func TestOpenAndMigrate(t *testing.T) {
	log := logs.NewTestingLog(t)
	cfg := MakeSqliteConfig(filepath.Join(t.TempDir(), "unit-test.sqlite"))
	migs := MakeMigrations(log, []string{
		"CREATE TABLE int_time_tester (id INTEGER PRIMARY KEY, my_time INT)",
		"CREATE INDEX idx_int_time_tester_my_time ON int_time_tester (my_time)",
	})
	db, err := OpenDB(log, cfg, migs, 0)
	require.NoError(t, err)

	// A zero IntTime is stored as NULL
	require.NoError(t, db.Save(&intTimeTester{ID: 1}).Error)
	nullable := sql.NullInt64{}
	require.NoError(t, db.Raw("SELECT my_time FROM int_time_tester WHERE id = 1").Row().Scan(&nullable))
	require.False(t, nullable.Valid)

	when := time.Date(2022, time.February, 3, 4, 5, 6, 777*1000*1000, time.UTC)
	require.NoError(t, db.Save(&intTimeTester{ID: 2, MyTime: MakeIntTime(when)}).Error)
	read := intTimeTester{}
	require.NoError(t, db.Where("id = 2").First(&read).Error)
	require.Equal(t, when, read.MyTime.Get())

	// Reopening runs no migrations and keeps the data
	db2, err := OpenDB(log, cfg, migs, 0)
	require.NoError(t, err)
	count := int64(0)
	require.NoError(t, db2.Model(&intTimeTester{}).Count(&count).Error)
	require.Equal(t, int64(2), count)

	// Wipe starts from scratch
	sqlDB, _ := db.DB()
	sqlDB.Close()
	sqlDB2, _ := db2.DB()
	sqlDB2.Close()
	db3, err := OpenDB(log, cfg, migs, DBConnectFlagWipeDB)
	require.NoError(t, err)
	require.NoError(t, db3.Model(&intTimeTester{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestIntTime(t *testing.T) {
	require.True(t, IntTime(0).Get().IsZero())
	require.Equal(t, IntTime(0), MakeIntTime(time.Time{}))
	var v IntTime
	require.NoError(t, v.Scan(int64(55)))
	require.Equal(t, IntTime(55), v)
	require.NoError(t, v.Scan(nil))
	require.True(t, v.IsZero())
}
