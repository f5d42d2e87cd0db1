package dbh

import (
	"context"
	"errors"
	"time"

	"github.com/cyclopcam/hardmine/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = time.Second

// gormLogger sends gorm's messages to our own log.
// Record not found is never a loggable thing, so it is ignored.
type gormLogger struct {
	log   log.Log
	level logger.LogLevel
}

func newGormLogger(l log.Log) *gormLogger {
	return &gormLogger{
		log:   log.NewPrefixLogger(l, "DB:"),
		level: logger.Warn,
	}
}

func (g *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	c := *g
	c.level = level
	return &c
}

func (g *gormLogger) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Info {
		g.log.Infof(msg, args...)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Warn {
		g.log.Warnf(msg, args...)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= logger.Error {
		g.log.Errorf(msg, args...)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= logger.Error:
		sql, _ := fc()
		g.log.Errorf("%v (%.1f ms): %v", err, float64(elapsed.Microseconds())/1000, sql)
	case elapsed > slowQueryThreshold && g.level >= logger.Warn:
		sql, rows := fc()
		g.log.Warnf("Slow query (%.1f ms, %v rows): %v", float64(elapsed.Microseconds())/1000, rows, sql)
	case g.level >= logger.Info:
		sql, rows := fc()
		g.log.Debugf("(%.1f ms, %v rows): %v", float64(elapsed.Microseconds())/1000, rows, sql)
	}
}
