package log

import (
	"fmt"
	"io"
	"time"
)

type Level int

const (
	LevelDebug    Level = iota // information that only a programmer will understand
	LevelInfo                  // information that a non-programmer might be interested in
	LevelWarn                  // speeds up tracking down issues, once you know about them
	LevelError                 // should not have happened
	LevelCritical              // the run cannot continue
)

// Log is satisfied by github.com/cyclopcam/logs.Log, which is what we use for
// the process-wide logger. Worker threads log through a StreamLog instead.
type Log interface {
	Debugf(format string, a ...any)
	Infof(format string, a ...any)
	Warnf(format string, a ...any)
	Errorf(format string, a ...any)
	Criticalf(format string, a ...any)
}

// StreamLog writes one line per message.
// Debug and Info go to Out, everything more severe goes to Err.
// Out and Err are normally syncx.Streams, so that lines from different threads don't interleave.
type StreamLog struct {
	Out io.Writer
	Err io.Writer
}

func NewStreamLog(out, err io.Writer) *StreamLog {
	return &StreamLog{
		Out: out,
		Err: err,
	}
}

func levelToName(level Level) string {
	switch level {
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarn:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelCritical:
		return "Critical"
	}
	panic("Unknown log level")
}

func (l *StreamLog) write(level Level, format string, a ...any) {
	w := l.Out
	if level >= LevelWarn {
		w = l.Err
	}
	// A single Write call per message, so that the line reaches the stream whole
	msg := fmt.Sprintf("%.3f %v ", float64(time.Now().UnixNano())/1e9, levelToName(level)) + fmt.Sprintf(format, a...) + "\n"
	io.WriteString(w, msg)
}

func (l *StreamLog) Debugf(format string, a ...any) {
	l.write(LevelDebug, format, a...)
}

func (l *StreamLog) Infof(format string, a ...any) {
	l.write(LevelInfo, format, a...)
}

func (l *StreamLog) Warnf(format string, a ...any) {
	l.write(LevelWarn, format, a...)
}

func (l *StreamLog) Errorf(format string, a ...any) {
	l.write(LevelError, format, a...)
}

func (l *StreamLog) Criticalf(format string, a ...any) {
	l.write(LevelCritical, format, a...)
}
