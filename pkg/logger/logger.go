// Package logger builds the application's zerolog logger: human-readable
// console output by default, JSON when writing to a file or an arbitrary
// writer.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const permission = 0664

// Builder accumulates output options before Make.
type Builder struct {
	writer io.Writer
	path   string
}

// Log is a ready logger plus the file handle it may own.
type Log struct {
	Logger  zerolog.Logger
	logFile *os.File
}

func New() *Builder {
	return &Builder{}
}

// ToFile appends JSON log lines to path, creating the file if needed.
func (b *Builder) ToFile(path string) *Builder {
	b.path = path
	return b
}

// ToWriter sends JSON log lines to w. Used by tests.
func (b *Builder) ToWriter(w io.Writer) *Builder {
	b.writer = w
	return b
}

// Make builds the logger. Without a file or writer configured it emits
// console-formatted lines on stderr.
func (b *Builder) Make() (*Log, error) {
	l := &Log{}
	writer := b.writer
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		l.logFile = f
		writer = zerolog.SyncWriter(f)
	}
	if writer == nil {
		writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	l.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return l, nil
}

// Close releases the log file, if any.
func (l *Log) Close() error {
	if l.logFile == nil {
		return nil
	}
	return l.logFile.Close()
}
