// Package runlog keeps a persistent record of each run next to what the
// operator sees on the terminal.
package runlog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Log tees operator output into an append-only file and carries a
// structured logger that writes to the same file.
type Log struct {
	Out    io.Writer
	Logger *slog.Logger
	file   *os.File
}

// Open appends to the log file at path, creating it and its directory.
func Open(path string, console io.Writer, program string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, nil)).With("program", program, "pid", os.Getpid())
	return &Log{
		Out:    io.MultiWriter(console, f),
		Logger: logger,
		file:   f,
	}, nil
}

func (l *Log) Close() error {
	return l.file.Close()
}
