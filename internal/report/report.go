// Package report records one summary row per retired domain.
package report

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Retirement reasons.
const (
	ReasonCompleted     = "completed"
	ReasonDrained       = "drained"
	ReasonResolveFailed = "resolve-failed"
	ReasonAborted       = "aborted"
)

type DomainSummary struct {
	RunID    string
	Domain   string
	Address  string
	Reason   string
	Error    string
	Started  time.Time
	Finished time.Time

	Fetches        int
	Failures       int
	Oversized      int
	TruncatedLines int
	Discovered     int
	RobotsRules    int
	Bytes          uint64
	NewBytes       uint64
}

type Recorder interface {
	Record(ctx context.Context, s DomainSummary) error
	Close() error
}

// Open picks a recorder by file extension: .xlsx writes a spreadsheet on
// Close, .db/.sqlite/.sqlite3 appends to a SQLite database. An empty path
// records nothing.
func Open(path string) (Recorder, error) {
	if path == "" {
		return Nop{}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return NewSpreadsheet(path), nil
	case ".db", ".sqlite", ".sqlite3":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("report %s: unsupported extension (want .db, .sqlite or .xlsx)", path)
	}
}

type Nop struct{}

func (Nop) Record(context.Context, DomainSummary) error { return nil }
func (Nop) Close() error                                { return nil }
