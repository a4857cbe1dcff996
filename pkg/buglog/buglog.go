// Package buglog records detected bugs and the testing traces around them.
//
// Three files are kept per run:
//   - the bug log: one JSON object per line, append-only, one Record per bug
//   - the execution trace: free text describing every executed query
//   - the exception trace: infrastructure failures, with timeouts left out
//
// All three are written through a rotating writer, so long runs never grow a
// single file without bound, and RotateOnStart moves a previous run's file
// aside before the first write.
//
// Example Usage:
//
//	bugs, err := buglog.Open("./logs/bugs.jsonl", buglog.DefaultOptions())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer bugs.Close()
//
//	bugs.Log(buglog.Record{
//		Kind:       buglog.KindLogic,
//		BaseQuery:  base,
//		TestQuery:  plan.Match,
//		BaseResult: int64(3),
//		TestResult: int64(2),
//		Rules:      [3]int{0, 0, 1},
//	})
//
//	reader := buglog.NewReader("./logs/bugs.jsonl")
//	res, _ := reader.Query(buglog.Query{Kinds: []buglog.Kind{buglog.KindLogic}})
//
// Thread Safety:
//
//	Logger and Trace are safe for concurrent use.
package buglog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrClosed is returned when writing to a closed logger.
var ErrClosed = errors.New("buglog: logger is closed")

// Kind classifies a bug.
type Kind string

const (
	// KindLogic: base and test results differ.
	KindLogic Kind = "logic"
	// KindRestrictedLogic: a restricted variant exceeds its base result.
	KindRestrictedLogic Kind = "restricted-logic"
	// KindPerformance: a timing ratio crossed its threshold.
	KindPerformance Kind = "performance"
)

// Record is one detected bug.
type Record struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	Round      int       `json:"round"`
	Timestamp  time.Time `json:"timestamp"`
	Kind       Kind      `json:"kind"`
	Variant    string    `json:"variant,omitempty"`
	BaseQuery  string    `json:"base_query"`
	TestQuery  string    `json:"test_query"`
	BaseResult any       `json:"base_result"`
	TestResult any       `json:"test_result"`
	BaseMs     float64   `json:"base_ms,omitempty"`
	TestMs     float64   `json:"test_ms,omitempty"`
	// Ratio is the timing ratio for performance bugs.
	Ratio float64 `json:"ratio,omitempty"`
	// Rules attributes the bug: [non-structural, property-level, structural].
	Rules [3]int `json:"rules"`
}

// Options configures rotating files.
type Options struct {
	// MaxSizeMB rotates a file once it reaches this size.
	MaxSizeMB  int
	MaxBackups int
	// RotateOnStart moves a non-empty existing file aside on open.
	RotateOnStart bool
}

// DefaultOptions rotates at 10 MB, keeps 10 backups and starts every run on
// a fresh file.
func DefaultOptions() Options {
	return Options{MaxSizeMB: 10, MaxBackups: 10, RotateOnStart: true}
}

// openRotating opens path through lumberjack, rotating a previous non-empty
// file first when asked.
func openRotating(path string, opts Options) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	if opts.RotateOnStart {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			if err := w.Rotate(); err != nil {
				return nil, fmt.Errorf("rotate %s: %w", path, err)
			}
		}
	}
	return w, nil
}

// Logger appends bug records as JSON lines.
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	closer io.Closer
	runID  string
	count  int
	closed bool
}

// Open returns a logger appending to path.
func Open(path string, opts Options) (*Logger, error) {
	w, err := openRotating(path, opts)
	if err != nil {
		return nil, err
	}
	return &Logger{writer: w, closer: w}, nil
}

// NewLoggerWithWriter creates a logger over w (for testing).
func NewLoggerWithWriter(w io.Writer) *Logger {
	return &Logger{writer: w}
}

// SetRunID stamps every later record without its own RunID.
func (l *Logger) SetRunID(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runID = id
}

// Log appends rec, filling ID, RunID and Timestamp when unset, and returns
// the stored record.
func (l *Logger) Log(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return rec, ErrClosed
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return rec, fmt.Errorf("marshal bug record: %w", err)
	}
	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return rec, fmt.Errorf("write bug record: %w", err)
	}
	l.count++
	return rec, nil
}

// Count returns the number of records written by this logger.
func (l *Logger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
