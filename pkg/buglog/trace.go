package buglog

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Trace is an append-only text log. Entries for which Skip reports true are
// dropped.
type Trace struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	skip   func(string) bool
	now    func() time.Time
}

// OpenTrace opens the execution trace at path.
func OpenTrace(path string, opts Options) (*Trace, error) {
	w, err := openRotating(path, opts)
	if err != nil {
		return nil, err
	}
	return &Trace{w: w, closer: w, now: time.Now}, nil
}

// OpenExceptionTrace opens the exception trace at path. Timeout messages are
// not recorded.
func OpenExceptionTrace(path string, opts Options) (*Trace, error) {
	t, err := OpenTrace(path, opts)
	if err != nil {
		return nil, err
	}
	t.skip = IsTimeoutMessage
	return t, nil
}

// NewTrace writes to w. skip may be nil.
func NewTrace(w io.Writer, skip func(string) bool) *Trace {
	return &Trace{w: w, skip: skip, now: time.Now}
}

// IsTimeoutMessage matches "Timeout", "timeout" and the like.
func IsTimeoutMessage(s string) bool {
	return strings.Contains(s, "imeout")
}

// Printf writes one timestamped entry. A nil Trace discards everything.
func (t *Trace) Printf(format string, args ...any) {
	if t == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if t.skip != nil && t.skip(msg) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "[%s] %s\n", t.now().UTC().Format(time.RFC3339), strings.TrimRight(msg, "\n"))
}

// Exception records a failed query.
func (t *Trace) Exception(query string, err error) {
	if err == nil {
		return
	}
	t.Printf("%s\n%s", query, err)
}

// Close closes the underlying file.
func (t *Trace) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer.Close()
}
