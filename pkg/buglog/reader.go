package buglog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"
)

// Query filters bug records.
type Query struct {
	Since time.Time
	Until time.Time
	Kinds []Kind
	RunID string
	Limit int
	// Offset skips the first matches.
	Offset int
}

// QueryResult holds matched records.
type QueryResult struct {
	Records    []Record
	TotalCount int
	HasMore    bool
}

// Reader reads a bug log.
type Reader struct {
	path string
}

// NewReader creates a reader for path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the log and returns matching records in file order. A missing
// file yields no records. Malformed lines are skipped.
func (r *Reader) Query(q Query) (*QueryResult, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &QueryResult{Records: []Record{}}, nil
		}
		return nil, fmt.Errorf("open bug log: %w", err)
	}
	defer file.Close()

	var records []Record
	dec := json.NewDecoder(file)
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				// the decoder cannot resync after a syntax error
				break
			}
			continue
		}
		if !q.Since.IsZero() && rec.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && rec.Timestamp.After(q.Until) {
			continue
		}
		if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, rec.Kind) {
			continue
		}
		if q.RunID != "" && rec.RunID != q.RunID {
			continue
		}
		records = append(records, rec)
	}

	total := len(records)
	if q.Offset > 0 {
		if q.Offset >= len(records) {
			records = nil
		} else {
			records = records[q.Offset:]
		}
	}
	if q.Limit > 0 && len(records) > q.Limit {
		records = records[:q.Limit]
	}
	if records == nil {
		records = []Record{}
	}
	return &QueryResult{
		Records:    records,
		TotalCount: total,
		HasMore:    q.Offset+len(records) < total,
	}, nil
}

// Summary aggregates bug records.
type Summary struct {
	Total       int          `json:"total"`
	ByKind      map[Kind]int `json:"by_kind"`
	Rules       [3]int       `json:"rules"`
	Runs        int          `json:"runs"`
	First       time.Time    `json:"first,omitempty"`
	Last        time.Time    `json:"last,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Summarize aggregates every record matching q, ignoring its pagination.
func (r *Reader) Summarize(q Query) (*Summary, error) {
	q.Limit, q.Offset = 0, 0
	res, err := r.Query(q)
	if err != nil {
		return nil, err
	}
	s := &Summary{
		Total:       res.TotalCount,
		ByKind:      make(map[Kind]int),
		GeneratedAt: time.Now().UTC(),
	}
	runs := make(map[string]bool)
	for _, rec := range res.Records {
		s.ByKind[rec.Kind]++
		for i := range s.Rules {
			s.Rules[i] += rec.Rules[i]
		}
		if rec.RunID != "" {
			runs[rec.RunID] = true
		}
		if s.First.IsZero() || rec.Timestamp.Before(s.First) {
			s.First = rec.Timestamp
		}
		if rec.Timestamp.After(s.Last) {
			s.Last = rec.Timestamp
		}
	}
	s.Runs = len(runs)
	return s, nil
}
