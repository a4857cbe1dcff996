// Package cache suppresses repeated bug reports across test rounds.
//
// A bug is reduced to a fingerprint: a BLAKE2b-256 digest of its kind, the
// rule variant that exposed it, the structural shape of the failing query and
// the two diverging values. The most recent fingerprints are held in a
// bounded LRU set, so a long run reports each distinct divergence once while
// memory stays fixed.
//
// Usage:
//
//	fp := cache.New(4096)
//	key := cache.Key("logic", "view-chain", cache.Shape(query), "3", "2")
//	if fp.Seen(key) {
//		return // reported in an earlier round
//	}
package cache

import (
	"encoding/hex"
	"regexp"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"
)

// DefaultSize is used when New is given a non-positive size.
const DefaultSize = 4096

// Fingerprints is a thread-safe bounded set of bug fingerprints.
type Fingerprints struct {
	lru     *lru.Cache[string, struct{}]
	maxSize int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a set holding at most maxSize fingerprints.
func New(maxSize int) *Fingerprints {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	f := &Fingerprints{maxSize: maxSize}
	// size is positive, so construction cannot fail
	f.lru, _ = lru.NewWithEvict[string, struct{}](maxSize, func(string, struct{}) {
		f.evictions.Add(1)
	})
	return f
}

// Key digests parts into a fingerprint. Parts are length-delimited so
// ("ab","c") and ("a","bc") differ.
func Key(parts ...string) string {
	h, _ := blake2b.New256(nil)
	var n [8]byte
	for _, p := range parts {
		l := uint64(len(p))
		for i := range n {
			n[i] = byte(l >> (8 * i))
		}
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

var integerLiteral = regexp.MustCompile(`-?\b\d+\b`)

// Shape replaces integer literals with "?" so queries that differ only in
// sampled ids or synthesized constants share a shape. Symbols such as id12 or
// view3 are kept whole.
func Shape(query string) string {
	return integerLiteral.ReplaceAllStringFunc(query, func(m string) string {
		return "?"
	})
}

// Seen reports whether key is already present, adding it when not.
func (f *Fingerprints) Seen(key string) bool {
	if ok, _ := f.lru.ContainsOrAdd(key, struct{}{}); ok {
		f.lru.Get(key)
		f.hits.Add(1)
		return true
	}
	f.misses.Add(1)
	return false
}

// Stats holds suppression statistics.
type Stats struct {
	Size      int     `json:"size"`       // Current number of fingerprints
	MaxSize   int     `json:"max_size"`   // Capacity
	Hits      uint64  `json:"hits"`       // Suppressed reports
	Misses    uint64  `json:"misses"`     // First-time reports
	Evictions uint64  `json:"evictions"`  // Fingerprints pushed out by newer ones
	HitRate   float64 `json:"hit_rate"`   // Hit percentage (0-100)
}

// Stats returns current statistics.
func (f *Fingerprints) Stats() Stats {
	hits, misses := f.hits.Load(), f.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Size:      f.lru.Len(),
		MaxSize:   f.maxSize,
		Hits:      hits,
		Misses:    misses,
		Evictions: f.evictions.Load(),
		HitRate:   rate,
	}
}
