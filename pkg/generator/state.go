package generator

import (
	"strconv"
	"strings"
)

// State tracks generation complexity for one generator instance.
//
// NodeCount is the current path-length level. Every generated pattern is
// reduced to a path vector (one integer per path position: 0 for an unlabeled
// node, 1+label index otherwise). A novel vector resets Stuck; a repeated one
// increments it. When Stuck reaches 2*NodeCount², the level rises by one and
// the seen set is cleared, so a saturated pattern space at one level can never
// hold the generator in place forever.
//
// State is owned by exactly one generator and is not safe for concurrent use.
type State struct {
	NodeCount int
	Stuck     int
	seen      map[string]struct{}
}

// NewState returns a state starting at level start (minimum 1).
func NewState(start int) *State {
	if start < 1 {
		start = 1
	}
	return &State{NodeCount: start, seen: make(map[string]struct{})}
}

// Threshold is the number of consecutive repeats that escalates the current
// level.
func (s *State) Threshold() int {
	return 2 * s.NodeCount * s.NodeCount
}

// Seen returns how many distinct vectors were observed at the current level.
func (s *State) Seen() int {
	return len(s.seen)
}

// Observe records vector and reports whether the level escalated.
func (s *State) Observe(vector []int) bool {
	key := vectorKey(vector)
	if _, ok := s.seen[key]; !ok {
		s.seen[key] = struct{}{}
		s.Stuck = 0
		return false
	}

	s.Stuck++
	if s.Stuck < s.Threshold() {
		return false
	}
	s.NodeCount++
	s.Stuck = 0
	clear(s.seen)
	return true
}

// Reset returns the state to level start with an empty history.
func (s *State) Reset(start int) {
	if start < 1 {
		start = 1
	}
	s.NodeCount = start
	s.Stuck = 0
	clear(s.seen)
}

func vectorKey(v []int) string {
	var b strings.Builder
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(x))
	}
	return b.String()
}
