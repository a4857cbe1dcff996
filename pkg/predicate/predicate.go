// Package predicate synthesizes WHERE-clause comparisons from a property's
// declared value type.
//
// Coverage is deliberately partial: BOOLEAN, INTEGER, FLOAT, NULL and NOTHING
// get real comparisons; every other type (STRING, the DATE family, DURATION,
// POINT, NODE, RELATIONSHIP, composites) falls back to an `IS NOT NULL`
// existence check so generated queries always stay syntactically valid.
package predicate

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/orneryd/graphgenie/pkg/schema"
	"github.com/orneryd/graphgenie/pkg/storage"
)

// Operators used for numeric comparisons.
var Operators = []string{"=", ">", "<", ">=", "<="}

// Float domain bounds: the smallest positive subnormal and the largest finite
// double.
const (
	MinFloat = 4.9e-324
	MaxFloat = math.MaxFloat64
)

// NothingMarker is appended for properties whose declared type is NOTHING.
const NothingMarker = "IS NOTHING"

// Synthesizer builds predicate expressions. Not safe for concurrent use.
type Synthesizer struct {
	rng *rand.Rand
}

// New returns a synthesizer drawing from rng.
func New(rng *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: rng}
}

// Synthesize returns a comparison of left against a literal of type t.
func (s *Synthesizer) Synthesize(t schema.ValueType, left string) string {
	switch t {
	case schema.Boolean:
		if s.rng.Intn(2) == 0 {
			return left + " = true"
		}
		return left + " = false"
	case schema.Integer:
		return fmt.Sprintf("%s %s %d", left, s.operator(), s.Int64())
	case schema.Float:
		return fmt.Sprintf("%s %s %s", left, s.operator(), FormatFloat(s.Float64()))
	case schema.Null:
		if s.rng.Intn(2) == 0 {
			return left + " IS NOT NULL"
		}
		return left + " IS NULL"
	case schema.Nothing:
		return left + " " + NothingMarker
	default:
		return left + " IS NOT NULL"
	}
}

func (s *Synthesizer) operator() string {
	return Operators[s.rng.Intn(len(Operators))]
}

// Int64 returns a uniform integer over the whole signed 64-bit domain.
func (s *Synthesizer) Int64() int64 {
	return int64(s.rng.Uint64())
}

// Float64 returns a float whose magnitude spans [MinFloat, MaxFloat]: the
// binary exponent is uniform, so tiny and huge values are as likely as
// ordinary ones. The sign is uniform.
func (s *Synthesizer) Float64() float64 {
	const (
		minExp = -1074
		maxExp = 1023
	)
	exp := minExp + s.rng.Intn(maxExp-minExp+1)
	f := math.Ldexp(1+s.rng.Float64(), exp)
	if math.IsInf(f, 0) || f > MaxFloat {
		f = MaxFloat
	}
	if f < MinFloat {
		f = MinFloat
	}
	if s.rng.Intn(2) == 0 {
		f = -f
	}
	return f
}

// FormatFloat renders f as a Cypher float literal that always contains a
// decimal point or exponent, so the engine does not read it as an integer.
func FormatFloat(f float64) string {
	str := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(str, ".eEn") {
		str += ".0"
	}
	return str
}

// Identity returns the predicate pinning symbol to the sampled vertex id,
// e.g. `( id7.id = 7 )`. It is satisfied by exactly the vertex it was built
// from.
func Identity(symbol string, id storage.NodeID) string {
	return fmt.Sprintf("( %s.id = %d )", symbol, id)
}

// Conjunction joins terms with AND. An empty list yields the literal True.
func Conjunction(terms []string) string {
	if len(terms) == 0 {
		return "True"
	}
	return strings.Join(terms, " AND ")
}
