package predicate

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/graphgenie/pkg/schema"
)

func newSynth(seed int64) *Synthesizer {
	return New(rand.New(rand.NewSource(seed)))
}

func TestSynthesize_Boolean(t *testing.T) {
	s := newSynth(1)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		got := s.Synthesize(schema.Boolean, "n.flag")
		require.Contains(t, []string{"n.flag = true", "n.flag = false"}, got)
		seen[got] = true
	}
	assert.Len(t, seen, 2)
}

func TestSynthesize_Integer(t *testing.T) {
	s := newSynth(2)
	for i := 0; i < 100; i++ {
		got := s.Synthesize(schema.Integer, "n.age")
		fields := strings.Fields(got)
		require.Len(t, fields, 3, got)
		assert.Equal(t, "n.age", fields[0])
		assert.Contains(t, Operators, fields[1])
		_, err := strconv.ParseInt(fields[2], 10, 64)
		assert.NoError(t, err, got)
	}
}

func TestSynthesize_Float(t *testing.T) {
	s := newSynth(3)
	for i := 0; i < 100; i++ {
		got := s.Synthesize(schema.Float, "n.score")
		fields := strings.Fields(got)
		require.Len(t, fields, 3, got)
		assert.Contains(t, Operators, fields[1])
		f, err := strconv.ParseFloat(fields[2], 64)
		require.NoError(t, err, got)
		assert.False(t, math.IsInf(f, 0) || math.IsNaN(f))
		assert.GreaterOrEqual(t, math.Abs(f), MinFloat)
		assert.LessOrEqual(t, math.Abs(f), MaxFloat)
	}
}

func TestSynthesize_NullAndNothing(t *testing.T) {
	s := newSynth(4)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		seen[s.Synthesize(schema.Null, "n.x")] = true
	}
	assert.Equal(t, map[string]bool{"n.x IS NULL": true, "n.x IS NOT NULL": true}, seen)
	assert.Equal(t, "n.x IS NOTHING", s.Synthesize(schema.Nothing, "n.x"))
}

func TestSynthesize_UnhandledTypesFallBack(t *testing.T) {
	s := newSynth(5)
	for _, vt := range []schema.ValueType{
		schema.String, schema.Date, schema.LocalTime, schema.ZonedTime, schema.LocalDateTime,
		schema.ZonedDateTime, schema.Duration, schema.Point, schema.NodeType, schema.Relationship, schema.Any,
	} {
		assert.Equal(t, "n.p IS NOT NULL", s.Synthesize(vt, "n.p"), string(vt))
	}
}

func TestFloat64_SpansMagnitudes(t *testing.T) {
	s := newSynth(6)
	var tiny, huge bool
	for i := 0; i < 2000; i++ {
		f := math.Abs(s.Float64())
		tiny = tiny || f < 1e-100
		huge = huge || f > 1e100
	}
	assert.True(t, tiny)
	assert.True(t, huge)
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "1.0", FormatFloat(1))
	assert.Equal(t, "-2.5", FormatFloat(-2.5))
	assert.Equal(t, "1e+300", FormatFloat(1e300))
	assert.Equal(t, "5e-324", FormatFloat(MinFloat))
}

func TestIdentityAndConjunction(t *testing.T) {
	assert.Equal(t, "( id7.id = 7 )", Identity("id7", 7))
	assert.Equal(t, "True", Conjunction(nil))
	assert.Equal(t, "a AND b", Conjunction([]string{"a", "b"}))
}
