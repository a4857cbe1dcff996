package mutator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnbalanced is returned when a query's braces do not nest properly.
var ErrUnbalanced = errors.New("mutator: unbalanced braces")

// Joiner is the keyword sequence that introduced a brace block.
type Joiner string

const (
	JoinNone        Joiner = ""
	JoinExists      Joiner = "EXISTS"
	JoinAndExists   Joiner = "AND EXISTS"
	JoinWhereExists Joiner = "WHERE EXISTS"
)

// Block is one node of the token tree produced by Scan.
//
// Parts holds the block's own text split around its children, so
// len(Parts) == len(Children)+1 and Parts[i] precedes Children[i]. The joiner
// keywords that introduced each child are removed from the preceding part and
// recorded on the child. For JoinWhereExists only EXISTS is removed; the WHERE
// stays in the parent's text.
type Block struct {
	Joiner   Joiner
	Parts    []string
	Children []*Block

	// Start and End are the byte offsets of the opening and closing brace in
	// the scanned query. The root spans the whole query.
	Start, End int
}

// Scan builds the token tree of query with one left-to-right pass and an
// explicit stack. `{` opens a child of the block on top of the stack, `}`
// closes it.
func Scan(query string) (*Block, error) {
	root := &Block{Start: 0, End: len(query)}
	stack := []*Block{root}
	var buf strings.Builder

	for i := 0; i < len(query); i++ {
		switch c := query[i]; c {
		case '{':
			top := stack[len(stack)-1]
			text, joiner := splitJoiner(buf.String())
			buf.Reset()
			top.Parts = append(top.Parts, text)
			child := &Block{Joiner: joiner, Start: i}
			top.Children = append(top.Children, child)
			stack = append(stack, child)
		case '}':
			if len(stack) == 1 {
				return nil, fmt.Errorf("%w: unexpected '}' at offset %d", ErrUnbalanced, i)
			}
			top := stack[len(stack)-1]
			top.Parts = append(top.Parts, normalizeSpace(buf.String()))
			top.End = i
			buf.Reset()
			stack = stack[:len(stack)-1]
		default:
			buf.WriteByte(c)
		}
	}
	if len(stack) != 1 {
		return nil, fmt.Errorf("%w: %d block(s) left open", ErrUnbalanced, len(stack)-1)
	}
	root.Parts = append(root.Parts, normalizeSpace(buf.String()))
	return root, nil
}

// splitJoiner removes a trailing EXISTS keyword sequence from text.
func splitJoiner(text string) (string, Joiner) {
	f := strings.Fields(text)
	n := len(f)
	if n == 0 || f[n-1] != "EXISTS" {
		return strings.Join(f, " "), JoinNone
	}
	switch {
	case n >= 2 && f[n-2] == "AND":
		return strings.Join(f[:n-2], " "), JoinAndExists
	case n >= 2 && f[n-2] == "WHERE":
		return strings.Join(f[:n-1], " "), JoinWhereExists
	default:
		return strings.Join(f[:n-1], " "), JoinExists
	}
}

// Walk visits b and its descendants in pre-order.
func (b *Block) Walk(fn func(*Block)) {
	fn(b)
	for _, c := range b.Children {
		c.Walk(fn)
	}
}

// Count returns the number of blocks in the tree rooted at b, b included.
func (b *Block) Count() int {
	n := 0
	b.Walk(func(*Block) { n++ })
	return n
}

// Text returns the block's own text: children and their joiners removed,
// dangling WHERE/AND keywords dropped, whitespace collapsed.
func (b *Block) Text() string {
	return tidy(strings.Join(b.Parts, " "))
}

// Recompose rebuilds the nested query text from the tree. For any query q
// that Scan accepts, Recompose(Scan(q)) equals q with whitespace collapsed.
func Recompose(b *Block) string {
	var sb strings.Builder
	for i, part := range b.Parts {
		sb.WriteString(" ")
		sb.WriteString(part)
		if i >= len(b.Children) {
			continue
		}
		c := b.Children[i]
		switch c.Joiner {
		case JoinAndExists:
			sb.WriteString(" AND EXISTS")
		case JoinWhereExists, JoinExists:
			sb.WriteString(" EXISTS")
		}
		sb.WriteString(" { ")
		sb.WriteString(Recompose(c))
		sb.WriteString(" }")
	}
	return normalizeSpace(sb.String())
}

// clauseStart marks tokens that begin a new clause; WHERE or AND directly in
// front of one has lost its operand.
var clauseStart = map[string]bool{
	"RETURN": true, "UNION": true, "WITH": true, "ORDER": true, "SKIP": true,
	"LIMIT": true, "MATCH": true, "OPTIONAL": true, "CALL": true, "MERGE": true,
	"CREATE": true, "UNWIND": true,
}

// tidy drops WHERE and AND keywords left without an operand after joiner
// removal, until nothing changes.
func tidy(s string) string {
	f := strings.Fields(s)
	for {
		out := make([]string, 0, len(f))
		for i, tok := range f {
			last := ""
			if len(out) > 0 {
				last = out[len(out)-1]
			}
			next := ""
			if i+1 < len(f) {
				next = f[i+1]
			}
			switch tok {
			case "AND":
				if last == "" || last == "WHERE" || last == "AND" || next == "" || clauseStart[next] {
					continue
				}
			case "WHERE":
				if next == "" || clauseStart[next] {
					continue
				}
			}
			out = append(out, tok)
		}
		if len(out) == len(f) {
			return strings.Join(out, " ")
		}
		f = out
	}
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
