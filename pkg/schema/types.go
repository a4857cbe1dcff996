package schema

import "strings"

// ValueType is the declared type of a node property as reported by Cypher's
// valueType() function, reduced to the tags the predicate synthesizer knows.
type ValueType string

// Value type tags.
const (
	Nothing       ValueType = "NOTHING"
	Null          ValueType = "NULL"
	Boolean       ValueType = "BOOLEAN"
	String        ValueType = "STRING"
	Integer       ValueType = "INTEGER"
	Float         ValueType = "FLOAT"
	Date          ValueType = "DATE"
	LocalTime     ValueType = "LOCAL TIME"
	ZonedTime     ValueType = "ZONED TIME"
	LocalDateTime ValueType = "LOCAL DATETIME"
	ZonedDateTime ValueType = "ZONED DATETIME"
	Duration      ValueType = "DURATION"
	Point         ValueType = "POINT"
	NodeType      ValueType = "NODE"
	Relationship  ValueType = "RELATIONSHIP"
	// Any covers lists, maps, paths, unions and anything unrecognised.
	Any ValueType = "ANY"
)

var knownTypes = map[ValueType]struct{}{
	Nothing: {}, Null: {}, Boolean: {}, String: {}, Integer: {}, Float: {},
	Date: {}, LocalTime: {}, ZonedTime: {}, LocalDateTime: {}, ZonedDateTime: {},
	Duration: {}, Point: {}, NodeType: {}, Relationship: {},
}

// ParseValueType maps a valueType() string such as "INTEGER NOT NULL" or
// "LIST<STRING NOT NULL> NOT NULL" to a tag. Unknown and composite types map
// to Any.
func ParseValueType(s string) ValueType {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, " NOT NULL")
	s = strings.TrimSpace(s)
	if strings.Contains(s, "<") {
		return Any
	}
	// Older servers report "POINT" variants with a CRS suffix.
	if strings.HasPrefix(s, "POINT") {
		return Point
	}
	t := ValueType(s)
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return Any
}

// IsTemporal reports whether t belongs to the DATE family.
func (t ValueType) IsTemporal() bool {
	switch t {
	case Date, LocalTime, ZonedTime, LocalDateTime, ZonedDateTime:
		return true
	}
	return false
}

// QuoteName backticks a label, relationship type or property key that is not
// a plain identifier. Embedded backticks are doubled.
func QuoteName(name string) string {
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return "`" + strings.ReplaceAll(name, "`", "``") + "`"
		}
	}
	if name == "" {
		return "``"
	}
	return name
}
