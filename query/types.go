package query

import (
	"errors"
	"strings"
)

// EventUpdate is emitted by every state container after a mutation that should
// trigger a refetch.
const EventUpdate = "update"

var ErrMissingRepository = errors.New("query: missing repository name")

// Direction is the ordering of a sort rule.
type Direction string

const (
	ASC  Direction = "asc"
	DESC Direction = "desc"
)

// Inverse returns the opposite direction.
func (d Direction) Inverse() Direction {
	if d == ASC {
		return DESC
	}
	return ASC
}

// ParseDirection accepts asc/desc in any case.
func ParseDirection(raw string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ASC):
		return ASC, true
	case string(DESC):
		return DESC, true
	default:
		return "", false
	}
}

// Operator is the comparison applied by a filter rule.
type Operator string

const (
	EQ  Operator = "="
	NE  Operator = "!="
	LT  Operator = "<"
	LTE Operator = "<="
	GT  Operator = ">"
	GTE Operator = ">="
	IN  Operator = "in"
)

var operatorNames = map[string]Operator{
	"=":   EQ,
	"eq":  EQ,
	"!=":  NE,
	"ne":  NE,
	"<":   LT,
	"lt":  LT,
	"<=":  LTE,
	"lte": LTE,
	">":   GT,
	"gt":  GT,
	">=":  GTE,
	"gte": GTE,
	"in":  IN,
}

// ParseOperator accepts both the symbol ("<=") and the name ("LTE") of an
// operator.
func ParseOperator(raw string) (Operator, bool) {
	op, ok := operatorNames[strings.ToLower(strings.TrimSpace(raw))]
	return op, ok
}

// Valid reports whether o is one of the known operators.
func (o Operator) Valid() bool {
	switch o {
	case EQ, NE, LT, LTE, GT, GTE, IN:
		return true
	default:
		return false
	}
}

// SortRule orders results by one field.
type SortRule struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
}

// FilterRule restricts results by comparing one field against a value. The
// value is passed through to providers untouched.
type FilterRule struct {
	Name     string   `json:"name"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Meta is the pagination metadata reported by a provider.
type Meta struct {
	Count        int `json:"count"`
	ItemsPerPage int `json:"itemsPerPage"`
	CurrentPage  int `json:"currentPage"`
}

func stringOf(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case Direction:
		return string(s), true
	case Operator:
		return string(s), true
	default:
		return "", false
	}
}
