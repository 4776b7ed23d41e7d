package memory

import (
	"cmp"
	"reflect"
	"strings"
	"time"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
)

// Matches reports whether entity satisfies every filter. Names may be dotted
// paths into nested maps. A missing field reads as nil.
func Matches(entity repoctx.Entity, filters []query.FilterRule) bool {
	for _, rule := range filters {
		if !match(Lookup(entity, rule.Name), rule.Operator, rule.Value) {
			return false
		}
	}
	return true
}

// Less orders a before b by the sort rules in priority order. Values that
// cannot be compared keep their relative order; nil sorts first.
func Less(a, b repoctx.Entity, rules []query.SortRule) bool {
	for _, rule := range rules {
		c := order(Lookup(a, rule.Name), Lookup(b, rule.Name))
		if c == 0 {
			continue
		}
		if rule.Direction == query.DESC {
			return c > 0
		}
		return c < 0
	}
	return false
}

// Lookup resolves a dotted path.
func Lookup(entity repoctx.Entity, path string) any {
	var current any = map[string]any(entity)
	for _, part := range strings.Split(path, ".") {
		switch m := current.(type) {
		case map[string]any:
			current = m[part]
		case repoctx.Entity:
			current = m[part]
		default:
			return nil
		}
	}
	return current
}

func match(actual any, op query.Operator, expected any) bool {
	switch op {
	case query.EQ:
		return equal(actual, expected)
	case query.NE:
		return !equal(actual, expected)
	case query.LT, query.LTE, query.GT, query.GTE:
		c, ok := compare(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case query.LT:
			return c < 0
		case query.LTE:
			return c <= 0
		case query.GT:
			return c > 0
		default:
			return c >= 0
		}
	case query.IN:
		return contains(expected, actual)
	}
	return false
}

func contains(list, value any) bool {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return equal(value, list)
	}
	for i := 0; i < rv.Len(); i++ {
		if equal(value, rv.Index(i).Interface()) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare handles numbers of any width, strings, bools and times.
func compare(a, b any) (int, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			return cmp.Compare(x, y), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y), true
		}
	case bool:
		if y, ok := b.(bool); ok {
			return cmp.Compare(boolRank(x), boolRank(y)), true
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y), true
		}
	}
	return 0, false
}

// order is compare extended to a total order for sorting.
func order(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := compare(a, b)
	return c
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
