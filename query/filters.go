package query

import (
	"encoding/json"
	"sync"

	"github.com/aquamarinepk/repoctx/events"
)

// Filters is a set of filter rules, unique by name. Adding a name that already
// exists replaces the previous rule in place.
type Filters struct {
	mu     sync.RWMutex
	rules  []FilterRule
	events events.Channel
}

// NewFilters builds a Filters from a bulk list, see Import.
func NewFilters(items ...any) *Filters {
	f := &Filters{}
	f.Import(items)
	return f
}

// Subscribe registers a handler for the given event, usually EventUpdate.
func (f *Filters) Subscribe(event string, handler events.Handler) func() {
	return f.events.Subscribe(event, handler)
}

// Where sets an EQ filter for name and emits EventUpdate.
func (f *Filters) Where(name string, value any) {
	f.WhereOp(name, EQ, value)
}

// WhereOp sets a filter for name with an explicit operator and emits
// EventUpdate. Unknown operators and empty names are ignored.
func (f *Filters) WhereOp(name string, op Operator, value any) {
	if name == "" {
		return
	}
	parsed, ok := ParseOperator(string(op))
	if !ok {
		return
	}

	f.mu.Lock()
	f.set(FilterRule{Name: name, Operator: parsed, Value: value})
	f.mu.Unlock()

	f.events.Emit(EventUpdate, f)
}

func (f *Filters) Get(name string) (FilterRule, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.index(name); i >= 0 {
		return f.rules[i], true
	}
	return FilterRule{}, false
}

func (f *Filters) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.index(name) >= 0
}

func (f *Filters) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rules)
}

// Remove drops the rule for name. It does not emit.
func (f *Filters) Remove(name string) {
	if name == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	kept := f.rules[:0:0]
	for _, rule := range f.rules {
		if rule.Name != name {
			kept = append(kept, rule)
		}
	}
	f.rules = kept
}

// Reset clears every rule. It does not emit.
func (f *Filters) Reset() {
	f.mu.Lock()
	f.rules = nil
	f.mu.Unlock()
}

// Rules returns a copy of the rules.
func (f *Filters) Rules() []FilterRule {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]FilterRule, len(f.rules))
	copy(out, f.rules)
	return out
}

// Triplets returns the rules as [name, operator, value] triplets.
func (f *Filters) Triplets() [][3]any {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([][3]any, len(f.rules))
	for i, rule := range f.rules {
		out[i] = [3]any{rule.Name, rule.Operator, rule.Value}
	}
	return out
}

func (f *Filters) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Rules())
}

// Import bulk adds rules without emitting. Each item may be a FilterRule, a
// *FilterRule, a [name, operator, value] triplet ([]any or [3]any) or a map
// with "name", "operator" and "value" keys. Malformed items are skipped.
func (f *Filters) Import(items []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range items {
		if rule, ok := parseFilterRule(item); ok {
			f.set(rule)
		}
	}
}

func (f *Filters) set(rule FilterRule) {
	if i := f.index(rule.Name); i >= 0 {
		f.rules[i] = rule
		return
	}
	f.rules = append(f.rules, rule)
}

func (f *Filters) index(name string) int {
	for i, rule := range f.rules {
		if rule.Name == name {
			return i
		}
	}
	return -1
}

func parseFilterRule(item any) (FilterRule, bool) {
	var (
		name  string
		op    string
		value any
		ok    bool
	)
	switch v := item.(type) {
	case FilterRule:
		name, op, value = v.Name, string(v.Operator), v.Value
	case *FilterRule:
		if v == nil {
			return FilterRule{}, false
		}
		name, op, value = v.Name, string(v.Operator), v.Value
	case [3]any:
		if name, ok = stringOf(v[0]); !ok {
			return FilterRule{}, false
		}
		if op, ok = stringOf(v[1]); !ok {
			return FilterRule{}, false
		}
		value = v[2]
	case []any:
		if len(v) < 3 {
			return FilterRule{}, false
		}
		if name, ok = stringOf(v[0]); !ok {
			return FilterRule{}, false
		}
		if op, ok = stringOf(v[1]); !ok {
			return FilterRule{}, false
		}
		value = v[2]
	case map[string]any:
		if name, ok = stringOf(v["name"]); !ok {
			return FilterRule{}, false
		}
		if op, ok = stringOf(v["operator"]); !ok {
			return FilterRule{}, false
		}
		if value, ok = v["value"]; !ok {
			return FilterRule{}, false
		}
	default:
		return FilterRule{}, false
	}

	if name == "" {
		return FilterRule{}, false
	}
	parsed, ok := ParseOperator(op)
	if !ok {
		return FilterRule{}, false
	}
	return FilterRule{Name: name, Operator: parsed, Value: value}, true
}
