package query

import (
	"encoding/json"
	"sync"

	"github.com/aquamarinepk/repoctx/events"
)

// Sorting is an ordered set of sort rules, unique by name. Adding a name that
// already exists toggles its direction instead of duplicating it.
type Sorting struct {
	mu     sync.RWMutex
	rules  []SortRule
	events events.Channel
}

// NewSorting builds a Sorting from a bulk list, see Load.
func NewSorting(items ...any) *Sorting {
	s := &Sorting{}
	s.Load(items)
	return s
}

// Subscribe registers a handler for the given event, usually EventUpdate.
func (s *Sorting) Subscribe(event string, handler events.Handler) func() {
	return s.events.Subscribe(event, handler)
}

// Sort adds a rule for name, ASC unless a direction is given. When the rule
// already exists the direction argument is ignored and the existing direction
// is toggled. Emits EventUpdate on every call except for an empty name,
// which is ignored.
func (s *Sorting) Sort(name string, direction ...Direction) {
	if name == "" {
		return
	}
	dir := ASC
	if len(direction) > 0 {
		if parsed, ok := ParseDirection(string(direction[0])); ok {
			dir = parsed
		}
	}

	s.mu.Lock()
	s.add(SortRule{Name: name, Direction: dir})
	s.mu.Unlock()

	s.events.Emit(EventUpdate, s)
}

// Invert toggles the direction of an existing rule. It does not emit.
func (s *Sorting) Invert(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invert(name)
}

// Remove drops the rule for name. It does not emit.
func (s *Sorting) Remove(name string) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.rules[:0:0]
	for _, rule := range s.rules {
		if rule.Name != name {
			kept = append(kept, rule)
		}
	}
	s.rules = kept
}

// Reset clears every rule. It does not emit.
func (s *Sorting) Reset() {
	s.mu.Lock()
	s.rules = nil
	s.mu.Unlock()
}

func (s *Sorting) Get(name string) (SortRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.index(name); i >= 0 {
		return s.rules[i], true
	}
	return SortRule{}, false
}

func (s *Sorting) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index(name) >= 0
}

func (s *Sorting) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Rules returns a copy of the rules in insertion order.
func (s *Sorting) Rules() []SortRule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SortRule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Pairs returns the rules as [name, direction] pairs in insertion order.
func (s *Sorting) Pairs() [][2]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][2]string, len(s.rules))
	for i, rule := range s.rules {
		out[i] = [2]string{rule.Name, string(rule.Direction)}
	}
	return out
}

func (s *Sorting) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Rules())
}

// Load bulk adds rules without emitting. Each item may be a SortRule, a
// *SortRule, a [name, direction] pair ([]any, []string or [2]string) or a map
// with "name" and "direction" keys. Malformed items are skipped. Valid items
// follow the same toggle rule as Sort.
func (s *Sorting) Load(items []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if rule, ok := parseSortRule(item); ok {
			s.add(rule)
		}
	}
}

func (s *Sorting) add(rule SortRule) {
	if s.index(rule.Name) >= 0 {
		s.invert(rule.Name)
		return
	}
	s.rules = append(s.rules, rule)
}

func (s *Sorting) invert(name string) {
	if i := s.index(name); i >= 0 {
		s.rules[i].Direction = s.rules[i].Direction.Inverse()
	}
}

func (s *Sorting) index(name string) int {
	for i, rule := range s.rules {
		if rule.Name == name {
			return i
		}
	}
	return -1
}

func parseSortRule(item any) (SortRule, bool) {
	var name, direction string
	switch v := item.(type) {
	case SortRule:
		name, direction = v.Name, string(v.Direction)
	case *SortRule:
		if v == nil {
			return SortRule{}, false
		}
		name, direction = v.Name, string(v.Direction)
	case [2]string:
		name, direction = v[0], v[1]
	case []string:
		if len(v) < 2 {
			return SortRule{}, false
		}
		name, direction = v[0], v[1]
	case []any:
		if len(v) < 2 {
			return SortRule{}, false
		}
		var ok bool
		if name, ok = stringOf(v[0]); !ok {
			return SortRule{}, false
		}
		if direction, ok = stringOf(v[1]); !ok {
			return SortRule{}, false
		}
	case map[string]any:
		var ok bool
		if name, ok = stringOf(v["name"]); !ok {
			return SortRule{}, false
		}
		if direction, ok = stringOf(v["direction"]); !ok {
			return SortRule{}, false
		}
	default:
		return SortRule{}, false
	}

	if name == "" {
		return SortRule{}, false
	}
	dir, ok := ParseDirection(direction)
	if !ok {
		return SortRule{}, false
	}
	return SortRule{Name: name, Direction: dir}, true
}
