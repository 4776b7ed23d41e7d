package repoctx

import (
	"context"
	"fmt"
	"sort"
)

// Behavior is a named operation added to a repository variant.
type Behavior func(ctx context.Context, r *Repository, args ...any) (any, error)

// Behaviors maps behavior names to implementations.
type Behaviors map[string]Behavior

// Factory builds a repository variant carrying a fixed set of behaviors.
type Factory func(cfg RepositoryConfig, opts ...Option) (*Extended, error)

// Extended is a Repository plus extra behaviors. It satisfies Store, so it
// can stand in for a plain Repository anywhere.
type Extended struct {
	*Repository
	behaviors Behaviors
}

var _ Store = (*Extended)(nil)

// Extend returns a factory for repositories carrying behaviors. Nil entries
// are dropped.
func Extend(behaviors Behaviors) Factory {
	own := make(Behaviors, len(behaviors))
	for name, fn := range behaviors {
		if fn != nil {
			own[name] = fn
		}
	}
	return func(cfg RepositoryConfig, opts ...Option) (*Extended, error) {
		r, err := New(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return &Extended{Repository: r, behaviors: own}, nil
	}
}

// Extend derives a factory with more behaviors. Later names override earlier
// ones.
func (f Factory) Extend(behaviors Behaviors) Factory {
	return func(cfg RepositoryConfig, opts ...Option) (*Extended, error) {
		base, err := f(cfg, opts...)
		if err != nil {
			return nil, err
		}
		merged := make(Behaviors, len(base.behaviors)+len(behaviors))
		for name, fn := range base.behaviors {
			merged[name] = fn
		}
		for name, fn := range behaviors {
			if fn != nil {
				merged[name] = fn
			}
		}
		base.behaviors = merged
		return base, nil
	}
}

func (e *Extended) Behavior(name string) (Behavior, bool) {
	fn, ok := e.behaviors[name]
	return fn, ok
}

// Behaviors lists the behavior names in order.
func (e *Extended) Behaviors() []string {
	names := make([]string, 0, len(e.behaviors))
	for name := range e.behaviors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call runs the named behavior against the underlying repository.
func (e *Extended) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := e.behaviors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBehavior, name)
	}
	return fn(ctx, e.Repository, args...)
}
