package query

import "fmt"

// Builder accumulates a Request for one repository. It owns its Filters and
// Sorting and performs no I/O.
type Builder struct {
	repository string
	filters    *Filters
	sorting    *Sorting
	limit      int
	skip       int
	page       Page
}

// Snapshot is the builder state, including the raw limit/skip hints.
type Snapshot struct {
	Repository string       `json:"repository"`
	Filters    []FilterRule `json:"filters"`
	Sorting    []SortRule   `json:"sorting"`
	Limit      int          `json:"limit,omitempty"`
	Skip       int          `json:"skip,omitempty"`
}

func NewBuilder() *Builder {
	return &Builder{filters: &Filters{}, sorting: &Sorting{}}
}

// From starts a builder bound to repository.
func From(repository string) *Builder {
	return NewBuilder().From(repository)
}

func (b *Builder) From(repository string) *Builder {
	b.repository = repository
	return b
}

func (b *Builder) Where(name string, value any) *Builder {
	b.filters.Where(name, value)
	return b
}

func (b *Builder) WhereOp(name string, op Operator, value any) *Builder {
	b.filters.WhereOp(name, op, value)
	return b
}

func (b *Builder) Sort(name string, direction ...Direction) *Builder {
	b.sorting.Sort(name, direction...)
	return b
}

// Limit caps the number of results. Values below 1 clear the limit.
func (b *Builder) Limit(n int) *Builder {
	if n < 0 {
		n = 0
	}
	b.limit = n
	return b
}

// Skip offsets the results. Only meaningful together with Limit.
func (b *Builder) Skip(n int) *Builder {
	if n < 0 {
		n = 0
	}
	b.skip = n
	return b
}

// Page requests an explicit page window. A Limit set on the builder takes
// precedence.
func (b *Builder) Page(currentPage, itemsPerPage int) *Builder {
	b.page = Page{CurrentPage: currentPage, ItemsPerPage: itemsPerPage}
	return b
}

func (b *Builder) Repository() string {
	return b.repository
}

func (b *Builder) Filters() *Filters {
	return b.filters
}

func (b *Builder) Sorting() *Sorting {
	return b.sorting
}

func (b *Builder) Snapshot() Snapshot {
	return Snapshot{
		Repository: b.repository,
		Filters:    b.filters.Rules(),
		Sorting:    b.sorting.Rules(),
		Limit:      b.limit,
		Skip:       b.skip,
	}
}

// Request consumes the builder. It fails when no repository was set. When
// neither Limit nor Page was used the pagination block is left zero so the
// caller can apply its own default window.
func (b *Builder) Request() (Request, error) {
	if b.repository == "" {
		return Request{}, fmt.Errorf("build request: %w", ErrMissingRepository)
	}

	page := b.page
	if b.limit > 0 {
		page = PageFromLimit(b.limit, b.skip)
	}

	return Request{
		Repository: b.repository,
		State:      NewState(b.filters, b.sorting, page),
	}, nil
}
