package repoctx

import (
	"encoding/json"
	"sync"

	"github.com/aquamarinepk/repoctx/events"
	"github.com/aquamarinepk/repoctx/query"
)

// Context events. EventUpdate fires when the query state changes; the owning
// Repository listens to it and refetches. The result events never trigger a
// refetch.
const (
	EventUpdate  = query.EventUpdate
	EventLoading = "loading"
	EventData    = "data"
	EventError   = "error"
)

// Status is the fetch state of a Context.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusFailed:
		return "error"
	default:
		return "idle"
	}
}

// Context is a named, live query session. It owns its filters, sorting and
// pagination, republishes their changes as EventUpdate and holds the latest
// result written by its Repository.
type Context struct {
	name       string
	filters    *query.Filters
	sorting    *query.Sorting
	pagination *query.Pagination
	events     events.Channel
	unsubs     []func()

	mu       sync.RWMutex
	data     []Entity
	err      error
	status   Status
	issued   uint64
	detached bool
}

// ContextOption seeds a Context before it is wired to its Repository.
type ContextOption func(*Context)

// WithFilters bulk loads filter rules, see query.Filters.Import.
func WithFilters(items ...any) ContextOption {
	return func(c *Context) {
		c.filters.Import(items)
	}
}

// WithSorting bulk loads sort rules, see query.Sorting.Load.
func WithSorting(items ...any) ContextOption {
	return func(c *Context) {
		c.sorting.Load(items)
	}
}

// WithPage sets the initial page window.
func WithPage(currentPage, itemsPerPage int) ContextOption {
	return func(c *Context) {
		c.pagination = query.NewPagination(currentPage, itemsPerPage)
	}
}

func newContext(name string, itemsPerPage int, opts ...ContextOption) *Context {
	c := &Context{
		name:       name,
		filters:    &query.Filters{},
		sorting:    &query.Sorting{},
		pagination: query.NewPagination(1, itemsPerPage),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	forward := func(any) { c.events.Emit(EventUpdate, c) }
	c.unsubs = []func(){
		c.filters.Subscribe(query.EventUpdate, forward),
		c.sorting.Subscribe(query.EventUpdate, forward),
		c.pagination.Subscribe(query.EventUpdate, forward),
	}
	return c
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Filters() *query.Filters {
	return c.filters
}

func (c *Context) Sorting() *query.Sorting {
	return c.sorting
}

func (c *Context) Pagination() *query.Pagination {
	return c.pagination
}

// Subscribe registers a handler for one of the Context events. Handlers receive
// the Context as payload.
func (c *Context) Subscribe(event string, handler events.Handler) func() {
	return c.events.Subscribe(event, handler)
}

// Initialize forces a fetch with the current state.
func (c *Context) Initialize() {
	c.events.Emit(EventUpdate, c)
}

// Refresh refetches with unchanged state.
func (c *Context) Refresh() {
	c.Initialize()
}

// State is the query a provider receives for this Context.
func (c *Context) State() query.State {
	return query.NewState(c.filters, c.sorting, c.pagination.Page())
}

func (c *Context) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.State())
}

// Data returns the last successfully fetched entities, nil before the first.
func (c *Context) Data() []Entity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

// Err returns the last provider failure, cleared by the next success.
func (c *Context) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

func (c *Context) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status == StatusLoading
}

func (c *Context) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Meta returns count, page size and current page.
func (c *Context) Meta() query.Meta {
	return c.pagination.Snapshot()
}

// Detached reports whether the Context was removed from its Repository.
func (c *Context) Detached() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.detached
}

// issue hands out the token for a new fetch and snapshots the state it must
// run with. Only the holder of the latest token may write a result.
func (c *Context) issue() (uint64, query.State, bool) {
	state := c.State()

	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return 0, query.State{}, false
	}
	c.issued++
	token := c.issued
	c.status = StatusLoading
	c.mu.Unlock()

	c.events.Emit(EventLoading, c)
	return token, state, true
}

func (c *Context) resolve(token uint64, result Result) bool {
	c.mu.Lock()
	if c.detached || token != c.issued {
		c.mu.Unlock()
		return false
	}
	c.data = result.Data
	c.err = nil
	c.status = StatusIdle
	c.pagination.Apply(result.Meta)
	c.mu.Unlock()

	c.events.Emit(EventData, c)
	return true
}

func (c *Context) reject(token uint64, err error) bool {
	c.mu.Lock()
	if c.detached || token != c.issued {
		c.mu.Unlock()
		return false
	}
	c.err = err
	c.status = StatusFailed
	c.mu.Unlock()

	c.events.Emit(EventError, c)
	return true
}

// detach stops event forwarding and makes every pending result stale.
func (c *Context) detach() {
	c.mu.Lock()
	if c.detached {
		c.mu.Unlock()
		return
	}
	c.detached = true
	c.status = StatusIdle
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	c.events.Clear()
}
