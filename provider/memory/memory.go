// Package memory is a DataProvider keeping documents in process. Filters,
// sorting and paging are evaluated over the stored maps, which makes it the
// reference provider for tests and the default for the server binary.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/google/uuid"
)

type Option func(*Provider)

// WithIDGenerator replaces the uuid generator used for entities saved
// without an id.
func WithIDGenerator(fn func() string) Option {
	return func(p *Provider) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// WithItemsPerPage sets the page size used when a query carries none.
func WithItemsPerPage(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.itemsPerPage = n
		}
	}
}

type collection struct {
	order []string
	items map[string]repoctx.Entity
}

type Provider struct {
	mu           sync.RWMutex
	collections  map[string]*collection
	newID        func() string
	itemsPerPage int
}

var _ repoctx.DataProvider = (*Provider)(nil)

func New(opts ...Option) *Provider {
	p := &Provider{
		collections:  make(map[string]*collection),
		newID:        uuid.NewString,
		itemsPerPage: query.DefaultItemsPerPage,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) Find(ctx context.Context, repository, id string, _ repoctx.Options) (repoctx.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.collections[repository]
	if !ok {
		return nil, notFound(repository, id)
	}
	entity, ok := c.items[id]
	if !ok {
		return nil, notFound(repository, id)
	}
	return entity.Clone(), nil
}

// FindAll filters, sorts and pages in that order. Meta.Count is the number
// of matches before paging.
func (p *Provider) FindAll(ctx context.Context, repository string, state query.State, _ repoctx.Options) (repoctx.Result, error) {
	if err := ctx.Err(); err != nil {
		return repoctx.Result{}, err
	}
	for _, rule := range state.Filters {
		if !rule.Operator.Valid() {
			return repoctx.Result{}, fmt.Errorf("%w: unknown operator %q", repoctx.ErrInvalidQuery, rule.Operator)
		}
	}

	p.mu.RLock()
	matched := make([]repoctx.Entity, 0)
	if c, ok := p.collections[repository]; ok {
		for _, id := range c.order {
			entity := c.items[id]
			if Matches(entity, state.Filters) {
				matched = append(matched, entity.Clone())
			}
		}
	}
	p.mu.RUnlock()

	if len(state.Sorting) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return Less(matched[i], matched[j], state.Sorting)
		})
	}

	page := state.Pagination.Normalize(p.itemsPerPage)
	total := len(matched)
	start, end := page.Bounds(total)

	return repoctx.Result{
		Data: matched[start:end],
		Meta: query.Meta{
			Count:        total,
			ItemsPerPage: page.ItemsPerPage,
			CurrentPage:  page.CurrentPage,
		},
	}, nil
}

// Save upserts by id, generating one when missing. The stored copy is
// returned.
func (p *Provider) Save(ctx context.Context, repository string, entity repoctx.Entity, _ repoctx.Options) (repoctx.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", repoctx.ErrInvalidArgument)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.save(repository, entity).Clone(), nil
}

// SaveAll stores every entity under one lock.
func (p *Provider) SaveAll(ctx context.Context, repository string, entities []repoctx.Entity, _ repoctx.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, entity := range entities {
		if entity == nil {
			return fmt.Errorf("%w: entity at index %d is nil", repoctx.ErrInvalidArgument, i)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entity := range entities {
		p.save(repository, entity)
	}
	return nil
}

func (p *Provider) Remove(ctx context.Context, repository, id string, _ repoctx.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[repository]
	if !ok || !c.remove(id) {
		return notFound(repository, id)
	}
	return nil
}

// RemoveAll deletes nothing unless every id exists.
func (p *Provider) RemoveAll(ctx context.Context, repository string, ids []string, _ repoctx.Options) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[repository]
	for _, id := range ids {
		if !ok {
			return notFound(repository, id)
		}
		if _, exists := c.items[id]; !exists {
			return notFound(repository, id)
		}
	}
	for _, id := range ids {
		c.remove(id)
	}
	return nil
}

// Len reports how many entities a repository holds.
func (p *Provider) Len(repository string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if c, ok := p.collections[repository]; ok {
		return len(c.items)
	}
	return 0
}

// Reset drops every repository.
func (p *Provider) Reset() {
	p.mu.Lock()
	p.collections = make(map[string]*collection)
	p.mu.Unlock()
}

func (p *Provider) save(repository string, entity repoctx.Entity) repoctx.Entity {
	c, ok := p.collections[repository]
	if !ok {
		c = &collection{items: make(map[string]repoctx.Entity)}
		p.collections[repository] = c
	}
	stored := entity.Clone()
	id := stored.ID()
	if id == "" {
		id = p.newID()
	}
	stored[repoctx.IDKey] = id
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = stored
	return stored
}

func (c *collection) remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func notFound(repository, id string) error {
	return fmt.Errorf("%w: %s/%s", repoctx.ErrNotFound, repository, id)
}
