package query

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/aquamarinepk/repoctx/events"
)

const DefaultItemsPerPage = 10

// Page is the window a client requests.
type Page struct {
	CurrentPage  int `json:"currentPage"`
	ItemsPerPage int `json:"itemsPerPage"`
}

// PageFromLimit converts the limit/skip idiom into a page window.
func PageFromLimit(limit, skip int) Page {
	if limit < 1 {
		limit = DefaultItemsPerPage
	}
	if skip < 0 {
		skip = 0
	}
	return Page{CurrentPage: skip/limit + 1, ItemsPerPage: limit}
}

// Offset is the number of items before the window. It saturates at
// math.MaxInt instead of overflowing.
func (p Page) Offset() int {
	if p.CurrentPage < 1 || p.ItemsPerPage < 1 {
		return 0
	}
	if p.CurrentPage-1 > math.MaxInt/p.ItemsPerPage {
		return math.MaxInt
	}
	return (p.CurrentPage - 1) * p.ItemsPerPage
}

// Bounds returns the slice indexes of the window over total items. Both are
// within [0, total] for any page.
func (p Page) Bounds(total int) (start, end int) {
	if total <= 0 {
		return 0, 0
	}
	start = min(p.Offset(), total)
	end = start + min(max(p.Limit(), 0), total-start)
	return start, end
}

// Clamp caps ItemsPerPage at limit. A limit below 1 leaves p unchanged.
func (p Page) Clamp(limit int) Page {
	if limit >= 1 && p.ItemsPerPage > limit {
		p.ItemsPerPage = limit
	}
	return p
}

// Limit is the window size.
func (p Page) Limit() int {
	return p.ItemsPerPage
}

// IsZero reports whether no window was requested.
func (p Page) IsZero() bool {
	return p.CurrentPage == 0 && p.ItemsPerPage == 0
}

// Normalize fills missing fields with page 1 and the given size.
func (p Page) Normalize(itemsPerPage int) Page {
	if itemsPerPage < 1 {
		itemsPerPage = DefaultItemsPerPage
	}
	if p.ItemsPerPage < 1 {
		p.ItemsPerPage = itemsPerPage
	}
	if p.CurrentPage < 1 {
		p.CurrentPage = 1
	}
	return p
}

// Pagination holds the requested window plus the server reported total.
type Pagination struct {
	mu           sync.RWMutex
	currentPage  int
	itemsPerPage int
	count        int
	events       events.Channel
}

// NewPagination starts at the given page and size. Values below 1 become 1
// and DefaultItemsPerPage respectively.
func NewPagination(currentPage, itemsPerPage int) *Pagination {
	p := Page{CurrentPage: currentPage, ItemsPerPage: itemsPerPage}.Normalize(DefaultItemsPerPage)
	return &Pagination{currentPage: p.CurrentPage, itemsPerPage: p.ItemsPerPage}
}

// Subscribe registers a handler for the given event, usually EventUpdate.
func (p *Pagination) Subscribe(event string, handler events.Handler) func() {
	return p.events.Subscribe(event, handler)
}

// SetPage moves to page n and emits EventUpdate when the page changed.
func (p *Pagination) SetPage(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	changed := p.currentPage != n
	p.currentPage = n
	p.mu.Unlock()

	if changed {
		p.events.Emit(EventUpdate, p)
	}
}

// SetItemsPerPage changes the window size and emits EventUpdate when it changed.
func (p *Pagination) SetItemsPerPage(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	changed := p.itemsPerPage != n
	p.itemsPerPage = n
	p.mu.Unlock()

	if changed {
		p.events.Emit(EventUpdate, p)
	}
}

// Next advances one page unless the last known page is already shown.
func (p *Pagination) Next() {
	p.mu.RLock()
	page, pages := p.currentPage, p.pages()
	p.mu.RUnlock()

	if pages > 0 && page >= pages {
		return
	}
	p.SetPage(page + 1)
}

// Previous goes back one page, stopping at page 1.
func (p *Pagination) Previous() {
	p.mu.RLock()
	page := p.currentPage
	p.mu.RUnlock()

	if page <= 1 {
		return
	}
	p.SetPage(page - 1)
}

// Apply writes provider metadata. It does not emit; zero fields leave the
// current value in place except for count.
func (p *Pagination) Apply(meta Meta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count = meta.Count
	if p.count < 0 {
		p.count = 0
	}
	if meta.ItemsPerPage >= 1 {
		p.itemsPerPage = meta.ItemsPerPage
	}
	if meta.CurrentPage >= 1 {
		p.currentPage = meta.CurrentPage
	}
}

// Page returns the requested window.
func (p *Pagination) Page() Page {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Page{CurrentPage: p.currentPage, ItemsPerPage: p.itemsPerPage}
}

func (p *Pagination) CurrentPage() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentPage
}

func (p *Pagination) ItemsPerPage() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.itemsPerPage
}

func (p *Pagination) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.count
}

// Pages is the number of pages implied by count, 0 while count is unknown.
func (p *Pagination) Pages() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pages()
}

// Snapshot returns count, size and page together.
func (p *Pagination) Snapshot() Meta {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Meta{Count: p.count, ItemsPerPage: p.itemsPerPage, CurrentPage: p.currentPage}
}

func (p *Pagination) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Snapshot())
}

func (p *Pagination) pages() int {
	if p.itemsPerPage < 1 || p.count <= 0 {
		return 0
	}
	return (p.count + p.itemsPerPage - 1) / p.itemsPerPage
}
