package repoctx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aquamarinepk/repoctx/query"
)

// RepositoryConfig names the entity collection and the provider serving it.
type RepositoryConfig struct {
	Name     string
	Provider DataProvider
}

func (c RepositoryConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Provider == nil {
		errs = append(errs, errors.New("data provider is required"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Query is anything that can be turned into a provider request, usually a
// *query.Builder.
type Query interface {
	Request() (query.Request, error)
}

// Store is the contract shared by Repository and every extended variant.
type Store interface {
	Name() string
	Find(ctx context.Context, id string, opts Options) (Entity, error)
	FindAll(ctx context.Context, q Query, opts Options) (Result, error)
	FindBy(ctx context.Context, name string, value any) ([]Entity, error)
	FindByOp(ctx context.Context, name string, op query.Operator, value any) ([]Entity, error)
	Save(ctx context.Context, entity Entity, opts Options) (Entity, error)
	SaveAll(ctx context.Context, entities []Entity, opts Options) error
	Remove(ctx context.Context, id string, opts Options) error
	RemoveAll(ctx context.Context, ids []string, opts Options) error
	CreateContext(name string, opts ...ContextOption) *Context
	GetContext(name string) *Context
	RemoveContext(name string) bool
	UpdateContext(ctx context.Context, c *Context) error
	CreateQuery() *query.Builder
}

var _ Store = (*Repository)(nil)

// Repository fronts a DataProvider for one entity name and keeps the live
// contexts querying it.
type Repository struct {
	name     string
	provider DataProvider

	logger       Logger
	metrics      Metrics
	tracer       Tracer
	errors       ErrorReporter
	itemsPerPage int
	maxPerPage   int

	parent   context.Context
	base     context.Context
	cancel   context.CancelFunc
	inflight sync.WaitGroup

	mu       sync.RWMutex
	contexts map[string]*Context
	closed   bool
}

// New validates cfg and applies opts. Configuration problems are reported as
// ErrInvalidConfig.
func New(cfg RepositoryConfig, opts ...Option) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Repository{
		name:         cfg.Name,
		provider:     cfg.Provider,
		logger:       NewNoopLogger(),
		metrics:      NoopMetrics{},
		tracer:       NoopTracer{},
		errors:       NoopErrorReporter{},
		itemsPerPage: query.DefaultItemsPerPage,
		parent:       context.Background(),
		contexts:     make(map[string]*Context),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	r.logger = r.logger.With("repository", r.name)
	r.base, r.cancel = context.WithCancel(r.parent)
	return r, nil
}

// MustNew is New for package level wiring. It panics on invalid configuration.
func MustNew(cfg RepositoryConfig, opts ...Option) *Repository {
	r, err := New(cfg, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Repository) Name() string {
	return r.name
}

func (r *Repository) Provider() DataProvider {
	return r.provider
}

func (r *Repository) ItemsPerPage() int {
	return r.itemsPerPage
}

// MaxItemsPerPage is the page size cap, 0 when uncapped.
func (r *Repository) MaxItemsPerPage() int {
	return r.maxPerPage
}

// Capabilities reports what the provider advertises. Calls are not gated on
// it.
func (r *Repository) Capabilities() Capabilities {
	return CapabilitiesOf(r.provider)
}

// CreateContext returns the context registered under name, creating and
// wiring it on first use. Options only apply on creation.
func (r *Repository) CreateContext(name string, opts ...ContextOption) *Context {
	r.mu.Lock()
	if c, ok := r.contexts[name]; ok {
		r.mu.Unlock()
		return c
	}
	c := newContext(name, r.itemsPerPage, opts...)
	c.Subscribe(EventUpdate, func(any) { r.refresh(c) })
	r.contexts[name] = c
	r.mu.Unlock()

	r.logger.Debug("context created", "context", name)
	return c
}

// GetContext returns the registered context or nil.
func (r *Repository) GetContext(name string) *Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contexts[name]
}

// RemoveContext detaches and unregisters the context. Fetches still in flight
// for it are discarded when they resolve.
func (r *Repository) RemoveContext(name string) bool {
	r.mu.Lock()
	c, ok := r.contexts[name]
	delete(r.contexts, name)
	r.mu.Unlock()
	if !ok {
		return false
	}
	c.detach()
	r.logger.Debug("context removed", "context", name)
	return true
}

// Contexts lists the registered context names in order.
func (r *Repository) Contexts() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.contexts))
	for name := range r.contexts {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// UpdateContext fetches c's current state and writes the outcome into it. The
// provider error, if any, is also returned.
func (r *Repository) UpdateContext(ctx context.Context, c *Context) error {
	if c == nil {
		return fmt.Errorf("%w: nil context", ErrInvalidArgument)
	}
	if r.isClosed() {
		return ErrClosed
	}
	token, state, ok := c.issue()
	if !ok {
		return fmt.Errorf("%w: %s", ErrContextDetached, c.Name())
	}
	r.issued(ctx, c, token)
	return r.fetch(ctx, c, token, state)
}

// refresh is the event driven path of UpdateContext. The token and state are
// taken before returning; the provider call runs in the background.
func (r *Repository) refresh(c *Context) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.inflight.Add(1)
	r.mu.RUnlock()

	token, state, ok := c.issue()
	if !ok {
		r.inflight.Done()
		return
	}

	r.issued(r.base, c, token)
	go func() {
		defer r.inflight.Done()
		_ = r.fetch(r.base, c, token, state)
	}()
}

func (r *Repository) issued(ctx context.Context, c *Context, token uint64) {
	r.metrics.Counter(ctx, "repoctx.fetch.issued", 1, r.labels(c))
	r.logger.Debug("fetch issued", "context", c.Name(), "token", token)
}

func (r *Repository) fetch(ctx context.Context, c *Context, token uint64, state query.State) error {
	state.Pagination = state.Pagination.Clamp(r.maxPerPage)

	var result Result
	err := r.trace(ctx, "updateContext", func(ctx context.Context) error {
		var err error
		result, err = r.findAll(ctx, r.name, state, nil)
		return err
	})

	if err != nil {
		if !c.reject(token, err) {
			r.discarded(ctx, c, token)
			return err
		}
		r.metrics.Counter(ctx, "repoctx.fetch.failed", 1, r.labels(c))
		r.logger.Error("context refresh failed", "context", c.Name(), "token", token, "error", err)
		r.errors.Report(ctx, err, map[string]any{
			"repository": r.name,
			"context":    c.Name(),
			"token":      token,
		})
		return err
	}

	if !c.resolve(token, result) {
		r.discarded(ctx, c, token)
	}
	return nil
}

func (r *Repository) discarded(ctx context.Context, c *Context, token uint64) {
	r.metrics.Counter(ctx, "repoctx.fetch.stale", 1, r.labels(c))
	r.logger.Debug("stale result discarded", "context", c.Name(), "token", token)
}

func (r *Repository) Find(ctx context.Context, id string, opts Options) (Entity, error) {
	if r.isClosed() {
		return nil, ErrClosed
	}
	var entity Entity
	err := r.trace(ctx, "find", func(ctx context.Context) error {
		var err error
		entity, err = r.provider.Find(ctx, r.name, id, opts)
		return err
	})
	return entity, err
}

// FindAll runs q against the provider. A raw limit on the builder overrides
// its page window; with neither the repository default window applies.
func (r *Repository) FindAll(ctx context.Context, q Query, opts Options) (Result, error) {
	if isNilQuery(q) {
		return Result{}, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	req, err := q.Request()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if r.isClosed() {
		return Result{}, ErrClosed
	}
	req.Pagination = req.Pagination.Normalize(r.itemsPerPage).Clamp(r.maxPerPage)

	var result Result
	err = r.trace(ctx, "findAll", func(ctx context.Context) error {
		var err error
		result, err = r.findAll(ctx, req.Repository, req.State, opts)
		return err
	})
	return result, err
}

// findAll calls the provider, turning a panic into ErrProviderPanic so a
// background refresh cannot take the process down.
func (r *Repository) findAll(ctx context.Context, repository string, state query.State, opts Options) (result Result, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("%w: %v", ErrProviderPanic, v)
		}
	}()
	return r.provider.FindAll(ctx, repository, state, opts)
}

// FindBy returns the entities whose field name equals value.
func (r *Repository) FindBy(ctx context.Context, name string, value any) ([]Entity, error) {
	return r.FindByOp(ctx, name, query.EQ, value)
}

// FindByOp returns the entities matching a single filter. A nil value is
// rejected.
func (r *Repository) FindByOp(ctx context.Context, name string, op query.Operator, value any) ([]Entity, error) {
	if name == "" {
		return nil, ErrMissingFilterName
	}
	if value == nil {
		return nil, ErrMissingFilterValue
	}
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidArgument, op)
	}
	result, err := r.FindAll(ctx, r.WhereOp(name, op, value), nil)
	if err != nil {
		return nil, err
	}
	return result.Data, nil
}

func (r *Repository) Save(ctx context.Context, entity Entity, opts Options) (Entity, error) {
	if entity == nil {
		return nil, fmt.Errorf("%w: nil entity", ErrInvalidArgument)
	}
	if r.isClosed() {
		return nil, ErrClosed
	}
	var saved Entity
	err := r.trace(ctx, "save", func(ctx context.Context) error {
		var err error
		saved, err = r.provider.Save(ctx, r.name, entity, opts)
		return err
	})
	return saved, err
}

// SaveAll requires a non-empty batch without nil entities. Validation fails
// before the provider is reached.
func (r *Repository) SaveAll(ctx context.Context, entities []Entity, opts Options) error {
	if len(entities) == 0 {
		return fmt.Errorf("%w: saveAll needs at least one entity", ErrInvalidArgument)
	}
	if i := slices.IndexFunc(entities, func(e Entity) bool { return e == nil }); i >= 0 {
		return fmt.Errorf("%w: entity at index %d is nil", ErrInvalidArgument, i)
	}
	if r.isClosed() {
		return ErrClosed
	}
	return r.trace(ctx, "saveAll", func(ctx context.Context) error {
		return r.provider.SaveAll(ctx, r.name, entities, opts)
	})
}

func (r *Repository) Remove(ctx context.Context, id string, opts Options) error {
	if r.isClosed() {
		return ErrClosed
	}
	return r.trace(ctx, "remove", func(ctx context.Context) error {
		return r.provider.Remove(ctx, r.name, id, opts)
	})
}

// RemoveAll requires a non-empty batch of non-empty ids.
func (r *Repository) RemoveAll(ctx context.Context, ids []string, opts Options) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: removeAll needs at least one id", ErrInvalidArgument)
	}
	if i := slices.Index(ids, ""); i >= 0 {
		return fmt.Errorf("%w: id at index %d is empty", ErrInvalidArgument, i)
	}
	if r.isClosed() {
		return ErrClosed
	}
	return r.trace(ctx, "removeAll", func(ctx context.Context) error {
		return r.provider.RemoveAll(ctx, r.name, ids, opts)
	})
}

// CreateQuery returns a builder bound to this repository.
func (r *Repository) CreateQuery() *query.Builder {
	return query.From(r.name)
}

// Where returns a bound builder with one equality filter applied.
func (r *Repository) Where(name string, value any) *query.Builder {
	return r.CreateQuery().Where(name, value)
}

func (r *Repository) WhereOp(name string, op query.Operator, value any) *query.Builder {
	return r.CreateQuery().WhereOp(name, op, value)
}

// Wait blocks until every background fetch has settled.
func (r *Repository) Wait() {
	r.inflight.Wait()
}

// Close detaches every context, cancels the fetches in flight and waits for
// them. Later calls fail with ErrClosed.
func (r *Repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	contexts := r.contexts
	r.contexts = make(map[string]*Context)
	r.mu.Unlock()

	for _, c := range contexts {
		c.detach()
	}
	r.cancel()
	r.inflight.Wait()
	r.logger.Debug("repository closed")
	return nil
}

func (r *Repository) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Repository) trace(ctx context.Context, op string, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := r.tracer.Start(ctx, "repoctx."+op, map[string]any{"repository": r.name})
	err := fn(ctx)
	span.End(err)
	return err
}

func (r *Repository) labels(c *Context) map[string]string {
	return map[string]string{"repository": r.name, "context": c.Name()}
}

func isNilQuery(q Query) bool {
	if q == nil {
		return true
	}
	b, ok := q.(*query.Builder)
	return ok && b == nil
}
