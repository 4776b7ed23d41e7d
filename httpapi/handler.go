package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 4 << 20

var collectionPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// Handler serves a DataProvider over HTTP. Each collection path segment is
// served by its own Repository, created on first use.
type Handler struct {
	provider repoctx.DataProvider
	logger   repoctx.Logger
	options  []repoctx.Option
	maxPage  int

	mu    sync.Mutex
	repos map[string]*repoctx.Repository
}

type HandlerOption func(*Handler)

func WithHandlerLogger(logger repoctx.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRepositoryOptions are applied to every repository the handler creates.
func WithRepositoryOptions(opts ...repoctx.Option) HandlerOption {
	return func(h *Handler) {
		h.options = append(h.options, opts...)
	}
}

// WithMaxItemsPerPage rejects list requests asking for more than n items.
// Zero disables the check.
func WithMaxItemsPerPage(n int) HandlerOption {
	return func(h *Handler) {
		if n >= 0 {
			h.maxPage = n
		}
	}
}

func NewHandler(provider repoctx.DataProvider, opts ...HandlerOption) (*Handler, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: provider is required", repoctx.ErrInvalidConfig)
	}
	h := &Handler{
		provider: provider,
		logger:   repoctx.NewNoopLogger(),
		repos:    map[string]*repoctx.Repository{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// RegisterRoutes mounts the collection routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/{collection}", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Delete("/", h.removeAll)
		r.Post("/batch", h.saveAll)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.remove)
	})
}

// Repositories lists the collections served so far.
func (h *Handler) Repositories() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.repos))
	for name := range h.repos {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes every repository the handler created.
func (h *Handler) Close() error {
	h.mu.Lock()
	repos := h.repos
	h.repos = map[string]*repoctx.Repository{}
	h.mu.Unlock()

	for _, repo := range repos {
		_ = repo.Close()
	}
	return nil
}

func (h *Handler) repository(r *http.Request) (*repoctx.Repository, error) {
	name := chi.URLParam(r, "collection")
	if !collectionPattern.MatchString(name) {
		return nil, fmt.Errorf("%w: bad collection %q", repoctx.ErrInvalidArgument, name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if repo, ok := h.repos[name]; ok {
		return repo, nil
	}
	opts := append([]repoctx.Option{repoctx.WithLogger(h.logger)}, h.options...)
	repo, err := repoctx.New(repoctx.RepositoryConfig{Name: name, Provider: h.provider}, opts...)
	if err != nil {
		return nil, err
	}
	h.repos[name] = repo
	return repo, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	state, err := parseState(r, h.maxPage)
	if err != nil {
		RespondFailure(w, err)
		return
	}

	result, err := repo.FindAll(r.Context(), stateQuery{Repository: repo.Name(), State: state}, nil)
	if err != nil {
		h.fail(w, r, "list", err)
		return
	}
	data := result.Data
	if data == nil {
		data = []repoctx.Entity{}
	}
	Respond(w, http.StatusOK, data, result.Meta, PageLinks(r.URL.Path, result.Meta)...)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	entity, err := repo.Find(r.Context(), chi.URLParam(r, "id"), nil)
	if err != nil {
		h.fail(w, r, "get", err)
		return
	}
	Respond(w, http.StatusOK, entity, nil)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, "", http.StatusCreated)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.save(w, r, chi.URLParam(r, "id"), http.StatusOK)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request, id string, status int) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	var entity repoctx.Entity
	if err := decodeBody(w, r, &entity); err != nil {
		RespondFailure(w, err)
		return
	}
	if entity == nil {
		RespondFailure(w, fmt.Errorf("%w: entity body is required", repoctx.ErrInvalidArgument))
		return
	}
	if id != "" {
		entity[repoctx.IDKey] = id
	}

	saved, err := repo.Save(r.Context(), entity, nil)
	if err != nil {
		h.fail(w, r, "save", err)
		return
	}
	Respond(w, status, saved, nil, Link{Rel: RelSelf, Href: ItemPath(repo.Name(), saved.ID())})
}

// BatchRequest is the body of a batch save.
type BatchRequest struct {
	Data []repoctx.Entity `json:"data"`
}

// RemoveRequest is the body of a bulk removal.
type RemoveRequest struct {
	IDs []string `json:"ids"`
}

func (h *Handler) saveAll(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		RespondFailure(w, err)
		return
	}
	if err := repo.SaveAll(r.Context(), req.Data, nil); err != nil {
		h.fail(w, r, "saveAll", err)
		return
	}
	Respond(w, http.StatusNoContent, nil, nil)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	if err := repo.Remove(r.Context(), chi.URLParam(r, "id"), nil); err != nil {
		h.fail(w, r, "remove", err)
		return
	}
	Respond(w, http.StatusNoContent, nil, nil)
}

func (h *Handler) removeAll(w http.ResponseWriter, r *http.Request) {
	repo, err := h.repository(r)
	if err != nil {
		RespondFailure(w, err)
		return
	}
	var req RemoveRequest
	if err := decodeBody(w, r, &req); err != nil {
		RespondFailure(w, err)
		return
	}
	if err := repo.RemoveAll(r.Context(), req.IDs, nil); err != nil {
		h.fail(w, r, "removeAll", err)
		return
	}
	Respond(w, http.StatusNoContent, nil, nil)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"op", op,
			"collection", chi.URLParam(r, "collection"),
			"request_id", RequestIDFrom(r.Context()),
			"error", err,
		)
	}
	RespondFailure(w, err)
}

// stateQuery adapts a decoded state to repoctx.Query.
type stateQuery query.Request

func (q stateQuery) Request() (query.Request, error) {
	return query.Request(q), nil
}

// parseState reads the JSON state from ?q= and lets ?page= and ?per_page=
// override its window. A window above maxPage is rejected.
func parseState(r *http.Request, maxPage int) (query.State, error) {
	state := query.State{Filters: []query.FilterRule{}, Sorting: []query.SortRule{}}
	values := r.URL.Query()

	if raw := values.Get("q"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &state); err != nil {
			return state, fmt.Errorf("%w: q: %w", repoctx.ErrInvalidQuery, err)
		}
	}
	if raw := values.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return state, fmt.Errorf("%w: page: %w", repoctx.ErrInvalidQuery, err)
		}
		state.Pagination.CurrentPage = n
	}
	if raw := values.Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return state, fmt.Errorf("%w: per_page: %w", repoctx.ErrInvalidQuery, err)
		}
		state.Pagination.ItemsPerPage = n
	}
	if maxPage > 0 && state.Pagination.ItemsPerPage > maxPage {
		return state, fmt.Errorf("%w: per_page %d exceeds %d", repoctx.ErrInvalidQuery, state.Pagination.ItemsPerPage, maxPage)
	}
	for _, rule := range state.Filters {
		if !rule.Operator.Valid() {
			return state, fmt.Errorf("%w: unknown operator %q", repoctx.ErrInvalidQuery, rule.Operator)
		}
	}
	return state, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: body: %w", repoctx.ErrInvalidArgument, err)
	}
	return nil
}

func pageHref(base string, page, perPage int) string {
	return base + "?page=" + strconv.Itoa(page) + "&per_page=" + strconv.Itoa(perPage)
}
