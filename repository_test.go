package repoctx

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/aquamarinepk/repoctx/query"
)

func TestNewRequiresNameAndProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  RepositoryConfig
	}{
		{name: "empty", cfg: RepositoryConfig{}},
		{name: "missing provider", cfg: RepositoryConfig{Name: "users"}},
		{name: "missing name", cfg: RepositoryConfig{Provider: &mockProvider{}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := New(tt.cfg)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
			if r != nil {
				t.Error("expected nil repository")
			}
		})
	}
}

func TestNewRejectsBadOption(t *testing.T) {
	_, err := New(RepositoryConfig{Name: "users", Provider: &mockProvider{}}, WithItemsPerPage(0))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestMustNewPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustNew(RepositoryConfig{Name: "users"})
}

func TestCreateContextIsIdempotent(t *testing.T) {
	r := newTestRepository(t, &mockProvider{})

	first := r.CreateContext("list")
	second := r.CreateContext("list")
	if first != second {
		t.Error("CreateContext returned different instances for the same name")
	}
	if got := r.GetContext("list"); got != first {
		t.Error("GetContext did not return the registered context")
	}
	if got := r.GetContext("other"); got != nil {
		t.Errorf("GetContext(other) = %v, want nil", got)
	}
}

func TestRemoveContext(t *testing.T) {
	r := newTestRepository(t, &mockProvider{})
	r.CreateContext("a")
	r.CreateContext("b")

	if !r.RemoveContext("a") {
		t.Error("RemoveContext(a) = false, want true")
	}
	if r.RemoveContext("a") {
		t.Error("second RemoveContext(a) = true, want false")
	}
	if r.GetContext("a") != nil {
		t.Error("removed context still registered")
	}
	if got := r.Contexts(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("Contexts() = %v, want [b]", got)
	}
}

func TestContextUpdateFetchesAndWritesResult(t *testing.T) {
	provider := &mockProvider{
		result: Result{
			Data: []Entity{{"id": "1", "name": "Bob"}},
			Meta: query.Meta{Count: 1, ItemsPerPage: 5, CurrentPage: 1},
		},
	}
	r := newTestRepository(t, provider)
	c := r.CreateContext("list")

	c.Filters().Where("name", "Bob")
	r.Wait()

	calls := provider.calls()
	if len(calls) != 1 {
		t.Fatalf("FindAll calls = %d, want 1", len(calls))
	}
	if calls[0].repository != "users" {
		t.Errorf("repository = %s, want users", calls[0].repository)
	}
	if !reflect.DeepEqual(calls[0].state, c.State()) {
		t.Errorf("state = %+v, want %+v", calls[0].state, c.State())
	}
	if !reflect.DeepEqual(c.Data(), provider.result.Data) {
		t.Errorf("Data() = %v, want %v", c.Data(), provider.result.Data)
	}
	if c.Meta() != provider.result.Meta {
		t.Errorf("Meta() = %+v, want %+v", c.Meta(), provider.result.Meta)
	}
	if c.Err() != nil {
		t.Errorf("Err() = %v, want nil", c.Err())
	}
	if c.Loading() {
		t.Error("context still loading")
	}
}

func TestResultDoesNotReemitUpdate(t *testing.T) {
	provider := &mockProvider{result: Result{Data: []Entity{{"id": "1"}}}}
	r := newTestRepository(t, provider)
	c := r.CreateContext("list")

	updates, data := 0, 0
	c.Subscribe(EventUpdate, func(any) { updates++ })
	c.Subscribe(EventData, func(any) { data++ })

	c.Filters().Where("name", "Bob")
	r.Wait()

	if updates != 1 || data != 1 {
		t.Errorf("updates = %d, data = %d, want 1 each", updates, data)
	}
	if got := len(provider.calls()); got != 1 {
		t.Errorf("FindAll calls = %d, want 1", got)
	}
}

func TestContextUpdateWritesProviderError(t *testing.T) {
	provider := &mockProvider{result: Result{Data: []Entity{{"id": "1"}}}}
	reported := make(chan error, 1)
	r := newTestRepository(t, provider, WithErrorReporter(ErrorReporterFunc(func(_ context.Context, err error, _ map[string]any) {
		reported <- err
	})))
	c := r.CreateContext("list")
	c.Initialize()
	r.Wait()

	rejection := &ProviderError{Errors: []string{"boom"}}
	provider.mu.Lock()
	provider.err = rejection
	provider.mu.Unlock()

	c.Sorting().Sort("name")
	r.Wait()

	if c.Err() != rejection {
		t.Errorf("Err() = %v, want the provider rejection", c.Err())
	}
	if len(c.Data()) != 1 {
		t.Errorf("Data() = %v, want previous data kept", c.Data())
	}
	if c.Status() != StatusFailed {
		t.Errorf("Status() = %v, want error", c.Status())
	}
	select {
	case err := <-reported:
		if err != rejection {
			t.Errorf("reported %v, want the provider rejection", err)
		}
	default:
		t.Error("expected the failure to be reported")
	}
}

func TestStaleFetchIsDiscarded(t *testing.T) {
	gates := map[string]chan struct{}{
		"A": make(chan struct{}),
		"B": make(chan struct{}),
	}
	provider := &mockProvider{
		findAllFn: func(_ context.Context, _ string, state query.State) (Result, error) {
			value := state.Filters[0].Value.(string)
			<-gates[value]
			return Result{Data: []Entity{{"id": value}}}, nil
		},
	}
	metrics := &countingMetrics{}
	r := newTestRepository(t, provider, WithMetrics(metrics))
	c := r.CreateContext("list")

	written := make(chan struct{}, 2)
	c.Subscribe(EventData, func(any) { written <- struct{}{} })

	c.Filters().Where("name", "A")
	c.Filters().Where("name", "B")

	close(gates["B"])
	select {
	case <-written:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for fetch B")
	}

	close(gates["A"])
	r.Wait()

	if got := c.Data(); len(got) != 1 || got[0].ID() != "B" {
		t.Errorf("Data() = %v, want B's result", got)
	}
	if len(written) != 0 {
		t.Error("stale result was written")
	}
	if got := metrics.count("repoctx.fetch.issued"); got != 2 {
		t.Errorf("fetch.issued = %v, want 2", got)
	}
	if got := metrics.count("repoctx.fetch.stale"); got != 1 {
		t.Errorf("fetch.stale = %v, want 1", got)
	}
}

func TestLateResultForRemovedContextIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	provider := &mockProvider{
		findAllFn: func(context.Context, string, query.State) (Result, error) {
			<-gate
			return Result{Data: []Entity{{"id": "late"}}}, nil
		},
	}
	r := newTestRepository(t, provider)
	c := r.CreateContext("list")
	c.Initialize()

	r.RemoveContext("list")
	close(gate)
	r.Wait()

	if c.Data() != nil {
		t.Errorf("Data() = %v, want nil", c.Data())
	}
	if !c.Detached() {
		t.Error("expected context to be detached")
	}
}

func TestUpdateContextDirect(t *testing.T) {
	rejection := errors.New("unavailable")
	provider := &mockProvider{err: rejection}
	r := newTestRepository(t, provider)
	c := r.CreateContext("list")

	err := r.UpdateContext(context.Background(), c)
	if err != rejection {
		t.Errorf("UpdateContext error = %v, want %v", err, rejection)
	}
	if c.Err() != rejection {
		t.Errorf("Err() = %v, want %v", c.Err(), rejection)
	}

	if err := r.UpdateContext(context.Background(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("UpdateContext(nil) = %v, want ErrInvalidArgument", err)
	}

	r.RemoveContext("list")
	if err := r.UpdateContext(context.Background(), c); !errors.Is(err, ErrContextDetached) {
		t.Errorf("UpdateContext(removed) = %v, want ErrContextDetached", err)
	}
}

func TestFindAllSendsBuilderState(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider)

	q := query.From("users").Where("name", "Bob").Sort("name").Limit(2).Skip(0)
	if _, err := r.FindAll(context.Background(), q, nil); err != nil {
		t.Fatalf("FindAll error: %v", err)
	}

	calls := provider.calls()
	if len(calls) != 1 {
		t.Fatalf("FindAll calls = %d, want 1", len(calls))
	}
	got, err := json.Marshal(query.Request{Repository: calls[0].repository, State: calls[0].state})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"repository":"users","filters":[{"name":"name","operator":"=","value":"Bob"}],"sorting":[{"name":"name","direction":"asc"}],"pagination":{"currentPage":1,"itemsPerPage":2}}`
	if string(got) != want {
		t.Errorf("provider received %s, want %s", got, want)
	}
}

func TestFindAllDefaultWindow(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider, WithItemsPerPage(25))

	if _, err := r.FindAll(context.Background(), r.CreateQuery(), nil); err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	page := provider.calls()[0].state.Pagination
	if page != (query.Page{CurrentPage: 1, ItemsPerPage: 25}) {
		t.Errorf("Pagination = %+v, want {1 25}", page)
	}
}

func TestMaxItemsPerPageCapsRequests(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider, WithMaxItemsPerPage(50))

	if _, err := r.FindAll(context.Background(), r.CreateQuery().Page(2, math.MaxInt), nil); err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	c := r.CreateContext("list", WithPage(1, 500))
	if err := r.UpdateContext(context.Background(), c); err != nil {
		t.Fatalf("UpdateContext error: %v", err)
	}

	calls := provider.calls()
	if len(calls) != 2 {
		t.Fatalf("FindAll calls = %d, want 2", len(calls))
	}
	if page := calls[0].state.Pagination; page != (query.Page{CurrentPage: 2, ItemsPerPage: 50}) {
		t.Errorf("FindAll pagination = %+v, want {2 50}", page)
	}
	if page := calls[1].state.Pagination; page.ItemsPerPage != 50 {
		t.Errorf("UpdateContext pagination = %+v, want 50 items", page)
	}
}

func TestWithMaxItemsPerPageRejectsNegative(t *testing.T) {
	_, err := New(RepositoryConfig{Name: "users", Provider: &mockProvider{}}, WithMaxItemsPerPage(-1))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want ErrInvalidConfig", err)
	}
}

func TestProviderPanicIsRecovered(t *testing.T) {
	provider := &mockProvider{
		findAllFn: func(context.Context, string, query.State) (Result, error) {
			panic("slice bounds out of range")
		},
	}
	r := newTestRepository(t, provider)
	c := r.CreateContext("list")

	c.Pagination().SetItemsPerPage(math.MaxInt)
	c.Pagination().SetPage(2)
	r.Wait()

	if !errors.Is(c.Err(), ErrProviderPanic) {
		t.Errorf("Err() = %v, want ErrProviderPanic", c.Err())
	}
	if c.Status() != StatusFailed {
		t.Errorf("Status() = %v, want failed", c.Status())
	}

	if _, err := r.FindAll(context.Background(), r.CreateQuery(), nil); !errors.Is(err, ErrProviderPanic) {
		t.Errorf("FindAll error = %v, want ErrProviderPanic", err)
	}
	if err := r.UpdateContext(context.Background(), c); !errors.Is(err, ErrProviderPanic) {
		t.Errorf("UpdateContext error = %v, want ErrProviderPanic", err)
	}
}

func TestFindAllRejectsInvalidQuery(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider)
	ctx := context.Background()

	var nilBuilder *query.Builder
	queries := []Query{nil, nilBuilder, query.NewBuilder().Where("name", "Bob")}
	for _, q := range queries {
		if _, err := r.FindAll(ctx, q, nil); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("FindAll(%v) error = %v, want ErrInvalidQuery", q, err)
		}
	}
	if _, err := r.FindAll(ctx, query.NewBuilder(), nil); !errors.Is(err, query.ErrMissingRepository) {
		t.Errorf("error = %v, want ErrMissingRepository", err)
	}
	if len(provider.calls()) != 0 {
		t.Error("provider was called for an invalid query")
	}
}

func TestFindByValidation(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider)
	ctx := context.Background()

	_, err := r.FindBy(ctx, "", nil)
	if !errors.Is(err, ErrMissingFilterName) || err.Error() != "Missing filter name" {
		t.Errorf("FindBy() error = %v, want Missing filter name", err)
	}

	_, err = r.FindByOp(ctx, "name", query.LTE, nil)
	if !errors.Is(err, ErrMissingFilterValue) || err.Error() != "Missing filter value" {
		t.Errorf("FindByOp error = %v, want Missing filter value", err)
	}

	_, err = r.FindByOp(ctx, "name", query.Operator("~"), "x")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("FindByOp(~) error = %v, want ErrInvalidArgument", err)
	}

	if len(provider.calls()) != 0 {
		t.Error("provider was called despite validation errors")
	}
}

func TestFindByReturnsData(t *testing.T) {
	provider := &mockProvider{result: Result{Data: []Entity{{"id": "1", "age": 30}}}}
	r := newTestRepository(t, provider)

	data, err := r.FindByOp(context.Background(), "age", query.GTE, 18)
	if err != nil {
		t.Fatalf("FindByOp error: %v", err)
	}
	if len(data) != 1 || data[0].ID() != "1" {
		t.Errorf("data = %v", data)
	}
	state := provider.calls()[0].state
	want := []query.FilterRule{{Name: "age", Operator: query.GTE, Value: 18}}
	if !reflect.DeepEqual(state.Filters, want) {
		t.Errorf("Filters = %v, want %v", state.Filters, want)
	}
}

func TestSaveAllValidation(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider)

	invalid := [][]Entity{
		nil,
		{},
		{nil, {}},
		{nil},
	}
	for _, entities := range invalid {
		if err := r.SaveAll(context.Background(), entities, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SaveAll(%v) error = %v, want ErrInvalidArgument", entities, err)
		}
	}
	if len(provider.saveAllCalls) != 0 {
		t.Errorf("provider SaveAll called %d times, want 0", len(provider.saveAllCalls))
	}

	if err := r.SaveAll(context.Background(), []Entity{{"name": "a"}, {"name": "b"}}, nil); err != nil {
		t.Fatalf("SaveAll error: %v", err)
	}
	if len(provider.saveAllCalls) != 1 {
		t.Errorf("provider SaveAll called %d times, want 1", len(provider.saveAllCalls))
	}
}

func TestRemoveAllValidation(t *testing.T) {
	provider := &mockProvider{}
	r := newTestRepository(t, provider)

	for _, ids := range [][]string{nil, {}, {"1", ""}} {
		if err := r.RemoveAll(context.Background(), ids, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("RemoveAll(%v) error = %v, want ErrInvalidArgument", ids, err)
		}
	}
	if err := r.RemoveAll(context.Background(), []string{"1", "2"}, nil); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if !reflect.DeepEqual(provider.removeAllCalls, [][]string{{"1", "2"}}) {
		t.Errorf("removeAllCalls = %v", provider.removeAllCalls)
	}
}

func TestPassThroughsPropagateProviderErrors(t *testing.T) {
	rejection := &ProviderError{Status: 409, Errors: []string{"conflict"}}
	provider := &mockProvider{err: rejection}
	tracer := &recordingTracer{}
	r := newTestRepository(t, provider, WithTracer(tracer))
	ctx := context.Background()

	if _, err := r.Find(ctx, "1", nil); err != rejection {
		t.Errorf("Find error = %v", err)
	}
	if _, err := r.Save(ctx, Entity{"name": "a"}, nil); err != rejection {
		t.Errorf("Save error = %v", err)
	}
	if err := r.Remove(ctx, "1", nil); err != rejection {
		t.Errorf("Remove error = %v", err)
	}

	want := []string{"repoctx.find", "repoctx.save", "repoctx.remove"}
	if !reflect.DeepEqual(tracer.spans, want) {
		t.Errorf("spans = %v, want %v", tracer.spans, want)
	}
	for i, err := range tracer.errs {
		if err != rejection {
			t.Errorf("span %d ended with %v", i, err)
		}
	}
}

func TestWhereBuildsBoundQuery(t *testing.T) {
	r := newTestRepository(t, &mockProvider{})

	req, err := r.Where("name", "Bob").Request()
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if req.Repository != "users" {
		t.Errorf("Repository = %s, want users", req.Repository)
	}
	if len(req.Filters) != 1 || req.Filters[0].Operator != query.EQ {
		t.Errorf("Filters = %v", req.Filters)
	}
}

func TestCapabilities(t *testing.T) {
	r := newTestRepository(t, &mockProvider{})
	want := Capabilities{Get: true, Save: true, Remove: true, List: true}
	if got := r.Capabilities(); got != want {
		t.Errorf("Capabilities() = %+v, want %+v", got, want)
	}
}

func TestCloseCancelsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	provider := &mockProvider{
		findAllFn: func(ctx context.Context, _ string, _ query.State) (Result, error) {
			close(started)
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}
	r, err := New(RepositoryConfig{Name: "users", Provider: provider})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	c := r.CreateContext("list")
	c.Initialize()
	<-started

	done := make(chan struct{})
	go func() {
		_ = r.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return")
	}

	if c.Err() != nil {
		t.Errorf("Err() = %v, want nil for a detached context", c.Err())
	}
	if _, err := r.Save(context.Background(), Entity{}, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Save after Close = %v, want ErrClosed", err)
	}
	if r.GetContext("list") != nil {
		t.Error("context survived Close")
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
