package repoctx

import (
	"context"
	"sync"
	"testing"

	"github.com/aquamarinepk/repoctx/query"
)

type findAllCall struct {
	repository string
	state      query.State
	opts       Options
}

// mockProvider records calls. findAllFn, when set, replaces the canned
// findAll answer.
type mockProvider struct {
	mu sync.Mutex

	entity    Entity
	result    Result
	err       error
	findAllFn func(ctx context.Context, repository string, state query.State) (Result, error)

	findCalls      []string
	findAllCalls   []findAllCall
	saveCalls      []Entity
	saveAllCalls   [][]Entity
	removeCalls    []string
	removeAllCalls [][]string
}

func (m *mockProvider) Find(_ context.Context, _ string, id string, _ Options) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls = append(m.findCalls, id)
	return m.entity, m.err
}

func (m *mockProvider) FindAll(ctx context.Context, repository string, state query.State, opts Options) (Result, error) {
	m.mu.Lock()
	m.findAllCalls = append(m.findAllCalls, findAllCall{repository: repository, state: state, opts: opts})
	fn, result, err := m.findAllFn, m.result, m.err
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, repository, state)
	}
	return result, err
}

func (m *mockProvider) Save(_ context.Context, _ string, entity Entity, _ Options) (Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCalls = append(m.saveCalls, entity)
	if m.err != nil {
		return nil, m.err
	}
	return entity, nil
}

func (m *mockProvider) SaveAll(_ context.Context, _ string, entities []Entity, _ Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveAllCalls = append(m.saveAllCalls, entities)
	return m.err
}

func (m *mockProvider) Remove(_ context.Context, _ string, id string, _ Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, id)
	return m.err
}

func (m *mockProvider) RemoveAll(_ context.Context, _ string, ids []string, _ Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeAllCalls = append(m.removeAllCalls, ids)
	return m.err
}

func (m *mockProvider) calls() []findAllCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]findAllCall(nil), m.findAllCalls...)
}

type countingMetrics struct {
	NoopMetrics
	mu     sync.Mutex
	counts map[string]float64
}

func (m *countingMetrics) Counter(_ context.Context, name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]float64)
	}
	m.counts[name] += value
}

func (m *countingMetrics) count(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

type recordingTracer struct {
	mu    sync.Mutex
	spans []string
	errs  []error
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ map[string]any) (context.Context, Span) {
	t.mu.Lock()
	t.spans = append(t.spans, name)
	t.mu.Unlock()
	return ctx, spanFunc(func(err error) {
		t.mu.Lock()
		t.errs = append(t.errs, err)
		t.mu.Unlock()
	})
}

type spanFunc func(error)

func (f spanFunc) End(err error) { f(err) }

func newTestRepository(t testing.TB, provider DataProvider, opts ...Option) *Repository {
	t.Helper()
	r, err := New(RepositoryConfig{Name: "users", Provider: provider}, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}
