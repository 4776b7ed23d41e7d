package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
)

func seeded(t *testing.T) *Provider {
	t.Helper()
	p := New()
	err := p.SaveAll(context.Background(), "users", []repoctx.Entity{
		{"id": "1", "name": "Bob", "age": 30, "address": map[string]any{"city": "Lima"}},
		{"id": "2", "name": "Ann", "age": 25, "address": map[string]any{"city": "Quito"}},
		{"id": "3", "name": "Cid", "age": 41, "address": map[string]any{"city": "Lima"}},
		{"id": "4", "name": "Dee", "age": 25.0},
	}, nil)
	if err != nil {
		t.Fatalf("SaveAll error: %v", err)
	}
	return p
}

func ids(entities []repoctx.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e.ID())
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestFindAllFilters(t *testing.T) {
	p := seeded(t)

	tests := []struct {
		name    string
		filters []query.FilterRule
		want    []string
	}{
		{name: "none", want: []string{"1", "2", "3", "4"}},
		{name: "eq", filters: []query.FilterRule{{Name: "name", Operator: query.EQ, Value: "Bob"}}, want: []string{"1"}},
		{name: "eqAcrossNumberTypes", filters: []query.FilterRule{{Name: "age", Operator: query.EQ, Value: 25}}, want: []string{"2", "4"}},
		{name: "ne", filters: []query.FilterRule{{Name: "age", Operator: query.NE, Value: 25}}, want: []string{"1", "3"}},
		{name: "gte", filters: []query.FilterRule{{Name: "age", Operator: query.GTE, Value: 30}}, want: []string{"1", "3"}},
		{name: "lt", filters: []query.FilterRule{{Name: "age", Operator: query.LT, Value: 30}}, want: []string{"2", "4"}},
		{name: "in", filters: []query.FilterRule{{Name: "name", Operator: query.IN, Value: []any{"Ann", "Dee"}}}, want: []string{"2", "4"}},
		{name: "dottedPath", filters: []query.FilterRule{{Name: "address.city", Operator: query.EQ, Value: "Lima"}}, want: []string{"1", "3"}},
		{name: "missingFieldIsNil", filters: []query.FilterRule{{Name: "address", Operator: query.EQ, Value: nil}}, want: []string{"4"}},
		{name: "combined", filters: []query.FilterRule{
			{Name: "address.city", Operator: query.EQ, Value: "Lima"},
			{Name: "age", Operator: query.LTE, Value: 30},
		}, want: []string{"1"}},
		{name: "incomparable", filters: []query.FilterRule{{Name: "name", Operator: query.GT, Value: 3}}, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.FindAll(context.Background(), "users", query.State{Filters: tt.filters}, nil)
			if err != nil {
				t.Fatalf("FindAll error: %v", err)
			}
			if got := ids(result.Data); !equalIDs(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
			if result.Meta.Count != len(tt.want) {
				t.Errorf("Count = %d, want %d", result.Meta.Count, len(tt.want))
			}
		})
	}
}

func TestFindAllSortingAndPaging(t *testing.T) {
	p := seeded(t)
	state := query.State{
		Sorting: []query.SortRule{
			{Name: "age", Direction: query.ASC},
			{Name: "name", Direction: query.DESC},
		},
		Pagination: query.Page{CurrentPage: 2, ItemsPerPage: 2},
	}

	result, err := p.FindAll(context.Background(), "users", state, nil)
	if err != nil {
		t.Fatalf("FindAll error: %v", err)
	}
	// age asc then name desc: Dee(25) Ann(25) Bob(30) Cid(41)
	if got := ids(result.Data); !equalIDs(got, []string{"1", "3"}) {
		t.Errorf("page 2 = %v, want [1 3]", got)
	}
	want := query.Meta{Count: 4, ItemsPerPage: 2, CurrentPage: 2}
	if result.Meta != want {
		t.Errorf("Meta = %+v, want %+v", result.Meta, want)
	}

	state.Pagination = query.Page{CurrentPage: 9, ItemsPerPage: 2}
	result, _ = p.FindAll(context.Background(), "users", state, nil)
	if len(result.Data) != 0 {
		t.Errorf("page past the end = %v, want empty", ids(result.Data))
	}
}

func TestFindAllExtremePages(t *testing.T) {
	p := seeded(t)
	tests := []struct {
		name string
		page query.Page
		want int
	}{
		{"huge page size", query.Page{CurrentPage: 1, ItemsPerPage: math.MaxInt}, 4},
		{"huge page size second page", query.Page{CurrentPage: 2, ItemsPerPage: math.MaxInt}, 0},
		{"huge page", query.Page{CurrentPage: math.MaxInt, ItemsPerPage: 2}, 0},
		{"both huge", query.Page{CurrentPage: math.MaxInt, ItemsPerPage: math.MaxInt}, 0},
		{"last partial page", query.Page{CurrentPage: 2, ItemsPerPage: 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.FindAll(context.Background(), "users", query.State{Pagination: tt.page}, nil)
			if err != nil {
				t.Fatalf("FindAll error: %v", err)
			}
			if len(result.Data) != tt.want {
				t.Errorf("len(data) = %d, want %d", len(result.Data), tt.want)
			}
			if result.Meta.Count != 4 || result.Meta.ItemsPerPage != tt.page.ItemsPerPage {
				t.Errorf("meta = %+v", result.Meta)
			}
		})
	}
}

func TestContextWithExtremeWindow(t *testing.T) {
	repo, err := repoctx.New(repoctx.RepositoryConfig{Name: "users", Provider: seeded(t)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer repo.Close()
	c := repo.CreateContext("list")

	c.Pagination().SetItemsPerPage(math.MaxInt)
	c.Pagination().SetPage(2)
	repo.Wait()

	if c.Err() != nil {
		t.Fatalf("Err() = %v", c.Err())
	}
	if len(c.Data()) != 0 || c.Meta().Count != 4 {
		t.Errorf("data = %v, meta %+v", c.Data(), c.Meta())
	}
}

func TestFindAllDefaultPage(t *testing.T) {
	p := New(WithItemsPerPage(3))
	for i := 0; i < 5; i++ {
		if _, err := p.Save(context.Background(), "items", repoctx.Entity{"n": i}, nil); err != nil {
			t.Fatalf("Save error: %v", err)
		}
	}
	result, _ := p.FindAll(context.Background(), "items", query.State{}, nil)
	if len(result.Data) != 3 || result.Meta.ItemsPerPage != 3 || result.Meta.CurrentPage != 1 {
		t.Errorf("result = %d items, meta %+v", len(result.Data), result.Meta)
	}
}

func TestFindAllRejectsUnknownOperator(t *testing.T) {
	p := seeded(t)
	state := query.State{Filters: []query.FilterRule{{Name: "age", Operator: "~", Value: 1}}}
	if _, err := p.FindAll(context.Background(), "users", state, nil); !errors.Is(err, repoctx.ErrInvalidQuery) {
		t.Errorf("error = %v, want ErrInvalidQuery", err)
	}
}

func TestSaveGeneratesIDAndCopies(t *testing.T) {
	n := 0
	p := New(WithIDGenerator(func() string {
		n++
		return "gen-" + string(rune('0'+n))
	}))
	input := repoctx.Entity{"name": "Bob"}

	saved, err := p.Save(context.Background(), "users", input, nil)
	if err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if saved.ID() != "gen-1" {
		t.Errorf("ID = %q, want gen-1", saved.ID())
	}
	if input.ID() != "" {
		t.Error("Save mutated the caller's entity")
	}

	saved["name"] = "changed"
	found, err := p.Find(context.Background(), "users", "gen-1", nil)
	if err != nil {
		t.Fatalf("Find error: %v", err)
	}
	if found["name"] != "Bob" {
		t.Error("returned entity aliases the stored one")
	}
}

func TestSaveUpsertsKeepingOrder(t *testing.T) {
	p := seeded(t)
	if _, err := p.Save(context.Background(), "users", repoctx.Entity{"id": "1", "name": "Bobby"}, nil); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	result, _ := p.FindAll(context.Background(), "users", query.State{}, nil)
	if got := ids(result.Data); !equalIDs(got, []string{"1", "2", "3", "4"}) {
		t.Errorf("order = %v", got)
	}
	if result.Data[0]["name"] != "Bobby" {
		t.Errorf("name = %v, want Bobby", result.Data[0]["name"])
	}
}

func TestRemove(t *testing.T) {
	p := seeded(t)
	ctx := context.Background()

	if err := p.Remove(ctx, "users", "2", nil); err != nil {
		t.Fatalf("Remove error: %v", err)
	}
	if _, err := p.Find(ctx, "users", "2", nil); !errors.Is(err, repoctx.ErrNotFound) {
		t.Errorf("Find removed = %v, want ErrNotFound", err)
	}
	if err := p.Remove(ctx, "users", "2", nil); !errors.Is(err, repoctx.ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
	if err := p.Remove(ctx, "ghosts", "1", nil); !errors.Is(err, repoctx.ErrNotFound) {
		t.Errorf("Remove unknown repository = %v, want ErrNotFound", err)
	}
}

func TestRemoveAllIsAtomic(t *testing.T) {
	p := seeded(t)
	ctx := context.Background()

	if err := p.RemoveAll(ctx, "users", []string{"1", "missing"}, nil); !errors.Is(err, repoctx.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if p.Len("users") != 4 {
		t.Errorf("Len = %d, want 4 after a failed RemoveAll", p.Len("users"))
	}

	if err := p.RemoveAll(ctx, "users", []string{"1", "3"}, nil); err != nil {
		t.Fatalf("RemoveAll error: %v", err)
	}
	if p.Len("users") != 2 {
		t.Errorf("Len = %d, want 2", p.Len("users"))
	}
}

func TestCanceledContext(t *testing.T) {
	p := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.FindAll(ctx, "users", query.State{}, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestWithRepository(t *testing.T) {
	users, err := repoctx.New(repoctx.RepositoryConfig{Name: "users", Provider: seeded(t)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer users.Close()

	c := users.CreateContext("adults")
	c.Filters().WhereOp("age", query.GTE, 30)
	users.Wait()

	if got := ids(c.Data()); !equalIDs(got, []string{"1", "3"}) {
		t.Errorf("Data() = %v, want [1 3]", got)
	}
	if c.Meta().Count != 2 {
		t.Errorf("Count = %d, want 2", c.Meta().Count)
	}

	found, err := users.FindBy(context.Background(), "name", "Ann")
	if err != nil || len(found) != 1 {
		t.Errorf("FindBy = %v, %v", found, err)
	}
}

func TestReset(t *testing.T) {
	p := seeded(t)
	p.Reset()
	if p.Len("users") != 0 {
		t.Errorf("Len = %d after Reset", p.Len("users"))
	}
}
