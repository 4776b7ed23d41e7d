package repoctx

import (
	"encoding/json"
	"testing"

	"github.com/aquamarinepk/repoctx/query"
)

func TestContextForwardsContainerUpdates(t *testing.T) {
	c := newContext("list", 10)
	updates := 0
	c.Subscribe(EventUpdate, func(payload any) {
		if payload != c {
			t.Errorf("payload = %v, want the context", payload)
		}
		updates++
	})

	c.Filters().Where("name", "Bob")
	c.Sorting().Sort("name")
	c.Pagination().SetPage(2)
	c.Pagination().SetPage(2)

	if updates != 3 {
		t.Errorf("updates = %d, want 3", updates)
	}
}

func TestContextInitializeAndRefreshEmitUpdate(t *testing.T) {
	c := newContext("list", 10)
	updates := 0
	c.Subscribe(EventUpdate, func(any) { updates++ })

	c.Initialize()
	c.Refresh()

	if updates != 2 {
		t.Errorf("updates = %d, want 2", updates)
	}
}

func TestContextStateJSON(t *testing.T) {
	c := newContext("list", 5)
	c.Filters().WhereOp("age", query.GT, 21)
	c.Sorting().Sort("name", query.DESC)

	got, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"filters":[{"name":"age","operator":">","value":21}],"sorting":[{"name":"name","direction":"desc"}],"pagination":{"currentPage":1,"itemsPerPage":5}}`
	if string(got) != want {
		t.Errorf("json = %s, want %s", got, want)
	}
}

func TestContextOptionsSeedStateWithoutUpdates(t *testing.T) {
	c := newContext("list", 10,
		WithFilters(query.FilterRule{Name: "status", Operator: query.EQ, Value: "open"}),
		WithSorting([2]string{"created", "desc"}),
		WithPage(3, 20),
	)
	updates := 0
	c.Subscribe(EventUpdate, func(any) { updates++ })

	state := c.State()
	if len(state.Filters) != 1 || state.Filters[0].Value != "open" {
		t.Errorf("Filters = %v", state.Filters)
	}
	if len(state.Sorting) != 1 || state.Sorting[0].Direction != query.DESC {
		t.Errorf("Sorting = %v", state.Sorting)
	}
	if state.Pagination != (query.Page{CurrentPage: 3, ItemsPerPage: 20}) {
		t.Errorf("Pagination = %v", state.Pagination)
	}
	if updates != 0 {
		t.Errorf("updates = %d, want 0", updates)
	}

	c.Pagination().Next()
	if updates != 1 {
		t.Errorf("updates after Next = %d, want 1", updates)
	}
}

func TestContextTokens(t *testing.T) {
	c := newContext("list", 10)
	var seen []string
	for _, event := range []string{EventLoading, EventData, EventError} {
		event := event
		c.Subscribe(event, func(any) { seen = append(seen, event) })
	}

	first, _, ok := c.issue()
	if !ok {
		t.Fatal("issue failed")
	}
	second, _, _ := c.issue()
	if !c.Loading() {
		t.Error("expected loading after issue")
	}

	if c.resolve(first, Result{Data: []Entity{{"id": "old"}}}) {
		t.Error("stale token was accepted")
	}
	if !c.resolve(second, Result{Data: []Entity{{"id": "new"}}, Meta: query.Meta{Count: 42, ItemsPerPage: 10, CurrentPage: 1}}) {
		t.Error("latest token was rejected")
	}
	if c.Data()[0].ID() != "new" || c.Pagination().Count() != 42 {
		t.Errorf("Data() = %v, Count() = %d", c.Data(), c.Pagination().Count())
	}
	if c.reject(first, errTest) {
		t.Error("stale rejection was accepted")
	}

	want := []string{EventLoading, EventLoading, EventData}
	if len(seen) != len(want) {
		t.Fatalf("events = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("events = %v, want %v", seen, want)
			break
		}
	}
}

func TestContextDetach(t *testing.T) {
	c := newContext("list", 10)
	token, _, _ := c.issue()
	updates := 0
	c.Subscribe(EventUpdate, func(any) { updates++ })

	c.detach()
	c.detach()

	c.Filters().Where("name", "Bob")
	if updates != 0 {
		t.Errorf("updates after detach = %d, want 0", updates)
	}
	if c.resolve(token, Result{Data: []Entity{{}}}) {
		t.Error("result written to a detached context")
	}
	if _, _, ok := c.issue(); ok {
		t.Error("issue succeeded on a detached context")
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusIdle:    "idle",
		StatusLoading: "loading",
		StatusFailed:  "error",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("%d.String() = %s, want %s", status, got, want)
		}
	}
}
