package query

// State is the wire shape a provider receives for a list query.
type State struct {
	Filters    []FilterRule `json:"filters"`
	Sorting    []SortRule   `json:"sorting"`
	Pagination Page         `json:"pagination"`
}

// Request is a State bound to the repository it targets.
type Request struct {
	Repository string `json:"repository"`
	State
}

// NewState snapshots the given containers. Nil containers produce empty lists.
func NewState(filters *Filters, sorting *Sorting, page Page) State {
	state := State{
		Filters:    []FilterRule{},
		Sorting:    []SortRule{},
		Pagination: page,
	}
	if filters != nil {
		state.Filters = filters.Rules()
	}
	if sorting != nil {
		state.Sorting = sorting.Rules()
	}
	return state
}
