package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
	"github.com/gertd/go-pluralize"
)

var pluralizer = pluralize.NewClient()

// Link relations used in envelopes.
const (
	RelSelf       = "self"
	RelCollection = "collection"
	RelNext       = "next"
	RelPrev       = "prev"
)

// Link is a navigation hint returned alongside data.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// SuccessResponse is the envelope for successful responses.
type SuccessResponse struct {
	Data  any    `json:"data"`
	Meta  any    `json:"meta,omitempty"`
	Links []Link `json:"links,omitempty"`
}

// ListResponse is the decoded form of a list envelope.
type ListResponse struct {
	Data  []repoctx.Entity `json:"data"`
	Meta  query.Meta       `json:"meta"`
	Links []Link           `json:"links,omitempty"`
}

// ItemResponse is the decoded form of a single entity envelope.
type ItemResponse struct {
	Data repoctx.Entity `json:"data"`
}

// ErrorPayload carries the status text, a message and provider details.
type ErrorPayload struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorPayload `json:"error"`
}

// Respond writes data in the success envelope. 204 writes no body.
func Respond(w http.ResponseWriter, code int, data, meta any, links ...Link) {
	if code == http.StatusNoContent {
		w.WriteHeader(code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(SuccessResponse{Data: data, Meta: meta, Links: links})
}

func RespondError(w http.ResponseWriter, code int, message string, details ...string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorPayload{
			Code:    http.StatusText(code),
			Message: message,
			Details: details,
		},
	})
}

// RespondFailure maps err to a status and writes the error envelope.
func RespondFailure(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	var details []string
	var perr *repoctx.ProviderError
	if errors.As(err, &perr) {
		details = perr.Errors
	}
	RespondError(w, code, err.Error(), details...)
}

// StatusFor maps repository errors onto HTTP statuses.
func StatusFor(err error) int {
	var perr *repoctx.ProviderError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &perr) && perr.Status >= 400:
		return perr.Status
	case errors.Is(err, repoctx.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repoctx.ErrInvalidArgument),
		errors.Is(err, repoctx.ErrInvalidQuery),
		errors.Is(err, repoctx.ErrMissingFilterName),
		errors.Is(err, repoctx.ErrMissingFilterValue),
		errors.Is(err, query.ErrMissingRepository):
		return http.StatusBadRequest
	case errors.Is(err, repoctx.ErrNotImplemented):
		return http.StatusNotImplemented
	case errors.Is(err, repoctx.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CollectionPath is the URL path serving a repository.
func CollectionPath(repository string) string {
	return "/" + Pluralize(repository)
}

func ItemPath(repository, id string) string {
	return CollectionPath(repository) + "/" + id
}

// PageLinks returns self, collection and neighbour page links for a list.
func PageLinks(collection string, meta query.Meta) []Link {
	base := "/" + strings.TrimPrefix(collection, "/")
	links := []Link{
		{Rel: RelSelf, Href: pageHref(base, meta.CurrentPage, meta.ItemsPerPage)},
		{Rel: RelCollection, Href: base},
	}
	if meta.CurrentPage > 1 {
		links = append(links, Link{Rel: RelPrev, Href: pageHref(base, meta.CurrentPage-1, meta.ItemsPerPage)})
	}
	page := query.Page{CurrentPage: meta.CurrentPage, ItemsPerPage: meta.ItemsPerPage}
	if _, end := page.Bounds(meta.Count); meta.ItemsPerPage > 0 && end < meta.Count {
		links = append(links, Link{Rel: RelNext, Href: pageHref(base, meta.CurrentPage+1, meta.ItemsPerPage)})
	}
	return links
}

func Pluralize(word string) string {
	return pluralizer.Plural(word)
}

func Singularize(word string) string {
	return pluralizer.Singular(word)
}
