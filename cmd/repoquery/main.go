// Command repoquery lists a repository served by reposerver.
//
//	repoquery --repository users --where 'age>=18;role in [admin, ops]' --sort name,-age --per_page 20
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/provider/rest"
	"github.com/aquamarinepk/repoctx/query"
	"gopkg.in/yaml.v3"
)

const namespace = "REPOQUERY"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "repoquery: %v\n", err)
		os.Exit(1)
	}
}

func defaults() map[string]any {
	return map[string]any{
		"base_url":   "http://localhost:8080",
		"timeout":    "15s",
		"repository": "",
		"where":      "",
		"sort":       "",
		"page":       1,
		"per_page":   query.DefaultItemsPerPage,
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg := repoctx.NewConfig()
	if err := cfg.Merge(defaults()); err != nil {
		return err
	}
	if err := cfg.LoadSources(namespace, args); err != nil {
		return err
	}

	name := cfg.GetStringOrDef("repository", "")
	if name == "" {
		return fmt.Errorf("%w: --repository is required", repoctx.ErrInvalidArgument)
	}
	filters, err := parseWhere(cfg.GetStringOrDef("where", ""))
	if err != nil {
		return err
	}

	provider, err := rest.New(rest.Config{
		BaseURL: cfg.GetStringOrDef("base_url", ""),
		Timeout: cfg.GetDurationOrDef("timeout", 0),
	})
	if err != nil {
		return err
	}
	repo, err := repoctx.New(repoctx.RepositoryConfig{Name: name, Provider: provider})
	if err != nil {
		return err
	}
	defer repo.Close()

	c := repo.CreateContext("cli",
		repoctx.WithFilters(filters...),
		repoctx.WithSorting(parseSort(cfg.GetStringOrDef("sort", ""))...),
		repoctx.WithPage(cfg.GetIntOrDef("page", 1), cfg.GetIntOrDef("per_page", query.DefaultItemsPerPage)),
	)
	if err := repo.UpdateContext(ctx, c); err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(repoctx.Result{Data: c.Data(), Meta: c.Meta()})
}

// Longer operators first so ">=" is not read as ">".
var operators = []query.Operator{query.GTE, query.LTE, query.NE, query.EQ, query.LT, query.GT}

// parseWhere reads "name=Bob;age>=18;role in [a, b]". Values are YAML
// scalars or flow sequences.
func parseWhere(raw string) ([]any, error) {
	var out []any
	for _, term := range strings.Split(raw, ";") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		name, op, value, ok := splitTerm(term)
		if !ok {
			return nil, fmt.Errorf("%w: cannot parse filter %q", repoctx.ErrInvalidArgument, term)
		}
		var decoded any
		if err := yaml.Unmarshal([]byte(value), &decoded); err != nil {
			return nil, fmt.Errorf("%w: filter %q: %w", repoctx.ErrInvalidArgument, term, err)
		}
		out = append(out, []any{name, string(op), decoded})
	}
	return out, nil
}

func splitTerm(term string) (string, query.Operator, string, bool) {
	if name, value, ok := strings.Cut(term, " in "); ok {
		return strings.TrimSpace(name), query.IN, strings.TrimSpace(value), name != ""
	}
	for _, op := range operators {
		if name, value, ok := strings.Cut(term, string(op)); ok {
			name = strings.TrimSpace(name)
			return name, op, strings.TrimSpace(value), name != ""
		}
	}
	return "", "", "", false
}

// parseSort reads "name,-age": a leading dash sorts descending.
func parseSort(raw string) []any {
	var out []any
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		direction := query.ASC
		if trimmed, ok := strings.CutPrefix(field, "-"); ok {
			field, direction = trimmed, query.DESC
		}
		out = append(out, query.SortRule{Name: field, Direction: direction})
	}
	return out
}
