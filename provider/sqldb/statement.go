package sqldb

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/aquamarinepk/repoctx"
	"github.com/aquamarinepk/repoctx/query"
)

var (
	tablePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)
)

// Statement is a SQL string with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// BuildSelect returns the count and page queries for a list request against
// an already quoted table.
func BuildSelect(table string, filters []query.FilterRule, sorting []query.SortRule, page query.Page) (Statement, Statement, error) {
	where, args, err := BuildWhere(filters)
	if err != nil {
		return Statement{}, Statement{}, err
	}
	order, err := BuildOrder(sorting)
	if err != nil {
		return Statement{}, Statement{}, err
	}

	count := Statement{SQL: "SELECT COUNT(*) FROM " + table + where, Args: args}

	listArgs := append(append([]any(nil), args...), page.Limit(), page.Offset())
	list := Statement{
		SQL:  "SELECT id, doc FROM " + table + where + order + " LIMIT ? OFFSET ?",
		Args: listArgs,
	}
	return count, list, nil
}

// BuildWhere renders a conjunctive WHERE clause, empty without filters.
func BuildWhere(filters []query.FilterRule) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, rule := range filters {
		expr, err := column(rule.Name)
		if err != nil {
			return "", nil, err
		}
		switch rule.Operator {
		case query.EQ, query.NE:
			if rule.Value == nil {
				if rule.Operator == query.EQ {
					clauses = append(clauses, expr+" IS NULL")
				} else {
					clauses = append(clauses, expr+" IS NOT NULL")
				}
				continue
			}
			clauses = append(clauses, expr+" "+string(rule.Operator)+" ?")
			args = append(args, rule.Value)
		case query.LT, query.LTE, query.GT, query.GTE:
			clauses = append(clauses, expr+" "+string(rule.Operator)+" ?")
			args = append(args, rule.Value)
		case query.IN:
			values := spread(rule.Value)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			clauses = append(clauses, expr+" IN ("+placeholders(len(values))+")")
			args = append(args, values...)
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", repoctx.ErrInvalidQuery, rule.Operator)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

// BuildOrder renders ORDER BY with id as the final tiebreaker.
func BuildOrder(sorting []query.SortRule) (string, error) {
	parts := make([]string, 0, len(sorting)+1)
	byID := false
	for _, rule := range sorting {
		expr, err := column(rule.Name)
		if err != nil {
			return "", err
		}
		if rule.Name == repoctx.IDKey {
			byID = true
		}
		dir := "ASC"
		if rule.Direction == query.DESC {
			dir = "DESC"
		}
		parts = append(parts, expr+" "+dir)
	}
	if !byID {
		parts = append(parts, "id ASC")
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func quoteTable(repository string) (string, error) {
	if !tablePattern.MatchString(repository) {
		return "", fmt.Errorf("%w: invalid repository name %q", repoctx.ErrInvalidArgument, repository)
	}
	return "`" + repository + "`", nil
}

// column maps a field name to its SQL expression. Names are validated, so
// the JSON path can be inlined.
func column(name string) (string, error) {
	if name == repoctx.IDKey {
		return "id", nil
	}
	if !fieldPattern.MatchString(name) {
		return "", fmt.Errorf("%w: invalid field name %q", repoctx.ErrInvalidQuery, name)
	}
	return "JSON_EXTRACT(doc, '$." + name + "')", nil
}

func spread(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
