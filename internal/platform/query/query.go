// Package query builds parameterised SELECT statements for list endpoints
// from request filters.
package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// FilterType selects the clause builder used for a filter.
type FilterType int

const (
	FilterEnum FilterType = iota
	FilterString
	FilterDate
	FilterNumber
	FilterRef
	FilterBool
)

// Filter maps a query parameter to its column.
type Filter struct {
	Type   FilterType
	Column string
}

// Query accumulates WHERE fragments with positional arguments.
type Query struct {
	table   string
	cols    string
	where   string
	args    []interface{}
	idx     int
	orderBy string
}

// New creates a Query selecting cols from table.
func New(table, cols string) *Query {
	return &Query{table: table, cols: cols, idx: 1}
}

// Idx returns the next free placeholder index.
func (q *Query) Idx() int { return q.idx }

// Add appends a raw clause (without leading AND). Placeholders must start at Idx().
func (q *Query) Add(clause string, args ...interface{}) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx += len(args)
}

// Eq is shorthand for "column = $n".
func (q *Query) Eq(column string, value interface{}) {
	q.Add(fmt.Sprintf("%s = $%d", column, q.idx), value)
}

func (q *Query) push(clause string, args []interface{}, next int) {
	q.where += " AND " + clause
	q.args = append(q.args, args...)
	q.idx = next
}

// Apply adds one filter value.
func (q *Query) Apply(f Filter, value string, mod Modifier) {
	switch f.Type {
	case FilterString:
		q.push(StringClause(f.Column, value, mod, q.idx))
	case FilterDate:
		q.push(DateClause(f.Column, value, q.idx))
	case FilterNumber:
		q.push(NumberClause(f.Column, value, q.idx))
	case FilterRef:
		q.push(RefClause(f.Column, value, q.idx))
	case FilterBool:
		q.push(BoolClause(f.Column, value, q.idx))
	default:
		q.push(EnumClause(f.Column, value, q.idx))
	}
}

// ApplyParams applies every known filter present in params. Keys may carry a
// modifier ("provider:contains"). Unknown keys are ignored. Keys are visited
// in sorted order so the generated SQL is stable.
func (q *Query) ApplyParams(params map[string]string, filters map[string]Filter) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		name, mod := ParseModifier(key)
		if f, ok := filters[name]; ok && params[key] != "" {
			q.Apply(f, params[key], mod)
		}
	}
}

// OrderBy sets the ORDER BY clause (without the keyword).
func (q *Query) OrderBy(orderBy string) { q.orderBy = orderBy }

// ApplySort reads a comma separated sort spec ("-created_at,priority") and
// maps each name through filters. Unknown names are dropped and an empty
// result falls back to defaultOrder.
func (q *Query) ApplySort(sortParam, defaultOrder string, filters map[string]Filter) {
	var parts []string
	for _, field := range strings.Split(sortParam, ",") {
		field = strings.TrimSpace(field)
		desc := strings.HasPrefix(field, "-")
		field = strings.TrimPrefix(field, "-")
		f, ok := filters[field]
		if !ok {
			continue
		}
		if desc {
			parts = append(parts, f.Column+" DESC")
		} else {
			parts = append(parts, f.Column+" ASC")
		}
	}
	if len(parts) == 0 {
		q.orderBy = defaultOrder
		return
	}
	q.orderBy = strings.Join(parts, ", ")
}

func (q *Query) CountSQL() string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE 1=1%s", q.table, q.where)
}

func (q *Query) CountArgs() []interface{} { return q.args }

// DataSQL returns the page query with ORDER BY and LIMIT/OFFSET placeholders.
func (q *Query) DataSQL() string {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE 1=1%s", q.cols, q.table, q.where)
	if q.orderBy != "" {
		sql += " ORDER BY " + q.orderBy
	}
	return sql + fmt.Sprintf(" LIMIT $%d OFFSET $%d", q.idx, q.idx+1)
}

// DataArgs returns the filter args followed by limit and offset.
func (q *Query) DataArgs(limit, offset int) []interface{} {
	out := make([]interface{}, len(q.args)+2)
	copy(out, q.args)
	out[len(q.args)] = limit
	out[len(q.args)+1] = offset
	return out
}

// ParamsFromContext collects the query parameters of the request, keeping the
// first value of each.
func ParamsFromContext(c echo.Context) map[string]string {
	params := make(map[string]string)
	for k, v := range c.QueryParams() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}
