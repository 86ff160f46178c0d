package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix is a comparison prefix on an ordered filter value, e.g. "ge2026-01-01".
type Prefix string

const (
	PrefixEq Prefix = "eq"
	PrefixNe Prefix = "ne"
	PrefixGt Prefix = "gt"
	PrefixLt Prefix = "lt"
	PrefixGe Prefix = "ge"
	PrefixLe Prefix = "le"
)

// Modifier changes how a string filter matches: "provider:contains=mercy".
type Modifier string

const (
	ModifierExact    Modifier = "exact"
	ModifierContains Modifier = "contains"
)

// Parsed holds a filter value with its prefix split off.
type Parsed struct {
	Prefix Prefix
	Value  string
}

// ParseValue extracts the comparison prefix. "gt100" is (gt, "100") and a
// value without a known prefix is an equality match.
func ParseValue(raw string) Parsed {
	if len(raw) >= 2 {
		p := Prefix(strings.ToLower(raw[:2]))
		switch p {
		case PrefixEq, PrefixNe, PrefixGt, PrefixLt, PrefixGe, PrefixLe:
			return Parsed{Prefix: p, Value: raw[2:]}
		}
	}
	return Parsed{Prefix: PrefixEq, Value: raw}
}

// ParseModifier splits "name:exact" into ("name", "exact").
func ParseModifier(param string) (string, Modifier) {
	parts := strings.SplitN(param, ":", 2)
	if len(parts) == 2 {
		return parts[0], Modifier(parts[1])
	}
	return parts[0], ""
}

func operator(p Prefix) string {
	switch p {
	case PrefixGt:
		return ">"
	case PrefixLt:
		return "<"
	case PrefixGe:
		return ">="
	case PrefixLe:
		return "<="
	case PrefixNe:
		return "!="
	default:
		return "="
	}
}

// DateClause builds a date comparison. A bare YYYY-MM-DD with eq matches the
// whole day. Unparseable dates fall back to a text comparison.
func DateClause(column, value string, argIdx int) (string, []interface{}, int) {
	parsed := ParseValue(value)

	t, err := parseDate(parsed.Value)
	if err != nil {
		return fmt.Sprintf("%s::text = $%d", column, argIdx), []interface{}{parsed.Value}, argIdx + 1
	}

	if parsed.Prefix == PrefixEq && len(parsed.Value) == 10 {
		end := t.Add(24*time.Hour - time.Nanosecond)
		clause := fmt.Sprintf("(%s >= $%d AND %s <= $%d)", column, argIdx, column, argIdx+1)
		return clause, []interface{}{t, end}, argIdx + 2
	}
	return fmt.Sprintf("%s %s $%d", column, operator(parsed.Prefix), argIdx), []interface{}{t}, argIdx + 1
}

// NumberClause builds a numeric comparison. The value is bound as text and
// cast by postgres so NUMERIC columns compare exactly.
func NumberClause(column, value string, argIdx int) (string, []interface{}, int) {
	parsed := ParseValue(value)
	return fmt.Sprintf("%s %s $%d::numeric", column, operator(parsed.Prefix), argIdx), []interface{}{parsed.Value}, argIdx + 1
}

// StringClause matches case-insensitively by prefix unless a modifier says otherwise.
func StringClause(column, value string, modifier Modifier, argIdx int) (string, []interface{}, int) {
	switch modifier {
	case ModifierExact:
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{value}, argIdx + 1
	case ModifierContains:
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{"%" + escapeLike(value) + "%"}, argIdx + 1
	default:
		return fmt.Sprintf("%s ILIKE $%d", column, argIdx), []interface{}{escapeLike(value) + "%"}, argIdx + 1
	}
}

// EnumClause matches one of a comma separated list of values.
func EnumClause(column, value string, argIdx int) (string, []interface{}, int) {
	var vals []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			vals = append(vals, v)
		}
	}
	if len(vals) <= 1 {
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{strings.TrimSpace(value)}, argIdx + 1
	}
	return fmt.Sprintf("%s = ANY($%d)", column, argIdx), []interface{}{vals}, argIdx + 1
}

// RefClause matches a UUID foreign key. Invalid ids match nothing.
func RefClause(column, value string, argIdx int) (string, []interface{}, int) {
	id, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return "1=0", nil, argIdx
	}
	return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{id}, argIdx + 1
}

// BoolClause matches true/false; anything else matches nothing.
func BoolClause(column, value string, argIdx int) (string, []interface{}, int) {
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{true}, argIdx + 1
	case "false", "0", "no":
		return fmt.Sprintf("%s = $%d", column, argIdx), []interface{}{false}, argIdx + 1
	}
	return "1=0", nil, argIdx
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func parseDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date format: %s", s)
}
