package rdb

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ColumnDef describes one column in a CreateTable request.
type ColumnDef struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key,omitempty"`
	Unique     bool   `json:"unique,omitempty"`
	Nullable   bool   `json:"nullable,omitempty"`
}

// WhereClause is a single equality/comparison filter (spec.md §4.5).
type WhereClause struct {
	Column string      `json:"column"`
	Cmp    string      `json:"cmp"`
	Value  interface{} `json:"value"`
}

// OrderByClause sorts Select results by one column.
type OrderByClause struct {
	Column    string `json:"column"`
	Direction string `json:"direction"` // "ASC" or "DESC"
}

// Query is the tag-dispatched wire shape the Executor receives (spec.md §6):
// every variant carries a database name and is distinguished by Op.
type Query struct {
	Op       string       `json:"op"`
	Database string       `json:"database"`
	Token    string       `json:"token,omitempty"` // credential consulted by an installed Authenticator
	Table    string       `json:"table"`           // also Select's "from"
	Columns  []ColumnDef  `json:"columns,omitempty"`
	Values   []string     `json:"values,omitempty"` // raw JSON objects, one per row
	Select   *SelectQuery `json:"select,omitempty"`
	Set      string       `json:"set,omitempty"` // raw JSON object of field:value
	Where    *WhereClause `json:"where,omitempty"`
	Batch    []Query      `json:"batch,omitempty"`
}

// SelectQuery carries Select's operator-specific fields (its own
// Columns, distinct from CreateTable's Columns), nested under Query to
// avoid a field-name collision between the two meanings of "columns".
type SelectQuery struct {
	Columns []string       `json:"columns"`
	Where   *WhereClause   `json:"where,omitempty"`
	OrderBy *OrderByClause `json:"order_by,omitempty"`
	Limit   *int           `json:"limit,omitempty"`
	Offset  *int           `json:"offset,omitempty"`
	Join    *string        `json:"join,omitempty"`
}

const (
	OpCreateTable = "create_table"
	OpDropTable   = "drop_table"
	OpInsert      = "insert"
	OpSelect      = "select"
	OpUpdate      = "update"
	OpDelete      = "delete"
	OpBatch       = "batch"
)

// DatabaseName resolves the database a (possibly nested, for Batch) query
// targets. Batch sub-queries may omit database and inherit the parent's.
func (q *Query) DatabaseName(parentDB string) string {
	if q.Database != "" {
		return q.Database
	}
	return parentDB
}

// checkFilter evaluates where against the JSON-object document and reports
// whether it matches (spec.md §4.5's check_filter).
func checkFilter(document string, where *WhereClause) bool {
	if where == nil {
		return true
	}

	field := gjson.Get(document, where.Column)
	if !field.Exists() {
		return false
	}

	switch where.Cmp {
	case "=":
		return valuesEqual(field, where.Value)
	case "!=":
		return !valuesEqual(field, where.Value)
	case ">", "<", ">=", "<=":
		return compareNumeric(field, where.Value, where.Cmp)
	case "LIKE":
		return likeMatch(field.String(), toStringValue(where.Value))
	case "IN":
		items, ok := where.Value.([]interface{})
		if !ok {
			return false
		}
		for _, item := range items {
			if valuesEqual(field, item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func valuesEqual(field gjson.Result, value interface{}) bool {
	switch v := value.(type) {
	case string:
		return field.Type == gjson.String && field.String() == v
	case bool:
		return (v && field.Type == gjson.True) || (!v && field.Type == gjson.False)
	case float64:
		return field.Type == gjson.Number && field.Float() == v
	case nil:
		return field.Type == gjson.Null
	default:
		return false
	}
}

func compareNumeric(field gjson.Result, value interface{}, op string) bool {
	if field.Type != gjson.Number {
		return false
	}
	rhs, ok := toFloat(value)
	if !ok {
		return false
	}
	lhs := field.Float()

	switch op {
	case ">":
		return lhs > rhs
	case "<":
		return lhs < rhs
	case ">=":
		return lhs >= rhs
	case "<=":
		return lhs <= rhs
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toStringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// likeMatch implements the four LIKE shapes spec.md §4.5 allows: a leading
// '%', a trailing '%', both (contains), or neither (exact equality).
func likeMatch(s, pattern string) bool {
	hasPrefix := strings.HasPrefix(pattern, "%")
	hasSuffix := strings.HasSuffix(pattern, "%")

	switch {
	case hasPrefix && hasSuffix && len(pattern) >= 2:
		return strings.Contains(s, pattern[1:len(pattern)-1])
	case hasSuffix:
		return strings.HasPrefix(s, pattern[:len(pattern)-1])
	case hasPrefix:
		return strings.HasSuffix(s, pattern[1:])
	default:
		return s == pattern
	}
}

// compareForOrder implements spec.md §4.5's ordering coercion: string
// comparison if both coerce to string, else numeric, else integer, else
// equal; an absent field sorts after a present one.
func compareForOrder(a, b gjson.Result, aExists, bExists bool) int {
	if !aExists && !bExists {
		return 0
	}
	if !aExists {
		return 1
	}
	if !bExists {
		return -1
	}

	if a.Type == gjson.String && b.Type == gjson.String {
		return strings.Compare(a.String(), b.String())
	}

	if a.Type == gjson.Number && b.Type == gjson.Number {
		af, bf := a.Float(), b.Float()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}

	ai, aok := toInt(a)
	bi, bok := toInt(b)
	if aok && bok {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}

	return 0
}

func toInt(r gjson.Result) (int64, bool) {
	if r.Type != gjson.Number {
		return 0, false
	}
	return r.Int(), true
}
