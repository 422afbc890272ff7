package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/blagoySimandov/ampleadmin/internal/metadata"
)

// Clause is one compiled alternative: a bun where expression and its args.
type Clause struct {
	Column   string
	Operator Operator
	Expr     string
	Args     []any
	Params   []string
}

// Predicate is a compiled FilterGroup. Each entry of Groups is rendered as a
// parenthesized OR of its clauses; entries are joined with AND.
type Predicate struct {
	Groups [][]Clause
	params map[string]any
}

func (p *Predicate) Empty() bool {
	return p == nil || len(p.Groups) == 0
}

// Params returns the bound operand values keyed by "<column>_<n>", where n
// is a counter running across the whole predicate.
func (p *Predicate) Params() map[string]any {
	out := make(map[string]any, len(p.params))
	for k, v := range p.params {
		out[k] = v
	}
	return out
}

// Apply appends the predicate to any select, update or delete query.
func (p *Predicate) Apply(qb bun.QueryBuilder) bun.QueryBuilder {
	if p == nil {
		return qb
	}
	for _, group := range p.Groups {
		group := group
		qb = qb.WhereGroup(" AND ", func(qb bun.QueryBuilder) bun.QueryBuilder {
			for _, c := range group {
				qb = qb.WhereOr(c.Expr, c.Args...)
			}
			return qb
		})
	}
	return qb
}

type compiler struct {
	ent     *metadata.Entity
	dialect dialect.Name
	counter int
	params  map[string]any
}

// Compile turns filters into a predicate over ent's wire-visible columns.
// Virtual columns, invisible columns, unknown operators and malformed
// operands are skipped silently.
func Compile(ent *metadata.Entity, filters FilterGroup, d dialect.Name) *Predicate {
	c := &compiler{ent: ent, dialect: d, params: make(map[string]any)}
	pred := &Predicate{params: c.params}
	for _, group := range filters {
		if group.vacuous() {
			continue
		}
		var clauses []Clause
		for _, opt := range group {
			if clause, ok := c.option(opt); ok {
				clauses = append(clauses, clause)
			}
		}
		if len(clauses) > 0 {
			pred.Groups = append(pred.Groups, clauses)
		}
	}
	return pred
}

func (c *compiler) bind(column string, v any) string {
	name := fmt.Sprintf("%s_%d", column, c.counter)
	c.counter++
	c.params[name] = v
	return name
}

func (c *compiler) option(opt FilterOption) (Clause, bool) {
	if opt.IsVirtual() || !c.ent.Visible(opt.Column) {
		return Clause{}, false
	}
	col, _ := c.ent.Column(opt.Column)
	if col.Kind == metadata.KindBool && isUnset(opt.Operand) {
		return Clause{}, false
	}

	cl := Clause{Column: col.Name, Operator: opt.Operator}
	ident := bun.Ident(col.Name)
	add := func(expr string, args ...any) (Clause, bool) {
		cl.Expr = expr
		cl.Args = append([]any{ident}, args...)
		return cl, true
	}
	scalar := func() (any, bool) {
		if _, isSlice := toSlice(opt.Operand); isSlice {
			return nil, false
		}
		if _, isMap := opt.Operand.(map[string]any); isMap {
			return nil, false
		}
		cl.Params = append(cl.Params, c.bind(col.Name, opt.Operand))
		return opt.Operand, true
	}
	pattern := func() (string, bool) {
		s, ok := opt.Operand.(string)
		if !ok {
			return "", false
		}
		cl.Params = append(cl.Params, c.bind(col.Name, s))
		return s, true
	}

	switch opt.Operator {
	case OpEq, OpNe:
		v, ok := scalar()
		if !ok {
			return Clause{}, false
		}
		if v == nil {
			if opt.Operator == OpEq {
				return add("? IS NULL")
			}
			return add("? IS NOT NULL")
		}
		if opt.Operator == OpEq {
			return add("? = ?", v)
		}
		return add("? <> ?", v)

	case OpLt, OpLte, OpGt, OpGte:
		v, ok := scalar()
		if !ok || v == nil {
			return Clause{}, false
		}
		return add("? "+string(opt.Operator)+" ?", v)

	case OpBetween:
		bounds, ok := toSlice(opt.Operand)
		if !ok || len(bounds) != 2 {
			return Clause{}, false
		}
		cl.Params = append(cl.Params, c.bind(col.Name, bounds[0]), c.bind(col.Name, bounds[1]))
		return add("? BETWEEN ? AND ?", bounds[0], bounds[1])

	case OpIn, OpNotIn:
		values, ok := toSlice(opt.Operand)
		if !ok || len(values) == 0 {
			return Clause{}, false
		}
		cl.Params = append(cl.Params, c.bind(col.Name, values))
		if opt.Operator == OpIn {
			return add("? IN (?)", bun.In(values))
		}
		return add("? NOT IN (?)", bun.In(values))

	case OpMatch, OpNotMatch:
		p, ok := pattern()
		if !ok {
			return Clause{}, false
		}
		not := ""
		if opt.Operator == OpNotMatch {
			not = "NOT "
		}
		if c.dialect == dialect.SQLite {
			return add("? "+not+"GLOB ?", globPattern(p))
		}
		return add("? "+not+"LIKE ?", p)

	case OpIMatch, OpNotIMatch:
		p, ok := pattern()
		if !ok {
			return Clause{}, false
		}
		not := ""
		if opt.Operator == OpNotIMatch {
			not = "NOT "
		}
		if c.dialect == dialect.SQLite {
			return add("? "+not+"LIKE ?", p)
		}
		return add("? "+not+"ILIKE ?", p)

	case OpIMatchAny:
		values, ok := toSlice(opt.Operand)
		if !ok || len(values) == 0 {
			return Clause{}, false
		}
		patterns := make([]string, 0, len(values))
		for _, v := range values {
			s, isString := v.(string)
			if !isString {
				return Clause{}, false
			}
			patterns = append(patterns, s)
		}
		cl.Params = append(cl.Params, c.bind(col.Name, patterns))
		if c.dialect == dialect.SQLite {
			parts := make([]string, len(patterns))
			args := make([]any, 0, 2*len(patterns))
			for i, p := range patterns {
				parts[i] = "? LIKE ?"
				args = append(args, ident, p)
			}
			cl.Expr = "(" + strings.Join(parts, " OR ") + ")"
			cl.Args = args
			return cl, true
		}
		return add("? ILIKE ANY (?)", pgdialect.Array(patterns))

	case OpContains:
		return c.contains(cl, col, opt.Operand)
	}
	return Clause{}, false
}

func (c *compiler) contains(cl Clause, col metadata.Column, operand any) (Clause, bool) {
	if operand == nil {
		return Clause{}, false
	}
	ident := bun.Ident(col.Name)
	cl.Params = append(cl.Params, c.bind(col.Name, operand))

	if c.dialect != dialect.SQLite {
		if col.Kind == metadata.KindArray {
			values, ok := toSlice(operand)
			if !ok {
				values = []any{operand}
			}
			cl.Expr, cl.Args = "? @> ?", []any{ident, PGArray(values)}
			return cl, true
		}
		doc, err := json.Marshal(operand)
		if err != nil {
			return Clause{}, false
		}
		cl.Expr, cl.Args = "? @> ?::jsonb", []any{ident, string(doc)}
		return cl, true
	}

	var (
		parts []string
		args  []any
	)
	if obj, ok := operand.(map[string]any); ok {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, "json_extract(?, ?) = ?")
			args = append(args, ident, "$."+k, obj[k])
		}
	} else {
		values, ok := toSlice(operand)
		if !ok {
			values = []any{operand}
		}
		for _, v := range values {
			parts = append(parts, "EXISTS (SELECT 1 FROM json_each(?) WHERE json_each.value = ?)")
			args = append(args, ident, v)
		}
	}
	if len(parts) == 0 {
		return Clause{}, false
	}
	cl.Expr = "(" + strings.Join(parts, " AND ") + ")"
	cl.Args = args
	return cl, true
}

// PGArray narrows values to a typed slice so pgdialect renders a proper
// array literal.
func PGArray(values []any) any {
	strs := make([]string, 0, len(values))
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		switch x := v.(type) {
		case string:
			strs = append(strs, x)
		case float64:
			nums = append(nums, x)
		case int:
			nums = append(nums, float64(x))
		case int64:
			nums = append(nums, float64(x))
		default:
			strs = append(strs, fmt.Sprint(x))
		}
	}
	if len(nums) == len(values) {
		return pgdialect.Array(nums)
	}
	for _, n := range nums {
		strs = append(strs, fmt.Sprint(n))
	}
	return pgdialect.Array(strs)
}

// globPattern rewrites a LIKE pattern into a case-sensitive sqlite GLOB.
func globPattern(like string) string {
	var b strings.Builder
	for _, r := range like {
		switch r {
		case '%':
			b.WriteByte('*')
		case '_':
			b.WriteByte('?')
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
