// Package query compiles declarative read/write requests into bun query
// fragments against an entity's metadata.
package query

import (
	"reflect"
	"strings"

	"github.com/blagoySimandov/ampleadmin/internal/metadata"
)

type Operator string

const (
	OpEq        Operator = "=="
	OpNe        Operator = "!="
	OpLt        Operator = "<"
	OpLte       Operator = "<="
	OpGt        Operator = ">"
	OpGte       Operator = ">="
	OpBetween   Operator = "<=>"
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT IN"
	OpMatch     Operator = "~"
	OpNotMatch  Operator = "!~"
	OpIMatch    Operator = "~~"
	OpNotIMatch Operator = "!~~"
	OpIMatchAny Operator = "~~ IN"
	OpContains  Operator = "@>"
)

// Unset is the boolean operand meaning "do not filter on this column".
const Unset = "unset"

// FilterOption is a single comparison. Column is either a persisted field or
// a virtual side-channel name (see metadata.VirtualPrefix).
type FilterOption struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Operand  any      `json:"operand"`
}

func (o FilterOption) IsVirtual() bool {
	return metadata.IsVirtual(o.Column)
}

// OrGroup holds alternatives; a row satisfies it when any alternative holds.
type OrGroup []FilterOption

// FilterGroup is a conjunction of OrGroups evaluated in order. A row
// qualifies iff it satisfies every OrGroup. On the wire it is an array of
// arrays of FilterOption.
type FilterGroup []OrGroup

// VirtualOption is a side-channel instruction addressed to an entity's hooks.
type VirtualOption struct {
	Name     string
	Operator Operator
	Operand  any
}

// Split separates real-column options from virtual ones. Virtual options
// are removed from the returned FilterGroup; OrGroups left empty are dropped.
func (g FilterGroup) Split() (FilterGroup, []VirtualOption) {
	var (
		real    FilterGroup
		virtual []VirtualOption
	)
	for _, group := range g {
		var kept OrGroup
		for _, opt := range group {
			if opt.IsVirtual() {
				virtual = append(virtual, VirtualOption{
					Name:     strings.TrimPrefix(opt.Column, metadata.VirtualPrefix),
					Operator: opt.Operator,
					Operand:  opt.Operand,
				})
				continue
			}
			kept = append(kept, opt)
		}
		if len(kept) > 0 {
			real = append(real, kept)
		}
	}
	return real, virtual
}

// Virtual returns the first virtual option addressed to name.
func (g FilterGroup) Virtual(name string) (VirtualOption, bool) {
	_, virtual := g.Split()
	for _, v := range virtual {
		if v.Name == name {
			return v, true
		}
	}
	return VirtualOption{}, false
}

// vacuous reports whether every alternative is a set-membership test with an
// empty operand. Such a group is dropped rather than compiled.
func (g OrGroup) vacuous() bool {
	if len(g) == 0 {
		return true
	}
	for _, opt := range g {
		if opt.Operator != OpIn && opt.Operator != OpNotIn {
			return false
		}
		values, ok := toSlice(opt.Operand)
		if opt.Operand != nil && (!ok || len(values) > 0) {
			return false
		}
	}
	return true
}

func isUnset(operand any) bool {
	values, ok := toSlice(operand)
	if !ok {
		values = []any{operand}
	}
	return len(values) == 1 && values[0] == Unset
}

// toSlice converts any slice or array operand to []any. Byte slices are
// treated as scalars.
func toSlice(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
