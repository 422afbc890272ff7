package record

import (
	"reflect"
	"sort"
	"strings"
)

// MarkerPrefix introduces a pending-upload marker. The remainder of the
// string is the attachment handle.
const MarkerPrefix = "@upload:"

// Leaf is a single position inside a field value: either an upload still to
// be resolved or a literal that passes through untouched.
type Leaf interface {
	leaf()
}

type PendingUpload struct {
	Handle string
}

// StoredPath is a literal leaf, typically a path stored by an earlier request.
type StoredPath struct {
	Value any
}

func (PendingUpload) leaf() {}
func (StoredPath) leaf()    {}

func classify(v any) Leaf {
	if s, ok := v.(string); ok && strings.HasPrefix(s, MarkerPrefix) {
		return PendingUpload{Handle: strings.TrimPrefix(s, MarkerPrefix)}
	}
	return StoredPath{Value: v}
}

type shape int

const (
	shapeScalar shape = iota
	shapeArray
	shapeMap
)

// field is a value taken apart into leaves. Arrays and keyed maps are walked
// one level deep; anything nested further is a literal leaf.
type field struct {
	shape  shape
	keys   []string
	leaves []Leaf
}

func parse(v any) field {
	if v == nil {
		return field{shape: shapeScalar, leaves: []Leaf{StoredPath{}}}
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break
		}
		f := field{shape: shapeArray, leaves: make([]Leaf, rv.Len())}
		for i := range f.leaves {
			f.leaves[i] = classify(rv.Index(i).Interface())
		}
		return f
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		f := field{shape: shapeMap}
		for _, k := range rv.MapKeys() {
			f.keys = append(f.keys, k.String())
		}
		sort.Strings(f.keys)
		for _, k := range f.keys {
			f.leaves = append(f.leaves, classify(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface()))
		}
		return f
	}
	return field{shape: shapeScalar, leaves: []Leaf{classify(v)}}
}

func (f field) pending() bool {
	for _, l := range f.leaves {
		if _, ok := l.(PendingUpload); ok {
			return true
		}
	}
	return false
}

// value reassembles the field. It must only be called once every leaf has
// been resolved to a StoredPath.
func (f field) value() any {
	lit := func(l Leaf) any { return l.(StoredPath).Value }
	switch f.shape {
	case shapeArray:
		out := make([]any, len(f.leaves))
		for i, l := range f.leaves {
			out[i] = lit(l)
		}
		return out
	case shapeMap:
		out := make(map[string]any, len(f.keys))
		for i, k := range f.keys {
			out[k] = lit(f.leaves[i])
		}
		return out
	}
	return lit(f.leaves[0])
}
