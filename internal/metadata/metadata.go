// Package metadata holds the per-entity declarations the CRUD engine compiles
// against: which persisted columns are visible on the wire and which accept
// file uploads. Entities are registered once at boot and never mutated.
package metadata

import (
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun/schema"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
)

// VirtualPrefix marks side-channel columns that only an entity's hooks
// understand. They are never compiled into SQL.
const VirtualPrefix = "$"

func IsVirtual(column string) bool {
	return strings.HasPrefix(column, VirtualPrefix)
}

type ColumnKind int

const (
	KindScalar ColumnKind = iota
	KindBool
	KindJSON
	KindArray
)

func (k ColumnKind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	case KindArray:
		return "array"
	default:
		return "scalar"
	}
}

type Column struct {
	Name string
	Kind ColumnKind
	PK   bool
}

// UploadRule governs a field whose values may carry pending-upload markers.
type UploadRule struct {
	// AllowedMime holds path.Match patterns such as "image/*".
	AllowedMime    []string
	Multiple       bool
	StoragePath    string
	FilenamePrefix string
}

type Definition struct {
	Name string
	// Model is a bun model, e.g. (*Product)(nil).
	Model      any
	PrimaryKey string
	Visible    []string
	Uploads    map[string]UploadRule
}

type Entity struct {
	Name       string
	Table      string
	PrimaryKey string

	columns map[string]Column
	order   []string
	visible []string
	uploads map[string]UploadRule
}

func (e *Entity) Column(name string) (Column, bool) {
	c, ok := e.columns[name]
	return c, ok
}

func (e *Entity) Persists(name string) bool {
	_, ok := e.columns[name]
	return ok
}

// Visible reports whether name is a persisted, wire-visible column.
func (e *Entity) Visible(name string) bool {
	if !e.Persists(name) {
		return false
	}
	for _, v := range e.visible {
		if v == name {
			return true
		}
	}
	return false
}

func (e *Entity) VisibleFields() []string {
	return append([]string(nil), e.visible...)
}

func (e *Entity) Columns() []string {
	return append([]string(nil), e.order...)
}

func (e *Entity) Upload(name string) (UploadRule, bool) {
	r, ok := e.uploads[name]
	return r, ok
}

// TableSource resolves bun table schemas; *bun.DB satisfies it.
type TableSource interface {
	Table(typ reflect.Type) *schema.Table
}

type Registry struct {
	mu       sync.RWMutex
	tables   TableSource
	entities map[string]*Entity
}

func NewRegistry(tables TableSource) *Registry {
	return &Registry{
		tables:   tables,
		entities: make(map[string]*Entity),
	}
}

func (r *Registry) Register(def Definition) (*Entity, error) {
	if def.Name == "" {
		return nil, errors.New("entity name required")
	}
	if def.Model == nil {
		return nil, errors.Errorf("entity %s: model required", def.Name)
	}
	typ := reflect.TypeOf(def.Model)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	table := r.tables.Table(typ)

	ent := &Entity{
		Name:    def.Name,
		Table:   table.Name,
		columns: make(map[string]Column, len(table.Fields)),
		uploads: make(map[string]UploadRule, len(def.Uploads)),
	}
	for _, f := range table.Fields {
		ent.columns[f.Name] = Column{Name: f.Name, Kind: kindOf(f), PK: f.IsPK}
		ent.order = append(ent.order, f.Name)
		if f.IsPK && ent.PrimaryKey == "" {
			ent.PrimaryKey = f.Name
		}
	}
	if def.PrimaryKey != "" {
		ent.PrimaryKey = def.PrimaryKey
	}
	if !ent.Persists(ent.PrimaryKey) {
		return nil, errors.Errorf("entity %s: primary key %q is not a column", def.Name, ent.PrimaryKey)
	}

	visible := def.Visible
	if len(visible) == 0 {
		visible = ent.order
	}
	for _, name := range visible {
		if !ent.Persists(name) {
			return nil, errors.Errorf("entity %s: visible field %q is not a column", def.Name, name)
		}
		ent.visible = append(ent.visible, name)
	}
	for name, rule := range def.Uploads {
		if !ent.Persists(name) {
			return nil, errors.Errorf("entity %s: upload field %q is not a column", def.Name, name)
		}
		rule.AllowedMime = append([]string(nil), rule.AllowedMime...)
		ent.uploads[name] = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[def.Name]; ok {
		return nil, errors.Errorf("entity %s already registered", def.Name)
	}
	r.entities[def.Name] = ent
	return ent, nil
}

func (r *Registry) MustRegister(def Definition) *Entity {
	ent, err := r.Register(def)
	if err != nil {
		panic(err)
	}
	return ent
}

func (r *Registry) Get(name string) (*Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ent, ok := r.entities[name]
	if !ok {
		return nil, apperr.NotFound("unknown entity %q", name)
	}
	return ent, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entities))
	for name := range r.entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var timeType = reflect.TypeOf(time.Time{})

func kindOf(f *schema.Field) ColumnKind {
	if f.Tag.HasOption("array") {
		return KindArray
	}
	sqlType := strings.ToLower(f.UserSQLType)
	if sqlType == "" {
		sqlType = strings.ToLower(f.DiscoveredSQLType)
	}
	if strings.Contains(sqlType, "json") {
		return KindJSON
	}
	typ := f.IndirectType
	switch typ.Kind() {
	case reflect.Bool:
		return KindBool
	case reflect.Map:
		return KindJSON
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return KindScalar
		}
		return KindJSON
	case reflect.Struct:
		if typ == timeType {
			return KindScalar
		}
		return KindJSON
	}
	return KindScalar
}
