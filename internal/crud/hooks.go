package crud

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/blagoySimandov/ampleadmin/internal/events"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

// HookContext is handed to every hook of one operation. Tx is the
// operation's transaction; hooks must not use any other connection.
type HookContext struct {
	Tx      bun.Tx
	Entity  *metadata.Entity
	Dialect dialect.Name

	// Values holds the raw assignments, virtual columns included.
	Values []record.ValueAssignment
	// Filters holds the raw filter group; Virtual its side-channel options.
	Filters query.FilterGroup
	Virtual []query.VirtualOption

	events []events.Event
}

// Publish queues events for publication once the transaction commits.
func (hc *HookContext) Publish(evs ...events.Event) {
	hc.events = append(hc.events, evs...)
}

// VirtualValue returns the value assigned to the virtual column name
// (without prefix).
func (hc *HookContext) VirtualValue(name string) (any, bool) {
	var (
		v     any
		found bool
	)
	for _, a := range hc.Values {
		if a.Column == metadata.VirtualPrefix+name {
			v, found = a.Value, true
		}
	}
	return v, found
}

func (hc *HookContext) VirtualFilter(name string) (query.VirtualOption, bool) {
	for _, v := range hc.Virtual {
		if v.Name == name {
			return v, true
		}
	}
	return query.VirtualOption{}, false
}

// ReadOperation is the compiled default read. Hooks may narrow Query
// further before it runs.
type ReadOperation struct {
	Request   *ReadRequest
	Query     *bun.SelectQuery
	Predicate *query.Predicate
	Fields    []string
	Offset    int
	Limit     int
}

type CreateOperation struct {
	Request *CreateRequest
	// Record is inserted after the before-hook; hooks may change it.
	Record record.Record
}

type UpdateOperation struct {
	Request   *UpdateRequest
	Record    record.Record
	Query     *bun.UpdateQuery
	Predicate *query.Predicate
}

type DeleteOperation struct {
	Request   *DeleteRequest
	Query     *bun.DeleteQuery
	Predicate *query.Predicate
}

// Result is what an operation produced, by default or through an override.
type Result struct {
	CreatedID   any
	Identifiers []any
	Affected    int64
	Results     []map[string]any
	Total       int
}

type BeforeCreator interface {
	BeforeCreate(ctx context.Context, hc *HookContext, op *CreateOperation) error
}

type CreateOverrider interface {
	OverrideCreate(ctx context.Context, hc *HookContext, op *CreateOperation) (Outcome, error)
}

type AfterCreator interface {
	AfterCreate(ctx context.Context, hc *HookContext, op *CreateOperation, res *Result) error
}

type BeforeReader interface {
	BeforeRead(ctx context.Context, hc *HookContext, op *ReadOperation) error
}

type ReadOverrider interface {
	OverrideRead(ctx context.Context, hc *HookContext, op *ReadOperation) (Outcome, error)
}

// AfterReader may return replacement results; a nil or empty slice keeps
// the engine's.
type AfterReader interface {
	AfterRead(ctx context.Context, hc *HookContext, op *ReadOperation, res *Result) ([]map[string]any, error)
}

type BeforeUpdater interface {
	BeforeUpdate(ctx context.Context, hc *HookContext, op *UpdateOperation) error
}

type UpdateOverrider interface {
	OverrideUpdate(ctx context.Context, hc *HookContext, op *UpdateOperation) (Outcome, error)
}

type AfterUpdater interface {
	AfterUpdate(ctx context.Context, hc *HookContext, op *UpdateOperation, res *Result) error
}

type BeforeDeleter interface {
	BeforeDelete(ctx context.Context, hc *HookContext, op *DeleteOperation) error
}

type DeleteOverrider interface {
	OverrideDelete(ctx context.Context, hc *HookContext, op *DeleteOperation) (Outcome, error)
}

type AfterDeleter interface {
	AfterDelete(ctx context.Context, hc *HookContext, op *DeleteOperation, res *Result) error
}
