package crud

import (
	"context"
	"sort"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

func (r *run) table() bun.Ident {
	return bun.Ident(r.entity.Table)
}

func (r *run) compile(filters query.FilterGroup) *query.Predicate {
	plain, virtual := filters.Split()
	r.hc.Filters = filters
	r.hc.Virtual = virtual
	return query.Compile(r.entity, plain, r.hc.Dialect)
}

func (r *run) read(ctx context.Context, req *ReadRequest) (*Result, error) {
	r.phase = "compile"
	offset, limit, err := query.Window(req.From, req.To)
	if err != nil {
		return nil, err
	}
	fields := query.Fields(r.entity, req.Fields)
	if len(fields) == 0 {
		fields = r.entity.VisibleFields()
	}
	pred := r.compile(req.Filters)

	q := r.hc.Tx.NewSelect().TableExpr("?", r.table())
	q = query.ApplyColumns(q, fields)
	pred.Apply(q.QueryBuilder())
	q = query.ApplySort(q, r.entity, req.Sort)
	q = query.ApplyWindow(q, offset, limit)

	op := &ReadOperation{Request: req, Query: q, Predicate: pred, Fields: fields, Offset: offset, Limit: limit}

	if h, ok := r.hooks.(BeforeReader); ok {
		r.phase = "before"
		if err := h.BeforeRead(ctx, r.hc, op); err != nil {
			return nil, err
		}
	}

	var res *Result
	if h, ok := r.hooks.(ReadOverrider); ok {
		r.phase = "override"
		out, err := h.OverrideRead(ctx, r.hc, op)
		if err != nil {
			return nil, err
		}
		res = r.override(ctx, ActionRead, out)
	} else {
		r.phase = "default"
		rows := make([]map[string]interface{}, 0)
		if err := op.Query.Scan(ctx, &rows); err != nil {
			return nil, apperr.Store(err, "select rows")
		}
		total, err := op.Query.Count(ctx)
		if err != nil {
			return nil, apperr.Store(err, "count rows")
		}
		res = &Result{Results: decodeRows(r.entity, rows), Total: total}
		res.Identifiers = identifiers(r.entity.PrimaryKey, res.Results)
	}

	if h, ok := r.hooks.(AfterReader); ok {
		r.phase = "after"
		replaced, err := h.AfterRead(ctx, r.hc, op, res)
		if err != nil {
			return nil, err
		}
		if len(replaced) > 0 {
			res.Results = replaced
		}
	}
	return res, nil
}

func (r *run) create(ctx context.Context, req *CreateRequest) (*Result, error) {
	r.phase = "compile"
	r.hc.Values = req.Values
	rec, written, err := r.engine.Builder.Build(ctx, r.entity, req.Values, r.atts)
	r.written = append(r.written, written...)
	if err != nil {
		return nil, err
	}
	op := &CreateOperation{Request: req, Record: rec}

	if h, ok := r.hooks.(BeforeCreator); ok {
		r.phase = "before"
		if err := h.BeforeCreate(ctx, r.hc, op); err != nil {
			return nil, err
		}
	}

	var res *Result
	if h, ok := r.hooks.(CreateOverrider); ok {
		r.phase = "override"
		out, err := h.OverrideCreate(ctx, r.hc, op)
		if err != nil {
			return nil, err
		}
		res = r.override(ctx, ActionCreate, out)
	} else {
		r.phase = "default"
		if res, err = r.insert(ctx, op.Record); err != nil {
			return nil, err
		}
	}

	if h, ok := r.hooks.(AfterCreator); ok {
		r.phase = "after"
		if err := h.AfterCreate(ctx, r.hc, op, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *run) insert(ctx context.Context, rec record.Record) (*Result, error) {
	values, err := record.Encode(r.entity, rec, r.hc.Dialect)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, apperr.Validation("values", "nothing to insert")
	}
	pk := r.entity.PrimaryKey
	q := r.hc.Tx.NewInsert().Model(&values).TableExpr("?", r.table())

	var id any
	if r.engine.DB.Dialect().Features().Has(feature.InsertReturning) {
		var rows []map[string]interface{}
		if _, err := q.Returning("?", bun.Ident(pk)).Exec(ctx, &rows); err != nil {
			return nil, apperr.Store(err, "insert row")
		}
		if len(rows) > 0 {
			id = rows[0][pk]
		}
	} else {
		out, err := q.Exec(ctx)
		if err != nil {
			return nil, apperr.Store(err, "insert row")
		}
		if last, err := out.LastInsertId(); err == nil {
			id = last
		}
	}
	if id == nil {
		id = values[pk]
	}
	return &Result{CreatedID: id, Identifiers: []any{id}, Affected: 1}, nil
}

func (r *run) update(ctx context.Context, req *UpdateRequest) (*Result, error) {
	r.phase = "compile"
	r.hc.Values = req.Values
	pred := r.compile(req.Filters)
	if pred.Empty() {
		return nil, apperr.Validation("filters", "update requires at least one filter")
	}
	rec, written, err := r.engine.Builder.Build(ctx, r.entity, req.Values, r.atts)
	r.written = append(r.written, written...)
	if err != nil {
		return nil, err
	}
	q := r.hc.Tx.NewUpdate().TableExpr("?", r.table())
	pred.Apply(q.QueryBuilder())
	op := &UpdateOperation{Request: req, Record: rec, Query: q, Predicate: pred}

	if h, ok := r.hooks.(BeforeUpdater); ok {
		r.phase = "before"
		if err := h.BeforeUpdate(ctx, r.hc, op); err != nil {
			return nil, err
		}
	}

	var res *Result
	if h, ok := r.hooks.(UpdateOverrider); ok {
		r.phase = "override"
		out, err := h.OverrideUpdate(ctx, r.hc, op)
		if err != nil {
			return nil, err
		}
		res = r.override(ctx, ActionUpdate, out)
	} else {
		r.phase = "default"
		if res, err = r.applyUpdate(ctx, op); err != nil {
			return nil, err
		}
	}

	if h, ok := r.hooks.(AfterUpdater); ok {
		r.phase = "after"
		if err := h.AfterUpdate(ctx, r.hc, op, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *run) applyUpdate(ctx context.Context, op *UpdateOperation) (*Result, error) {
	values, err := record.Encode(r.entity, op.Record, r.hc.Dialect)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		// only virtual columns were assigned: report the matched rows so
		// after-hooks can act on them
		ids, err := r.matching(ctx, op.Predicate)
		if err != nil {
			return nil, err
		}
		return &Result{Identifiers: ids, Affected: int64(len(ids))}, nil
	}

	columns := make([]string, 0, len(values))
	for c := range values {
		columns = append(columns, c)
	}
	sort.Strings(columns)
	for _, c := range columns {
		op.Query = op.Query.Set("? = ?", bun.Ident(c), values[c])
	}

	if r.engine.DB.Dialect().Features().Has(feature.Returning) {
		var rows []map[string]interface{}
		pk := r.entity.PrimaryKey
		if _, err := op.Query.Returning("?", bun.Ident(pk)).Exec(ctx, &rows); err != nil {
			return nil, apperr.Store(err, "update rows")
		}
		ids := identifiers(pk, rows)
		return &Result{Identifiers: ids, Affected: int64(len(ids))}, nil
	}

	ids, err := r.matching(ctx, op.Predicate)
	if err != nil {
		return nil, err
	}
	out, err := op.Query.Exec(ctx)
	if err != nil {
		return nil, apperr.Store(err, "update rows")
	}
	n, _ := out.RowsAffected()
	return &Result{Identifiers: ids, Affected: n}, nil
}

func (r *run) delete(ctx context.Context, req *DeleteRequest) (*Result, error) {
	r.phase = "compile"
	pred := r.compile(req.Filters)
	q := r.hc.Tx.NewDelete().TableExpr("?", r.table())
	if pred.Empty() {
		q = q.Where("1 = 1")
	} else {
		pred.Apply(q.QueryBuilder())
	}
	op := &DeleteOperation{Request: req, Query: q, Predicate: pred}

	if h, ok := r.hooks.(BeforeDeleter); ok {
		r.phase = "before"
		if err := h.BeforeDelete(ctx, r.hc, op); err != nil {
			return nil, err
		}
	}

	var res *Result
	if h, ok := r.hooks.(DeleteOverrider); ok {
		r.phase = "override"
		out, err := h.OverrideDelete(ctx, r.hc, op)
		if err != nil {
			return nil, err
		}
		res = r.override(ctx, ActionDelete, out)
	} else {
		r.phase = "default"
		var err error
		if res, err = r.applyDelete(ctx, op); err != nil {
			return nil, err
		}
	}

	if h, ok := r.hooks.(AfterDeleter); ok {
		r.phase = "after"
		if err := h.AfterDelete(ctx, r.hc, op, res); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r *run) applyDelete(ctx context.Context, op *DeleteOperation) (*Result, error) {
	if r.engine.DB.Dialect().Features().Has(feature.Returning) {
		var rows []map[string]interface{}
		pk := r.entity.PrimaryKey
		if _, err := op.Query.Returning("?", bun.Ident(pk)).Exec(ctx, &rows); err != nil {
			return nil, apperr.Store(err, "delete rows")
		}
		ids := identifiers(pk, rows)
		return &Result{Identifiers: ids, Affected: int64(len(ids))}, nil
	}
	ids, err := r.matching(ctx, op.Predicate)
	if err != nil {
		return nil, err
	}
	out, err := op.Query.Exec(ctx)
	if err != nil {
		return nil, apperr.Store(err, "delete rows")
	}
	n, _ := out.RowsAffected()
	return &Result{Identifiers: ids, Affected: n}, nil
}

// matching selects the primary keys of the rows pred matches.
func (r *run) matching(ctx context.Context, pred *query.Predicate) ([]any, error) {
	pk := r.entity.PrimaryKey
	q := r.hc.Tx.NewSelect().TableExpr("?", r.table()).ColumnExpr("?", bun.Ident(pk))
	pred.Apply(q.QueryBuilder())
	var rows []map[string]interface{}
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, apperr.Store(err, "select matching rows")
	}
	return identifiers(pk, rows), nil
}

func identifiers(pk string, rows []map[string]interface{}) []any {
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		if id, ok := row[pk]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
