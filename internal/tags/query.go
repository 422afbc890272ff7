package tags

import (
	"context"
	"sort"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun"
)

type queryOptions struct {
	matchAll      bool
	withoutGlobal bool
}

type QueryOption func(*queryOptions)

// MatchAll requires every requested tag instead of any of them.
func MatchAll() QueryOption {
	return func(o *queryOptions) { o.matchAll = true }
}

// WithoutGlobal stops refs from also matching the same text in GlobalScope.
func WithoutGlobal() QueryOption {
	return func(o *queryOptions) { o.withoutGlobal = true }
}

// Query returns the ids of entityType rows carrying the requested tags,
// given directly by id or by ref, in ascending order.
//
// A ref matches its own scope and, unless WithoutGlobal is set, the global
// scope. Unknown refs match nothing, so under MatchAll they empty the result.
func (s *Service) Query(ctx context.Context, db bun.IDB, entityType string, tagIDs []int64, refs []Ref, opts ...QueryOption) ([]int64, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	// each requirement is a set of tag ids any of which satisfies it
	var reqs [][]int64
	for _, id := range dedupe(tagIDs) {
		reqs = append(reqs, []int64{id})
	}
	for _, ref := range refs {
		ref = ref.normalize()
		if ref.Text == "" {
			continue
		}
		ids, err := s.resolve(ctx, db, ref, !o.withoutGlobal)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, ids)
	}
	if len(reqs) == 0 {
		return nil, nil
	}

	if !o.matchAll {
		var all []int64
		for _, r := range reqs {
			all = append(all, r...)
		}
		return s.entitiesWith(ctx, db, entityType, dedupe(all))
	}

	var result map[int64]bool
	for _, r := range reqs {
		ids, err := s.entitiesWith(ctx, db, entityType, r)
		if err != nil {
			return nil, err
		}
		next := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if result == nil || result[id] {
				next[id] = true
			}
		}
		result = next
		if len(result) == 0 {
			return nil, nil
		}
	}
	out := make([]int64, 0, len(result))
	for id := range result {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Filter restricts qb to rows whose primary key carries the requested tags.
func (s *Service) Filter(ctx context.Context, db bun.IDB, qb bun.QueryBuilder, entityType, pk string, tagIDs []int64, refs []Ref, opts ...QueryOption) (bun.QueryBuilder, error) {
	ids, err := s.Query(ctx, db, entityType, tagIDs, refs, opts...)
	if err != nil {
		return qb, err
	}
	if len(ids) == 0 {
		return qb.Where("1 = 0"), nil
	}
	return qb.Where("? IN (?)", bun.Ident(pk), bun.In(ids)), nil
}

func (s *Service) resolve(ctx context.Context, db bun.IDB, ref Ref, includeGlobal bool) ([]int64, error) {
	scopes := []string{ref.Scope}
	if includeGlobal && ref.Scope != GlobalScope {
		scopes = append(scopes, GlobalScope)
	}
	var ids []int64
	err := db.NewSelect().
		Model((*Tag)(nil)).
		Column("id").
		Where("text = ?", ref.Text).
		Where("scope IN (?)", bun.In(scopes)).
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve tag %s:%s", ref.Scope, ref.Text)
	}
	return ids, nil
}

func (s *Service) entitiesWith(ctx context.Context, db bun.IDB, entityType string, tagIDs []int64) ([]int64, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := db.NewSelect().
		Model((*Mapping)(nil)).
		Distinct().
		Column("entity_id").
		Where("entity_type = ?", entityType).
		Where("tag_id IN (?)", bun.In(tagIDs)).
		OrderExpr("entity_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query %s by tags", entityType)
	}
	return ids, nil
}
