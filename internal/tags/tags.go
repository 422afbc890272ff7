// Package tags implements polymorphic tagging: tags live in scopes and are
// mapped onto rows of any entity by (entity type, entity id).
package tags

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun"
)

// GlobalScope holds tags shared by every entity type.
const GlobalScope = "global"

type Tag struct {
	bun.BaseModel `bun:"table:tags,alias:t"`

	ID    int64  `bun:"id,pk,autoincrement" json:"id"`
	Scope string `bun:"scope,notnull,unique:tags_scope_text" json:"scope"`
	Text  string `bun:"text,notnull,unique:tags_scope_text" json:"text"`
}

type Mapping struct {
	bun.BaseModel `bun:"table:tag_map,alias:tm"`

	TagID      int64  `bun:"tag_id,notnull,unique:tag_map_entity"`
	EntityType string `bun:"entity_type,notnull,unique:tag_map_entity"`
	EntityID   int64  `bun:"entity_id,notnull,unique:tag_map_entity"`
}

// Ref names a tag by scope and text. An empty scope means GlobalScope.
type Ref struct {
	Scope string `json:"scope"`
	Text  string `json:"text"`
}

func (r Ref) normalize() Ref {
	r.Scope = strings.TrimSpace(r.Scope)
	if r.Scope == "" {
		r.Scope = GlobalScope
	}
	r.Text = strings.TrimSpace(r.Text)
	return r
}

// ParseRef reads "scope:text", falling back to defaultScope for bare text.
func ParseRef(s, defaultScope string) Ref {
	if scope, text, ok := strings.Cut(s, ":"); ok {
		return Ref{Scope: scope, Text: text}.normalize()
	}
	return Ref{Scope: defaultScope, Text: s}.normalize()
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// EnsureSchema creates the tag tables and their lookup index.
func (s *Service) EnsureSchema(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*Tag)(nil)).IfNotExists().Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to create tags table")
	}
	if _, err := db.NewCreateTable().Model((*Mapping)(nil)).IfNotExists().Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to create tag_map table")
	}
	_, err := db.NewCreateIndex().
		Model((*Mapping)(nil)).
		Index("idx_tag_map_entity").
		Column("entity_type", "entity_id").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to create tag_map entity index")
	}
	return nil
}

// FindOrCreate returns the tags for refs, creating missing ones. Blank refs
// are skipped; the result follows the order of refs without duplicates.
func (s *Service) FindOrCreate(ctx context.Context, db bun.IDB, refs ...Ref) ([]Tag, error) {
	out := make([]Tag, 0, len(refs))
	seen := make(map[Ref]bool, len(refs))
	for _, ref := range refs {
		ref = ref.normalize()
		if ref.Text == "" || seen[ref] {
			continue
		}
		seen[ref] = true

		tag := Tag{Scope: ref.Scope, Text: ref.Text}
		_, err := db.NewInsert().
			Model(&tag).
			On("CONFLICT (scope, text) DO NOTHING").
			Returning("NULL").
			Exec(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create tag %s:%s", ref.Scope, ref.Text)
		}
		err = db.NewSelect().
			Model(&tag).
			Where("scope = ?", ref.Scope).
			Where("text = ?", ref.Text).
			Scan(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load tag %s:%s", ref.Scope, ref.Text)
		}
		out = append(out, tag)
	}
	return out, nil
}

// Attach maps every tag in tagIDs onto every row in entityIDs in one
// insert. Existing mappings are kept.
func (s *Service) Attach(ctx context.Context, db bun.IDB, entityType string, entityIDs []int64, tagIDs ...int64) error {
	if len(entityIDs) == 0 || len(tagIDs) == 0 {
		return nil
	}
	tagIDs = dedupe(tagIDs)
	entityIDs = dedupe(entityIDs)
	rows := make([]Mapping, 0, len(entityIDs)*len(tagIDs))
	for _, entityID := range entityIDs {
		for _, id := range tagIDs {
			rows = append(rows, Mapping{TagID: id, EntityType: entityType, EntityID: entityID})
		}
	}
	_, err := db.NewInsert().
		Model(&rows).
		On("CONFLICT (tag_id, entity_type, entity_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to attach tags to %d %s", len(entityIDs), entityType)
	}
	return nil
}

// Detach removes mappings from the rows in entityIDs and reports how many
// existed. Without tagIDs every tag of those rows is removed.
func (s *Service) Detach(ctx context.Context, db bun.IDB, entityType string, entityIDs []int64, tagIDs ...int64) (int64, error) {
	if len(entityIDs) == 0 {
		return 0, nil
	}
	q := db.NewDelete().
		Model((*Mapping)(nil)).
		Where("entity_type = ?", entityType).
		Where("entity_id IN (?)", bun.In(entityIDs))
	if len(tagIDs) > 0 {
		q = q.Where("tag_id IN (?)", bun.In(tagIDs))
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to detach tags from %d %s", len(entityIDs), entityType)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Set replaces the tags of every row in entityIDs with refs.
func (s *Service) Set(ctx context.Context, db bun.IDB, entityType string, entityIDs []int64, refs ...Ref) ([]Tag, error) {
	found, err := s.FindOrCreate(ctx, db, refs...)
	if err != nil {
		return nil, err
	}
	if _, err := s.Detach(ctx, db, entityType, entityIDs); err != nil {
		return nil, err
	}
	ids := make([]int64, len(found))
	for i, t := range found {
		ids[i] = t.ID
	}
	if err := s.Attach(ctx, db, entityType, entityIDs, ids...); err != nil {
		return nil, err
	}
	return found, nil
}

// ForEntities loads the tags of every row in entityIDs, sorted by scope
// and text. Rows without tags are absent from the result.
func (s *Service) ForEntities(ctx context.Context, db bun.IDB, entityType string, entityIDs []int64) (map[int64][]Tag, error) {
	out := make(map[int64][]Tag)
	if len(entityIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		EntityID int64  `bun:"entity_id"`
		ID       int64  `bun:"id"`
		Scope    string `bun:"scope"`
		Text     string `bun:"text"`
	}
	err := db.NewSelect().
		Model((*Tag)(nil)).
		ColumnExpr("tm.entity_id, t.id, t.scope, t.text").
		Join("JOIN tag_map AS tm ON tm.tag_id = t.id").
		Where("tm.entity_type = ?", entityType).
		Where("tm.entity_id IN (?)", bun.In(entityIDs)).
		OrderExpr("tm.entity_id, t.scope, t.text").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tags for %s", entityType)
	}
	for _, r := range rows {
		out[r.EntityID] = append(out[r.EntityID], Tag{ID: r.ID, Scope: r.Scope, Text: r.Text})
	}
	return out, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
