package entities

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/events"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/tags"
)

const ProductsEntity = "products"

type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID         int64                  `bun:"id,pk,autoincrement" json:"id"`
	Name       string                 `bun:"name,notnull" json:"name"`
	Price      float64                `bun:"price,notnull,default:0" json:"price"`
	Active     bool                   `bun:"active,notnull,default:true" json:"active"`
	Image      *string                `bun:"image" json:"image,omitempty"`
	Gallery    []string               `bun:"gallery,type:jsonb" json:"gallery,omitempty"`
	Attributes map[string]interface{} `bun:"attributes,type:jsonb" json:"attributes,omitempty"`
	Archived   bool                   `bun:"archived,notnull,default:false" json:"archived"`
	CreatedAt  time.Time              `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

var ProductDefinition = metadata.Definition{
	Name:    ProductsEntity,
	Model:   (*Product)(nil),
	Visible: []string{"id", "name", "price", "active", "image", "gallery", "attributes", "archived"},
	Uploads: map[string]metadata.UploadRule{
		"image": {
			AllowedMime:    []string{"image/*"},
			StoragePath:    "products",
			FilenamePrefix: "img_",
		},
		"gallery": {
			AllowedMime:    []string{"image/*"},
			Multiple:       true,
			StoragePath:    "products/gallery",
			FilenamePrefix: "gal_",
		},
	},
}

// ProductHooks tags products through the "$tags" column, filters reads by
// the "$tag" filter and archives instead of deleting.
type ProductHooks struct {
	Tags *tags.Service
}

func NewProductHooks(svc *tags.Service) *ProductHooks {
	return &ProductHooks{Tags: svc}
}

func (h *ProductHooks) BeforeCreate(_ context.Context, _ *crud.HookContext, op *crud.CreateOperation) error {
	name, _ := op.Record["name"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.Validation("name", "required")
	}
	op.Record["name"] = name
	if price, ok := op.Record["price"].(float64); ok && price < 0 {
		return apperr.Validation("price", "must not be negative")
	}
	return nil
}

func (h *ProductHooks) AfterCreate(ctx context.Context, hc *crud.HookContext, _ *crud.CreateOperation, res *crud.Result) error {
	return h.setTags(ctx, hc, res.Identifiers)
}

func (h *ProductHooks) AfterUpdate(ctx context.Context, hc *crud.HookContext, _ *crud.UpdateOperation, res *crud.Result) error {
	return h.setTags(ctx, hc, res.Identifiers)
}

func (h *ProductHooks) setTags(ctx context.Context, hc *crud.HookContext, identifiers []any) error {
	raw, ok := hc.VirtualValue("tags")
	if !ok {
		return nil
	}
	refs, err := tagRefs(raw)
	if err != nil {
		return err
	}
	ids, err := int64IDs(identifiers)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		if _, err := h.Tags.Set(ctx, hc.Tx, ProductsEntity, ids, refs...); err != nil {
			return err
		}
		ev := events.New(events.EventTagged, ProductsEntity, "tag")
		ev.IDs = identifiers
		ev.Affected = int64(len(ids))
		ev.Metadata["tags"] = refStrings(refs)
		hc.Publish(ev)
	}
	return nil
}

// BeforeRead hides archived products unless the request filters on
// "archived", and narrows the select by the "$tag" virtual filter. The
// "@>" operator requires every listed tag; anything else matches any.
func (h *ProductHooks) BeforeRead(ctx context.Context, hc *crud.HookContext, op *crud.ReadOperation) error {
	if !filtersOn(hc.Filters, "archived") {
		op.Query = op.Query.Where("? = ?", bun.Ident("archived"), false)
	}
	v, ok := hc.VirtualFilter("tag")
	if !ok {
		return nil
	}
	refs, err := tagRefs(v.Operand)
	if err != nil {
		return err
	}
	var opts []tags.QueryOption
	if v.Operator == query.OpContains {
		opts = append(opts, tags.MatchAll())
	}
	_, err = h.Tags.Filter(ctx, hc.Tx, op.Query.QueryBuilder(), ProductsEntity, hc.Entity.PrimaryKey, nil, refs, opts...)
	return err
}

// AfterRead adds a "tags" list to every row that carries its id.
func (h *ProductHooks) AfterRead(ctx context.Context, hc *crud.HookContext, _ *crud.ReadOperation, res *crud.Result) ([]map[string]any, error) {
	if len(res.Results) == 0 || len(res.Identifiers) == 0 {
		return nil, nil
	}
	ids, err := int64IDs(res.Identifiers)
	if err != nil {
		return nil, err
	}
	byID, err := h.Tags.ForEntities(ctx, hc.Tx, ProductsEntity, ids)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, len(res.Results))
	for i, row := range res.Results {
		shaped := make(map[string]any, len(row)+1)
		for k, v := range row {
			shaped[k] = v
		}
		if id, err := toInt64(row[hc.Entity.PrimaryKey]); err == nil {
			labels := make([]string, 0, len(byID[id]))
			for _, t := range byID[id] {
				labels = append(labels, label(t))
			}
			shaped["tags"] = labels
		}
		out[i] = shaped
	}
	return out, nil
}

// OverrideDelete archives the matched products instead of deleting them.
func (h *ProductHooks) OverrideDelete(ctx context.Context, hc *crud.HookContext, op *crud.DeleteOperation) (crud.Outcome, error) {
	sel := hc.Tx.NewSelect().
		TableExpr("?", bun.Ident(hc.Entity.Table)).
		ColumnExpr("?", bun.Ident(hc.Entity.PrimaryKey)).
		Where("? = ?", bun.Ident("archived"), false)
	op.Predicate.Apply(sel.QueryBuilder())
	var ids []int64
	if err := sel.Scan(ctx, &ids); err != nil {
		return crud.Outcome{}, apperr.Store(err, "select products to archive")
	}
	if len(ids) == 0 {
		return crud.Outcome{Operation: crud.OutcomeUpdated}, nil
	}

	res, err := hc.Tx.NewUpdate().
		TableExpr("?", bun.Ident(hc.Entity.Table)).
		Set("? = ?", bun.Ident("archived"), true).
		Where("? IN (?)", bun.Ident(hc.Entity.PrimaryKey), bun.In(ids)).
		Exec(ctx)
	if err != nil {
		return crud.Outcome{}, apperr.Store(err, "archive products")
	}
	n, _ := res.RowsAffected()

	identifiers := make([]any, len(ids))
	for i, id := range ids {
		identifiers[i] = id
	}
	ev := events.New(events.EventArchived, ProductsEntity, string(crud.ActionDelete))
	ev.IDs = identifiers
	ev.Affected = n
	hc.Publish(ev)

	return crud.Outcome{Operation: crud.OutcomeUpdated, Affected: n, Identifiers: identifiers}, nil
}

func filtersOn(filters query.FilterGroup, column string) bool {
	for _, group := range filters {
		for _, opt := range group {
			if opt.Column == column {
				return true
			}
		}
	}
	return false
}

// tagRefs accepts "text", "scope:text", a list of those, or a list of
// {"scope", "text"} objects. Bare text lands in the products scope.
func tagRefs(v any) ([]tags.Ref, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		var refs []tags.Ref
		for _, part := range strings.Split(x, ",") {
			if strings.TrimSpace(part) != "" {
				refs = append(refs, tags.ParseRef(part, ProductsEntity))
			}
		}
		return refs, nil
	case []string:
		refs := make([]tags.Ref, 0, len(x))
		for _, s := range x {
			refs = append(refs, tags.ParseRef(s, ProductsEntity))
		}
		return refs, nil
	case []any:
		refs := make([]tags.Ref, 0, len(x))
		for _, item := range x {
			switch t := item.(type) {
			case string:
				refs = append(refs, tags.ParseRef(t, ProductsEntity))
			case map[string]any:
				scope, _ := t["scope"].(string)
				text, _ := t["text"].(string)
				if scope == "" {
					scope = ProductsEntity
				}
				refs = append(refs, tags.Ref{Scope: scope, Text: text})
			default:
				return nil, apperr.InvalidFormat("$tags", "unsupported tag %v", item)
			}
		}
		return refs, nil
	}
	return nil, apperr.InvalidFormat("$tags", "expected a string or a list of tags")
}

func label(t tags.Tag) string {
	if t.Scope == ProductsEntity {
		return t.Text
	}
	return t.Scope + ":" + t.Text
}

func refStrings(refs []tags.Ref) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = fmt.Sprintf("%s:%s", r.Scope, r.Text)
	}
	return out
}

func int64IDs(values []any) ([]int64, error) {
	out := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, apperr.InvalidFormat("id", "unexpected identifier %v", v)
}
