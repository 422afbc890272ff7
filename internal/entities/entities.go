// Package entities declares the data types served by the admin API.
package entities

import (
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/tags"
)

const CategoriesEntity = "categories"

type Category struct {
	bun.BaseModel `bun:"table:categories,alias:c"`

	ID       int64   `bun:"id,pk,autoincrement" json:"id"`
	Name     string  `bun:"name,notnull,unique" json:"name"`
	Slug     string  `bun:"slug,notnull,unique" json:"slug"`
	ParentID *int64  `bun:"parent_id" json:"parent_id,omitempty"`
	Position int     `bun:"position,notnull,default:0" json:"position"`
	Notes    *string `bun:"notes" json:"-"`
}

var CategoryDefinition = metadata.Definition{
	Name:    CategoriesEntity,
	Model:   (*Category)(nil),
	Visible: []string{"id", "name", "slug", "parent_id", "position"},
}

// Models lists the bun models of every entity, in creation order.
func Models() []any {
	return []any{(*Product)(nil), (*Category)(nil)}
}

// Register declares every entity on the engine's registry and binds its
// hooks.
func Register(engine *crud.Engine, svc *tags.Service) error {
	for _, def := range []metadata.Definition{ProductDefinition, CategoryDefinition} {
		if _, err := engine.Registry.Register(def); err != nil {
			return err
		}
	}
	return engine.Register(ProductsEntity, NewProductHooks(svc))
}
