package migrations

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/entities"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		for _, model := range entities.Models() {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return errors.Wrap(err, "failed to create catalog table")
			}
		}
		_, err := db.NewCreateIndex().
			Model((*entities.Product)(nil)).
			Index("idx_products_archived").
			Column("archived").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to create products archived index")
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := entities.Models()
		for i := len(models) - 1; i >= 0; i-- {
			if _, err := db.NewDropTable().Model(models[i]).IfExists().Exec(ctx); err != nil {
				return errors.Wrap(err, "failed to drop catalog table")
			}
		}
		return nil
	})
}
