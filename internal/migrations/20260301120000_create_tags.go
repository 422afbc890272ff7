package migrations

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/uptrace/bun"

	"github.com/blagoySimandov/ampleadmin/internal/tags"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		return tags.NewService().EnsureSchema(ctx, db)
	}, func(ctx context.Context, db *bun.DB) error {
		for _, model := range []any{(*tags.Mapping)(nil), (*tags.Tag)(nil)} {
			if _, err := db.NewDropTable().Model(model).IfExists().Exec(ctx); err != nil {
				return errors.Wrap(err, "failed to drop tag tables")
			}
		}
		return nil
	})
}
