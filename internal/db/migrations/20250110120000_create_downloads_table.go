package migrations

import (
	"context"

	"github.com/cozy-creator/model-cache/internal/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Download)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}

		_, err := db.NewCreateIndex().
			Model((*models.Download)(nil)).
			Index("downloads_artifact_id_idx").
			Column("artifact_id", "started_at").
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropTable().Model((*models.Download)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		return nil
	})
}
