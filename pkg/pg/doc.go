// Package pg connects the notification service to PostgreSQL.
//
// Connect opens a pgx/v5 pool with retries, Migrate applies goose migrations
// from any fs.FS (the notification package embeds its schema), and
// Healthcheck exposes a readiness check:
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, notification.Migrations, cfg, log); err != nil {
//		return err
//	}
//	repo := notification.NewPostgresRepository(pool)
package pg
