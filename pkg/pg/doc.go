// Package pg opens the pgx connection pool used by the Postgres-backed
// stores and the transactional outbox, and applies the embedded goose
// migrations at startup.
//
//	pool, err := pg.Connect(ctx, cfg.Postgres)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg.Postgres, log); err != nil {
//		return err
//	}
package pg
