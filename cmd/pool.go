package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// openPool connects to the pipeline database using the configured DSN and
// pool limits. Callers own the returned pool and must Close it.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := cfg.DatabaseURL()
	if dsn == "" {
		return nil, eris.New("no database_url configured (set parcel.database_url or store.database_url)")
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "parse database_url")
	}
	if cfg.Store.Pool.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Store.Pool.MaxConns
	}
	if cfg.Store.Pool.MinConns > 0 {
		poolCfg.MinConns = cfg.Store.Pool.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ping database")
	}

	return pool, nil
}
