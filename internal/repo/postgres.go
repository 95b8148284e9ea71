// Package repo implements clipchan's persistence layer on Postgres via
// pgx, with schema migrations run through goose. Grounded on
// ThirdCoastInteractive/rewind's internal/db/database.go, adapted from
// sqlc-generated Queries to hand-written repositories matching the
// original_source/src/data/*.rs shape (sea_orm entities -> pgx rows).
package repo

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const dbRetryCount = 15

// DB wraps a pgx connection pool shared by every repository.
type DB struct {
	*pgxpool.Pool
}

// Connect opens the pool and waits (with golden-ratio backoff, the
// teacher pack's own retry idiom) for Postgres to accept connections.
func Connect(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	const goldenRatio = 1.61803398875
	for i := 0; i < dbRetryCount; i++ {
		if err := pool.Ping(ctx); err == nil {
			return &DB{pool}, nil
		}
		sleep := time.Duration(float64(i)*goldenRatio) * time.Second
		time.Sleep(sleep)
	}
	return nil, fmt.Errorf("could not connect to database after %d retries", dbRetryCount)
}

func (db *DB) Close() { db.Pool.Close() }

// Migrate applies every embedded migration up to the latest version.
func (db *DB) Migrate(ctx context.Context) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	stdDB := stdlib.OpenDBFromPool(db.Pool)
	defer stdDB.Close()

	if err := goose.UpContext(ctx, stdDB, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
