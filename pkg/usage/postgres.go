package usage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Each counter
// is one row keyed by its kind.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] over the given connection or
// pool. The caller is responsible for running [Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pgx pool for the given DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("usage: ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema migrations for the given DSN using a
// short-lived database/sql connection, then closes it.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("usage: open for migrate: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("usage: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("usage: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, kind Kind) error {
	const query = `
		INSERT INTO usage_counters (kind, count)
		VALUES ($1, 1)
		ON CONFLICT (kind) DO UPDATE SET
			count = usage_counters.count + 1,
			updated_at = now()`
	if _, err := s.db.Exec(ctx, query, string(kind)); err != nil {
		return fmt.Errorf("usage: increment %q: %w", kind, err)
	}
	return nil
}

func (s *PostgresStore) Snapshot(ctx context.Context) (map[Kind]int64, error) {
	const query = `SELECT kind, count FROM usage_counters`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("usage: snapshot query: %w", err)
	}
	defer rows.Close()

	out := make(map[Kind]int64)
	for rows.Next() {
		var kind string
		var count int64
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("usage: snapshot scan: %w", err)
		}
		out[Kind(kind)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage: snapshot: %w", err)
	}
	return out, nil
}
