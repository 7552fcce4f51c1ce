package macro

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists macros in a `macros` table over a pgxpool connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// DSN is a minimal Postgres connection-string builder for pgxpool.ParseConfig.
type DSN struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DSN) String() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode)
}

func NewPostgresStore(ctx context.Context, dsn DSN, maxConns int32) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn.String())
	if err != nil {
		return nil, fmt.Errorf("macro: postgres: parse pool config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("macro: postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("macro: postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Macro, error) {
	var m Macro
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, kind, body FROM macros WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.Kind, &m.Body)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Macro{}, ErrNotFound
		}
		return Macro{}, fmt.Errorf("macro: postgres: get %q: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Macro, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, kind, body FROM macros ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("macro: postgres: list: %w", err)
	}
	defer rows.Close()

	macros := make([]Macro, 0)
	for rows.Next() {
		var m Macro
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind, &m.Body); err != nil {
			return nil, fmt.Errorf("macro: postgres: list: scan: %w", err)
		}
		macros = append(macros, m)
	}
	return macros, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, m Macro) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("macro: postgres: put %q: begin: %w", m.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO macros (id, name, kind, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			body = EXCLUDED.body,
			updated_at = NOW()
	`, m.ID, m.Name, string(m.Kind), m.Body)
	if err != nil {
		return fmt.Errorf("macro: postgres: put %q: %w", m.ID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM macros WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("macro: postgres: delete %q: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
