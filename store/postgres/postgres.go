// Package postgres is the production store.Store backed by Postgres,
// grounded on the jackc/pgx/v5 usage pattern in subnetmarco-ssepg (pgx.Connect,
// context-scoped Exec/Query), adapted from ssepg's tableless LISTEN/NOTIFY
// fanout to a real durable table, since the spec requires insert/fetch
// ordered by (priority, timestamp) to survive a restart.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stompd/stompd/store"
)

// Config names the connection parameters from the broker's CLI surface
// (spec §6: -dbhost, -dbport, -dbdatabase, -dbsockdir, -dbuser, -dbpassword).
type Config struct {
	Host     string
	Port     string
	Database string
	SockDir  string
	User     string
	Password string
}

// DSN builds a libpq-style connection string from cfg. When SockDir is set
// it takes precedence over Host, matching libpq's own preference for a unix
// socket directory when both are given.
func (c Config) DSN() string {
	host := c.Host
	if c.SockDir != "" {
		host = c.SockDir
	}
	dsn := fmt.Sprintf("host=%s dbname=%s", host, c.Database)
	if c.Port != "" {
		dsn += fmt.Sprintf(" port=%s", c.Port)
	}
	if c.User != "" {
		dsn += fmt.Sprintf(" user=%s", c.User)
	}
	if c.Password != "" {
		dsn += fmt.Sprintf(" password=%s", c.Password)
	}
	return dsn
}

const schema = `
CREATE TABLE IF NOT EXISTS queued_messages (
	id          TEXT PRIMARY KEY,
	destination TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	ts          TIMESTAMPTZ NOT NULL,
	body        BYTEA NOT NULL
);
CREATE INDEX IF NOT EXISTS queued_messages_dest_order
	ON queued_messages (destination, priority ASC, ts ASC);
`

// Store is a Postgres-backed store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres using cfg and ensures the backing table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Insert writes rec into the queued_messages table.
func (s *Store) Insert(ctx context.Context, rec store.Record) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO queued_messages (id, destination, priority, ts, body) VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.Destination, rec.Priority, ts, rec.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Fetch returns and deletes up to limit rows for destination, ordered by
// (priority ASC, ts ASC).
func (s *Store) Fetch(ctx context.Context, destination string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT id, destination, priority, ts, body FROM queued_messages
		 WHERE destination = $1 ORDER BY priority ASC, ts ASC LIMIT $2
		 FOR UPDATE SKIP LOCKED`,
		destination, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var recs []store.Record
	var ids []string
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Destination, &r.Priority, &r.Timestamp, &r.Body); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		recs = append(recs, r)
		ids = append(ids, r.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM queued_messages WHERE id = ANY($1)`, ids); err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return recs, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ store.Store = (*Store)(nil)
