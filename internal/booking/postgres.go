package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists bookings in PostgreSQL. The primary key on the code
// column is what makes Reserve atomic under concurrent callers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS bookings (
			code TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			slot_start TIMESTAMPTZ NOT NULL,
			slot_end TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_slot_start ON bookings (slot_start);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init booking schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Reserve(ctx context.Context, r Record) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.Status == "" {
		r.Status = StatusConfirmed
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO bookings (code, topic, slot_start, slot_end, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (code) DO NOTHING`,
		r.Code, r.Topic, r.Slot.Start, r.Slot.End, string(r.Status), r.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("reserve booking: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, code string) (Record, error) {
	var r Record
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT code, topic, slot_start, slot_end, status, created_at, updated_at
		 FROM bookings WHERE code = $1`, code,
	).Scan(&r.Code, &r.Topic, &r.Slot.Start, &r.Slot.End, &status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get booking: %w", err)
	}
	r.Status = Status(status)
	return r, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, code string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET status = $2, updated_at = $3 WHERE code = $1`,
		code, string(status), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set booking status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, topic, slot_start, slot_end, status, created_at, updated_at
		 FROM bookings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.Code, &r.Topic, &r.Slot.Start, &r.Slot.End, &status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan booking: %w", err)
		}
		r.Status = Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
