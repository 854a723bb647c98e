package reliability

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const parkedTable = "parked_messages"

var parkedColumns = []string{
	"id",
	"source_queue",
	"message_id",
	"correlation_id",
	"routing_key",
	"retry_count",
	"last_error",
	"body",
	"parked_at",
}

// Migrate applies the parked message schema to the database at dsn
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil && !errors.Is(err, goose.ErrNoNextVersion) {
		return fmt.Errorf("failed to migrate parked messages: %w", err)
	}
	return nil
}

// PostgresStore persists parked messages in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and verifies the connection
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &StoreError{Op: "connect", Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &StoreError{Op: "ping", Err: err}
	}

	return &PostgresStore{pool: pool}, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Save implements Store. Saving an existing id is a no-op.
func (s *PostgresStore) Save(ctx context.Context, msg *ParkedMessage) error {
	query, args, err := sq.Insert(parkedTable).
		Columns(parkedColumns...).
		Values(
			msg.ID,
			msg.SourceQueue,
			msg.MessageID,
			msg.CorrelationID,
			msg.RoutingKey,
			msg.RetryCount,
			msg.LastError,
			msg.Body,
			msg.ParkedAt,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return &StoreError{Op: "save", ID: msg.ID, Err: fmt.Errorf("failed to build insert query: %w", err)}
	}

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return &StoreError{Op: "save", ID: msg.ID, Err: err}
	}
	return nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, id string) (*ParkedMessage, error) {
	query, args, err := sq.Select(parkedColumns...).
		From(parkedTable).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, &StoreError{Op: "get", ID: id, Err: fmt.Errorf("failed to build select query: %w", err)}
	}

	msg, err := scanParked(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &StoreError{Op: "get", ID: id, Err: ErrParkedMessageNotFound}
	}
	if err != nil {
		return nil, &StoreError{Op: "get", ID: id, Err: err}
	}
	return msg, nil
}

// List implements Store
func (s *PostgresStore) List(ctx context.Context, limit int) ([]*ParkedMessage, error) {
	builder := sq.Select(parkedColumns...).
		From(parkedTable).
		OrderBy("parked_at DESC").
		PlaceholderFormat(sq.Dollar)
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &StoreError{Op: "list", Err: fmt.Errorf("failed to build select query: %w", err)}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []*ParkedMessage
	for rows.Next() {
		msg, err := scanParked(rows)
		if err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	return out, nil
}

// Count implements Store
func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From(parkedTable).ToSql()
	if err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, &StoreError{Op: "count", Err: err}
	}
	return n, nil
}

// Close implements Store
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanParked(row pgx.Row) (*ParkedMessage, error) {
	var msg ParkedMessage
	err := row.Scan(
		&msg.ID,
		&msg.SourceQueue,
		&msg.MessageID,
		&msg.CorrelationID,
		&msg.RoutingKey,
		&msg.RetryCount,
		&msg.LastError,
		&msg.Body,
		&msg.ParkedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
