// Package store persists call detail records. One row is written per
// terminal call, keyed by the vendor call id, for audit and reconciliation.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/orderdial/orderdial/pkg/core/call"
)

//go:embed migrations/*.sql
var migrations embed.FS

// CDR is one call detail record.
type CDR struct {
	CallID      string
	CallType    string
	Status      string
	OrderID     string
	Digits      string
	PrepMinutes int
	Reason      string
	Transcript  string
	Duration    time.Duration
	EndedAt     time.Time
}

// Store writes call detail records to PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects, verifies the connection, and applies pending migrations.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &Store{pool: pool, logger: logger}, nil
}

// migrate runs goose over a stdlib handle borrowed from the pool's config.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts a record. Re-saving the same call id overwrites the prior
// row; terminal reports are emitted once but webhook retries may replay.
func (s *Store) Save(ctx context.Context, rec CDR) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records
			(call_id, call_type, status, order_id, digits, prep_minutes,
			 rejection_reason, transcript, duration_ms, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (call_id) DO UPDATE SET
			status           = EXCLUDED.status,
			digits           = EXCLUDED.digits,
			prep_minutes     = EXCLUDED.prep_minutes,
			rejection_reason = EXCLUDED.rejection_reason,
			transcript       = EXCLUDED.transcript,
			duration_ms      = EXCLUDED.duration_ms,
			ended_at         = EXCLUDED.ended_at`,
		rec.CallID, rec.CallType, rec.Status, nullable(rec.OrderID),
		nullable(rec.Digits), rec.PrepMinutes, nullable(rec.Reason),
		nullable(rec.Transcript), rec.Duration.Milliseconds(), rec.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save %s: %w", rec.CallID, err)
	}
	return nil
}

// Get loads one record by call id.
func (s *Store) Get(ctx context.Context, callID string) (CDR, error) {
	var rec CDR
	var orderID, digits, reason, transcript sql.NullString
	var durationMS int64

	err := s.pool.QueryRow(ctx, `
		SELECT call_id, call_type, status, order_id, digits, prep_minutes,
		       rejection_reason, transcript, duration_ms, ended_at
		FROM call_records WHERE call_id = $1`, callID).Scan(
		&rec.CallID, &rec.CallType, &rec.Status, &orderID, &digits,
		&rec.PrepMinutes, &reason, &transcript, &durationMS, &rec.EndedAt,
	)
	if err != nil {
		return CDR{}, fmt.Errorf("store: get %s: %w", callID, err)
	}
	rec.OrderID = orderID.String
	rec.Digits = digits.String
	rec.Reason = reason.String
	rec.Transcript = transcript.String
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}

// Report implements call.ReportSink so terminal calls land in the database
// through the same path as the HTTP reporter.
func (s *Store) Report(ctx context.Context, rep call.Report) error {
	return s.Save(ctx, recordFromReport(rep, time.Now()))
}

func recordFromReport(rep call.Report, endedAt time.Time) CDR {
	return CDR{
		CallID:      rep.CallID,
		OrderID:     rep.OrderID,
		CallType:    string(rep.Type),
		Status:      string(rep.Status),
		Digits:      rep.Answers.Digits,
		PrepMinutes: rep.Answers.PrepMinutes,
		Reason:      string(rep.Answers.Reason),
		Transcript:  rep.Answers.Transcript,
		Duration:    rep.Duration,
		EndedAt:     endedAt,
	}
}

func (s *Store) Close() {
	s.pool.Close()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
