package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/nexus/internal/interview"
)

// Schema is the SQL DDL for the interview_reports table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_reports (
    id             TEXT PRIMARY KEY,
    candidate_name TEXT NOT NULL DEFAULT '',
    role           TEXT NOT NULL DEFAULT '',
    transcript     TEXT NOT NULL DEFAULT '',
    resume         JSONB,
    feedback       JSONB,
    overall_score  DOUBLE PRECISION,
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interview_reports_candidate ON interview_reports(candidate_name);
CREATE INDEX IF NOT EXISTS idx_interview_reports_started ON interview_reports(started_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Résumé and feedback are
// stored as JSONB; the overall score is copied into its own column for
// ordering and filtering.
type PostgresStore struct {
	db    DB
	close func()
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore wraps an existing connection or pool. The caller owns db
// and must run [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn, pings it and migrates the schema.
// [PostgresStore.Close] releases the pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := &PostgresStore{db: pool, close: pool.Close}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool opened by [Open]. It is a no-op for stores built
// with [NewPostgresStore].
func (s *PostgresStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if p, ok := s.db.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save upserts r.
func (s *PostgresStore) Save(ctx context.Context, r *interview.Report) error {
	if r == nil {
		return errors.New("store: save: nil report")
	}
	if r.StartedAt.IsZero() || r.EndedAt.IsZero() {
		return errors.New("store: save: report needs start and end times")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	resumeJSON, err := marshalNullable(r.Resume)
	if err != nil {
		return fmt.Errorf("store: marshal resume: %w", err)
	}
	feedbackJSON, err := marshalNullable(r.Feedback)
	if err != nil {
		return fmt.Errorf("store: marshal feedback: %w", err)
	}
	var score *float64
	if r.Feedback != nil {
		score = &r.Feedback.OverallScore
	}

	const query = `
		INSERT INTO interview_reports (
			id, candidate_name, role, transcript, resume, feedback,
			overall_score, started_at, ended_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			candidate_name = EXCLUDED.candidate_name,
			role = EXCLUDED.role,
			transcript = EXCLUDED.transcript,
			resume = EXCLUDED.resume,
			feedback = EXCLUDED.feedback,
			overall_score = EXCLUDED.overall_score,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at`

	_, err = s.db.Exec(ctx, query,
		r.ID, r.CandidateName, r.Role, r.Transcript, resumeJSON, feedbackJSON,
		score, r.StartedAt, r.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save %q: %w", r.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, candidate_name, role, transcript, resume, feedback, started_at, ended_at
	FROM interview_reports`

// Get returns the report with the given ID, or (nil, nil) if none exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*interview.Report, error) {
	r, err := scanReport(s.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	return r, nil
}

// List returns reports newest first.
func (s *PostgresStore) List(ctx context.Context, candidate string, limit int) ([]interview.Report, error) {
	query := selectColumns + ` WHERE ($1 = '' OR candidate_name = $1) ORDER BY started_at DESC`
	args := []any{candidate}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var reports []interview.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		reports = append(reports, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return reports, nil
}

// scanReport reads one row in [selectColumns] order.
func scanReport(row pgx.Row) (*interview.Report, error) {
	var (
		r                        interview.Report
		resumeJSON, feedbackJSON []byte
	)
	if err := row.Scan(
		&r.ID, &r.CandidateName, &r.Role, &r.Transcript,
		&resumeJSON, &feedbackJSON, &r.StartedAt, &r.EndedAt,
	); err != nil {
		return nil, err
	}
	if len(resumeJSON) > 0 {
		r.Resume = new(interview.ResumeData)
		if err := json.Unmarshal(resumeJSON, r.Resume); err != nil {
			return nil, fmt.Errorf("unmarshal resume: %w", err)
		}
	}
	if len(feedbackJSON) > 0 {
		r.Feedback = new(interview.Feedback)
		if err := json.Unmarshal(feedbackJSON, r.Feedback); err != nil {
			return nil, fmt.Errorf("unmarshal feedback: %w", err)
		}
	}
	return &r, nil
}

// marshalNullable encodes v, mapping a nil pointer to SQL NULL.
func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}
