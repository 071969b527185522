// Package store persists users, workflow runs, and schedules in
// Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/mohammad-safakhou/crewline/internal/workflow"
)

type Store struct {
	DB *sql.DB
}

// New constructs the Store from environment configuration.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Run is one persisted workflow run.
type Run struct {
	ID            string
	UserID        string
	SessionID     string
	WorkflowID    string
	UserInput     string
	Answer        string
	Termination   string
	StepsExecuted int
	CreatedAt     time.Time
}

// StepRecord is one persisted step result.
type StepRecord struct {
	StepIndex int
	WorkerID  string
	OK        bool
	Response  string
	Error     string
	Goal      string
	Recovery  *workflow.FailureRecovery
	Needs     []workflow.Need
}

// SaveRun persists a finished run with all of its step results in one
// transaction and returns the run ID.
func (s *Store) SaveRun(ctx context.Context, run Run, results []workflow.StepResult) (string, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx, `
INSERT INTO runs (user_id, session_id, workflow_id, user_input, answer, termination, steps_executed)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		run.UserID, run.SessionID, run.WorkflowID, run.UserInput, run.Answer, run.Termination, run.StepsExecuted,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, r := range results {
		var recovery []byte
		if r.Recovery != nil {
			recovery, err = json.Marshal(r.Recovery)
			if err != nil {
				return "", fmt.Errorf("marshal recovery: %w", err)
			}
		}
		needs, err := json.Marshal(r.ParsedNeeds)
		if err != nil {
			return "", fmt.Errorf("marshal needs: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO run_steps (run_id, step_index, worker_id, ok, response, error, goal, recovery, parsed_needs)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			id, r.StepIndex, r.WorkerID, r.OK, r.Response, r.Error, r.Goal, nullableJSON(recovery), needs)
		if err != nil {
			return "", fmt.Errorf("insert step %d: %w", r.StepIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// GetRun loads a run owned by userID with its steps in order.
func (s *Store) GetRun(ctx context.Context, id, userID string) (Run, []StepRecord, error) {
	var run Run
	err := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, session_id, workflow_id, user_input, answer, termination, steps_executed, created_at
FROM runs WHERE id=$1 AND user_id=$2`, id, userID).Scan(
		&run.ID, &run.UserID, &run.SessionID, &run.WorkflowID, &run.UserInput,
		&run.Answer, &run.Termination, &run.StepsExecuted, &run.CreatedAt)
	if err != nil {
		return Run{}, nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
SELECT step_index, worker_id, ok, response, error, goal, recovery, parsed_needs
FROM run_steps WHERE run_id=$1 ORDER BY step_index`, id)
	if err != nil {
		return Run{}, nil, err
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var recovery, needs []byte
		if err := rows.Scan(&rec.StepIndex, &rec.WorkerID, &rec.OK, &rec.Response, &rec.Error, &rec.Goal, &recovery, &needs); err != nil {
			return Run{}, nil, err
		}
		if len(recovery) > 0 {
			var fr workflow.FailureRecovery
			if err := json.Unmarshal(recovery, &fr); err == nil {
				rec.Recovery = &fr
			}
		}
		if len(needs) > 0 {
			_ = json.Unmarshal(needs, &rec.Needs)
		}
		steps = append(steps, rec)
	}
	return run, steps, rows.Err()
}

// ListRuns returns the user's runs, newest first.
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, session_id, workflow_id, user_input, answer, termination, steps_executed, created_at
FROM runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.UserID, &run.SessionID, &run.WorkflowID, &run.UserInput,
			&run.Answer, &run.Termination, &run.StepsExecuted, &run.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Schedule is a recurring workflow request.
type Schedule struct {
	ID        string
	UserID    string
	Name      string
	UserInput string
	CronExpr  string
	Enabled   bool
	LastRunAt sql.NullTime
	CreatedAt time.Time
}

func (s *Store) CreateSchedule(ctx context.Context, userID, name, userInput, cronExpr string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO schedules (user_id, name, user_input, cron_expr, enabled)
VALUES ($1,$2,$3,$4,TRUE) RETURNING id`, userID, name, userInput, cronExpr).Scan(&id)
	return id, err
}

func (s *Store) ListEnabledSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, user_input, cron_expr, enabled, last_run_at, created_at
FROM schedules WHERE enabled ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.UserInput, &sc.CronExpr,
			&sc.Enabled, &sc.LastRunAt, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ListSchedules returns all schedules owned by a user.
func (s *Store) ListSchedules(ctx context.Context, userID string) ([]Schedule, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, name, user_input, cron_expr, enabled, last_run_at, created_at
FROM schedules WHERE user_id=$1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Schedule
	for rows.Next() {
		var sc Schedule
		if err := rows.Scan(&sc.ID, &sc.UserID, &sc.Name, &sc.UserInput, &sc.CronExpr,
			&sc.Enabled, &sc.LastRunAt, &sc.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *Store) MarkScheduleRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET last_run_at=$2 WHERE id=$1`, id, at)
	return err
}

func (s *Store) SetScheduleEnabled(ctx context.Context, id, userID string, enabled bool) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE schedules SET enabled=$3 WHERE id=$1 AND user_id=$2`, id, userID, enabled)
	return err
}
