package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Submission statuses; the strings are the canonical external identifiers.
const (
	StatusPending             = "PENDING"
	StatusRunning             = "RUNNING"
	StatusAccepted            = "ACCEPTED"
	StatusWrongAnswer         = "WRONG_ANSWER"
	StatusTimeLimitExceeded   = "TIME_LIMIT_EXCEEDED"
	StatusMemoryLimitExceeded = "MEMORY_LIMIT_EXCEEDED"
	StatusRuntimeError        = "RUNTIME_ERROR"
	StatusCompilationError    = "COMPILATION_ERROR"
	StatusInternalError       = "INTERNAL_ERROR"
)

// IsTerminalStatus reports whether a submission in this status is done; a
// terminal submission must never be re-judged.
func IsTerminalStatus(status string) bool {
	return status != StatusPending && status != StatusRunning
}

// TestCaseResult is one per-test outcome. Stdout is only set for wrong
// answers and both excerpts are capped at 4 KiB.
type TestCaseResult struct {
	TestCaseName    string   `json:"test_case_name"`
	Status          string   `json:"status"`
	Stdout          *string  `json:"stdout,omitempty"`
	Stderr          *string  `json:"stderr,omitempty"`
	ExecutionTimeMS *float64 `json:"execution_time_ms,omitempty"`
	MemoryUsedKB    *int64   `json:"memory_used_kb,omitempty"`
}

// Submission is a user submission record.
type Submission struct {
	ID          string
	ProblemID   string
	ContestID   string
	Language    string
	Code        string
	SubmitterID int64
	Status      string
	Results     []TestCaseResult
	SubmittedAt time.Time
}

var ErrSubmissionNotFound = errors.New("submission not found")

// SubmissionRepository defines persistence operations needed by intake and
// the judging pipeline. Implementations must be safe for concurrent use.
type SubmissionRepository interface {
	InsertPending(ctx context.Context, sub *Submission) error
	Get(ctx context.Context, id string) (*Submission, error)
	// MarkRunning transitions PENDING -> RUNNING; it returns false when the
	// submission was not pending, so a terminal record is never re-judged.
	MarkRunning(ctx context.Context, id string) (bool, error)
	UpdateStatusAndResults(ctx context.Context, id, status string, results []TestCaseResult) error
	ListByOwner(ctx context.Context, submitterID int64) ([]Submission, error)
	ListByOwnerAndContest(ctx context.Context, submitterID int64, contestID string) ([]Submission, error)
}

// PgSubmissionRepository is a pgx implementation over the submissions table.
type PgSubmissionRepository struct {
	db *pgxpool.Pool
}

func NewPgSubmissionRepository(db *pgxpool.Pool) *PgSubmissionRepository {
	return &PgSubmissionRepository{db: db}
}

func (r *PgSubmissionRepository) InsertPending(ctx context.Context, sub *Submission) error {
	const q = `INSERT INTO submissions (id, problem_id, contest_id, language, code, submitter_id, status, submitted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.db.Exec(ctx, q, sub.ID, sub.ProblemID, sub.ContestID, sub.Language, sub.Code,
		sub.SubmitterID, StatusPending, sub.SubmittedAt.UTC())
	return err
}

func (r *PgSubmissionRepository) Get(ctx context.Context, id string) (*Submission, error) {
	const q = `SELECT id, problem_id, contest_id, language, code, submitter_id, status, results_json, submitted_at
FROM submissions WHERE id=$1`
	var s Submission
	var resultsJSON *string
	if err := r.db.QueryRow(ctx, q, id).Scan(
		&s.ID, &s.ProblemID, &s.ContestID, &s.Language, &s.Code,
		&s.SubmitterID, &s.Status, &resultsJSON, &s.SubmittedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if resultsJSON != nil && *resultsJSON != "" {
		if err := json.Unmarshal([]byte(*resultsJSON), &s.Results); err != nil {
			return nil, fmt.Errorf("decode results for %s: %w", id, err)
		}
	}
	return &s, nil
}

func (r *PgSubmissionRepository) MarkRunning(ctx context.Context, id string) (bool, error) {
	const q = `UPDATE submissions SET status=$1 WHERE id=$2 AND status=$3`
	ct, err := r.db.Exec(ctx, q, StatusRunning, id, StatusPending)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

// UpdateStatusAndResults publishes the terminal verdict and the full result
// list in one statement.
func (r *PgSubmissionRepository) UpdateStatusAndResults(ctx context.Context, id, status string, results []TestCaseResult) error {
	encoded, err := json.Marshal(results)
	if err != nil {
		return err
	}
	const q = `UPDATE submissions SET status=$1, results_json=$2 WHERE id=$3`
	ct, err := r.db.Exec(ctx, q, status, string(encoded), id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrSubmissionNotFound
	}
	return nil
}

func (r *PgSubmissionRepository) ListByOwner(ctx context.Context, submitterID int64) ([]Submission, error) {
	const q = `SELECT id, problem_id, contest_id, language, submitter_id, status, submitted_at
FROM submissions WHERE submitter_id=$1 ORDER BY submitted_at DESC`
	return r.list(ctx, q, submitterID)
}

func (r *PgSubmissionRepository) ListByOwnerAndContest(ctx context.Context, submitterID int64, contestID string) ([]Submission, error) {
	const q = `SELECT id, problem_id, contest_id, language, submitter_id, status, submitted_at
FROM submissions WHERE submitter_id=$1 AND contest_id=$2 ORDER BY submitted_at DESC`
	return r.list(ctx, q, submitterID, contestID)
}

// list returns metadata-only rows; code and results stay behind Get.
func (r *PgSubmissionRepository) list(ctx context.Context, q string, args ...any) ([]Submission, error) {
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.ProblemID, &s.ContestID, &s.Language,
			&s.SubmitterID, &s.Status, &s.SubmittedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
