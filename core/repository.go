package core

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// User is the authenticated principal. The trailing timestamps exist solely
// for rate limiting and are stored and compared in UTC.
type User struct {
	ID               int64
	Email            string
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastSubmissionAt *time.Time
	LastGenerationAt *time.Time
	LastPlaygroundAt *time.Time
}

// Rate-limited action kinds; each maps to one timestamp column.
type RateAction string

const (
	RateActionSubmission RateAction = "submission"
	RateActionGenerator  RateAction = "generator"
	RateActionPlayground RateAction = "playground"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository defines persistence operations for users. Implementations
// must be safe to call concurrently from pool workers.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	// TouchRateTimestamp is the write-before-action gate: it atomically
	// compares the action's last-performed-at column against now-cooldown
	// and sets it to now when stale. It returns (false, remaining seconds)
	// when the user is still cooling down.
	TouchRateTimestamp(ctx context.Context, userID int64, action RateAction, now time.Time, cooldown time.Duration) (bool, float64, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func rateColumn(action RateAction) string {
	switch action {
	case RateActionGenerator:
		return "last_generation_at"
	case RateActionPlayground:
		return "last_playground_at"
	default:
		return "last_submission_at"
	}
}

func (r *PgUserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	const q = `SELECT id, email, is_active, created_at, updated_at,
       last_submission_at, last_generation_at, last_playground_at
FROM users WHERE email=$1`
	var u User
	if err := r.db.QueryRow(ctx, q, email).Scan(
		&u.ID, &u.Email, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
		&u.LastSubmissionAt, &u.LastGenerationAt, &u.LastPlaygroundAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// TouchRateTimestamp performs the compare-and-set in a single UPDATE so two
// concurrent requests can never both observe a stale timestamp.
func (r *PgUserRepository) TouchRateTimestamp(ctx context.Context, userID int64, action RateAction, now time.Time, cooldown time.Duration) (bool, float64, error) {
	col := rateColumn(action)
	update := `UPDATE users SET ` + col + `=$2, updated_at=$2
WHERE id=$1 AND (` + col + ` IS NULL OR ` + col + ` <= $3)`

	ct, err := r.db.Exec(ctx, update, userID, now.UTC(), now.UTC().Add(-cooldown))
	if err != nil {
		return false, 0, err
	}
	if ct.RowsAffected() > 0 {
		return true, 0, nil
	}

	var last *time.Time
	if err := r.db.QueryRow(ctx, `SELECT `+col+` FROM users WHERE id=$1`, userID).Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, ErrUserNotFound
		}
		return false, 0, err
	}
	if last == nil {
		// The gate lost to a concurrent delete/reset; treat as cooled down
		// on the next attempt.
		return false, 0, nil
	}
	remaining := cooldown.Seconds() - now.UTC().Sub(asUTC(*last)).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return false, remaining, nil
}

// asUTC treats naive timestamps read from storage as UTC.
func asUTC(t time.Time) time.Time {
	return t.UTC()
}
