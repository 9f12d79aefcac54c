package core

import (
	"context"
	"fmt"
	"time"
)

// RateLimitError carries the seconds left until the action is allowed.
type RateLimitError struct {
	Action       RateAction
	RemainingSec float64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("please wait %.1f seconds before your next %s", e.RemainingSec, e.Action)
}

// RateLimiter enforces per-user, per-action cooldowns. The timestamp is
// written before the action body starts, so a slow action cannot let the
// same user queue a second concurrent one.
type RateLimiter struct {
	users    UserRepository
	defaults map[RateAction]int
	now      func() time.Time
}

func NewRateLimiter(cfg Config, users UserRepository) *RateLimiter {
	return &RateLimiter{
		users: users,
		defaults: map[RateAction]int{
			RateActionSubmission: cfg.SubmissionCooldownSec,
			RateActionGenerator:  cfg.GeneratorCooldownSec,
			RateActionPlayground: cfg.PlaygroundCooldownSec,
		},
		now: time.Now,
	}
}

// Acquire claims one action slot for the user. overrideSec, when non-nil,
// is the problem-level cooldown taking precedence over the global default.
// A *RateLimitError is returned while the user is still cooling down.
func (g *RateLimiter) Acquire(ctx context.Context, userID int64, action RateAction, overrideSec *int) error {
	cooldownSec := g.defaults[action]
	if overrideSec != nil {
		cooldownSec = *overrideSec
	}
	if cooldownSec <= 0 {
		return nil
	}

	ok, remaining, err := g.users.TouchRateTimestamp(ctx, userID, action,
		g.now().UTC(), time.Duration(cooldownSec)*time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return &RateLimitError{Action: action, RemainingSec: remaining}
	}
	return nil
}
