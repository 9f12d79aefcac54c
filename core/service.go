package core

import (
	"context"
	"errors"
	"log"
	"time"
)

// Request-level intake errors, surfaced synchronously to the caller.
var (
	ErrProblemNotFound    = errors.New("problem not found")
	ErrLanguageNotAllowed = errors.New("language not allowed for this problem")
)

// SubmissionInfo is the intake acknowledgement for a created submission.
type SubmissionInfo struct {
	ID          string    `json:"id"`
	ProblemID   string    `json:"problem_id"`
	ContestID   string    `json:"contest_id"`
	UserEmail   string    `json:"user_email"`
	Language    string    `json:"language"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// IntakeService is the boundary the web layer calls: it validates, applies
// rate limits, persists and hands work to the pipeline or the engine.
type IntakeService struct {
	cfg       Config
	catalogue *Catalogue
	langs     *LanguageRegistry
	subs      SubmissionRepository
	limiter   *RateLimiter
	engine    Engine
	pipeline  *JudgePipeline
	audit     AuditSink
}

func NewIntakeService(cfg Config, catalogue *Catalogue, langs *LanguageRegistry,
	subs SubmissionRepository, limiter *RateLimiter, engine Engine,
	pipeline *JudgePipeline, audit AuditSink) *IntakeService {
	if audit == nil {
		audit = NopAuditSink{}
	}
	return &IntakeService{
		cfg: cfg, catalogue: catalogue, langs: langs, subs: subs,
		limiter: limiter, engine: engine, pipeline: pipeline, audit: audit,
	}
}

func (s *IntakeService) emit(user *User, eventType string, details map[string]any) {
	s.audit.Emit(AuditEvent{
		Timestamp: time.Now().UTC(),
		UserID:    ptr(user.ID),
		UserEmail: user.Email,
		EventType: eventType,
		Details:   details,
	})
}

// Submit validates the request, claims a rate-limit slot, inserts the
// submission as PENDING and enqueues it for judging.
func (s *IntakeService) Submit(ctx context.Context, user *User, contestID, problemID, language, code string) (SubmissionInfo, error) {
	problem := s.catalogue.GetProblem(contestID, problemID)
	if problem == nil {
		return SubmissionInfo{}, ErrProblemNotFound
	}
	if !problem.AllowsLanguage(language) {
		return SubmissionInfo{}, ErrLanguageNotAllowed
	}
	if err := s.limiter.Acquire(ctx, user.ID, RateActionSubmission, problem.SubmissionCooldownSec); err != nil {
		s.emitRateLimited(user, "submission_rate_limited", contestID, problemID, err)
		return SubmissionInfo{}, err
	}

	sub := &Submission{
		ID:          NewSubmissionID(),
		ProblemID:   problemID,
		ContestID:   contestID,
		Language:    language,
		Code:        code,
		SubmitterID: user.ID,
		Status:      StatusPending,
		SubmittedAt: time.Now().UTC(),
	}
	if err := s.subs.InsertPending(ctx, sub); err != nil {
		return SubmissionInfo{}, err
	}
	if err := s.pipeline.Enqueue(sub.ID); err != nil {
		// The record stays PENDING and is not queued for judging.
		log.Printf("intake: enqueue %s failed: %v", sub.ID, err)
		return SubmissionInfo{}, err
	}

	s.emit(user, "submission_created", map[string]any{
		"submission_id": sub.ID, "contest_id": contestID,
		"problem_id": problemID, "language": language,
	})
	return SubmissionInfo{
		ID: sub.ID, ProblemID: problemID, ContestID: contestID,
		UserEmail: user.Email, Language: language,
		Status: sub.Status, SubmittedAt: sub.SubmittedAt,
	}, nil
}

// RunPlayground executes arbitrary code against one input under the fixed
// playground limits, bypassing the queue.
func (s *IntakeService) RunPlayground(ctx context.Context, user *User, language, code, stdin string) (SandboxOutcome, error) {
	if _, err := s.langs.Lookup(language); err != nil {
		return SandboxOutcome{}, ErrLanguageNotAllowed
	}
	if err := s.limiter.Acquire(ctx, user.ID, RateActionPlayground, nil); err != nil {
		s.emitRateLimited(user, "playground_rate_limited", "", "", err)
		return SandboxOutcome{}, err
	}

	res := s.engine.Run(ctx, SandboxRequest{
		Code:          code,
		Language:      language,
		Stdin:         &stdin,
		TimeLimitSec:  s.cfg.PlaygroundTimeLimitSec,
		MemoryLimitMB: s.cfg.PlaygroundMemoryLimitMB,
		UnitName:      "ide-" + shortID(NewSubmissionID()),
	})
	s.emit(user, "playground_run", map[string]any{
		"language": language, "sandbox_status": res.Status,
		"exit_code": res.ExitCode, "execution_time_ms": res.ExecutionTimeMS,
	})
	return res, nil
}

// GenerateSample runs the problem's generator and returns the fresh
// (input, expected output) pair.
func (s *IntakeService) GenerateSample(ctx context.Context, user *User, contestID, problemID string) (GeneratorResult, error) {
	problem := s.catalogue.GetProblem(contestID, problemID)
	if problem == nil {
		return GeneratorResult{}, ErrProblemNotFound
	}
	if !problem.HasGenerator() {
		return GeneratorResult{}, ErrGeneratorUnavailable
	}
	if err := s.limiter.Acquire(ctx, user.ID, RateActionGenerator, problem.GeneratorCooldownSec); err != nil {
		s.emitRateLimited(user, "generator_rate_limited", contestID, problemID, err)
		return GeneratorResult{}, err
	}

	res, err := RunGenerator(ctx, s.engine, problem)
	if err != nil {
		return GeneratorResult{}, err
	}
	s.emit(user, "generator_run", map[string]any{
		"contest_id": contestID, "problem_id": problemID,
		"ok": res.OK(), "execution_time_ms": res.ExecutionTimeMS,
	})
	return res, nil
}

// GetSubmission returns the submission only to its owner.
func (s *IntakeService) GetSubmission(ctx context.Context, user *User, id string) (*Submission, error) {
	sub, err := s.subs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.SubmitterID != user.ID {
		return nil, ErrSubmissionNotFound
	}
	return sub, nil
}

// ListSubmissions returns the user's submissions, newest first.
func (s *IntakeService) ListSubmissions(ctx context.Context, user *User) ([]Submission, error) {
	return s.subs.ListByOwner(ctx, user.ID)
}

// ListSubmissionsByContest narrows the listing to one contest.
func (s *IntakeService) ListSubmissionsByContest(ctx context.Context, user *User, contestID string) ([]Submission, error) {
	return s.subs.ListByOwnerAndContest(ctx, user.ID, contestID)
}

// ReloadCatalogue atomically swaps in a fresh load of the contest tree.
func (s *IntakeService) ReloadCatalogue() error {
	return s.catalogue.Reload()
}

func (s *IntakeService) emitRateLimited(user *User, eventType, contestID, problemID string, err error) {
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		return
	}
	details := map[string]any{"wait_seconds": rle.RemainingSec}
	if contestID != "" {
		details["contest_id"] = contestID
		details["problem_id"] = problemID
	}
	s.emit(user, eventType, details)
}
