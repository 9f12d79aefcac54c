package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEngine scripts sandbox outcomes per invocation.
type fakeEngine struct {
	mu    sync.Mutex
	calls []SandboxRequest
	fn    func(req SandboxRequest) SandboxOutcome
}

func (f *fakeEngine) Run(_ context.Context, req SandboxRequest) SandboxOutcome {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(req)
	}
	return SandboxOutcome{Status: SandboxSuccess}
}

// memSubmissionRepo is an in-memory SubmissionRepository tracking status
// transitions for invariant checks.
type memSubmissionRepo struct {
	mu          sync.Mutex
	subs        map[string]*Submission
	transitions map[string][]string
}

func newMemSubmissionRepo() *memSubmissionRepo {
	return &memSubmissionRepo{subs: map[string]*Submission{}, transitions: map[string][]string{}}
}

func (r *memSubmissionRepo) InsertPending(_ context.Context, sub *Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sub
	r.subs[sub.ID] = &cp
	r.transitions[sub.ID] = append(r.transitions[sub.ID], StatusPending)
	return nil
}

func (r *memSubmissionRepo) Get(_ context.Context, id string) (*Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSubmissionRepo) MarkRunning(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Status != StatusPending {
		return false, nil
	}
	s.Status = StatusRunning
	r.transitions[id] = append(r.transitions[id], StatusRunning)
	return true, nil
}

func (r *memSubmissionRepo) UpdateStatusAndResults(_ context.Context, id, status string, results []TestCaseResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return ErrSubmissionNotFound
	}
	s.Status = status
	s.Results = results
	r.transitions[id] = append(r.transitions[id], status)
	return nil
}

func (r *memSubmissionRepo) ListByOwner(_ context.Context, submitterID int64) ([]Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Submission
	for _, s := range r.subs {
		if s.SubmitterID == submitterID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *memSubmissionRepo) ListByOwnerAndContest(ctx context.Context, submitterID int64, contestID string) ([]Submission, error) {
	all, _ := r.ListByOwner(ctx, submitterID)
	var out []Submission
	for _, s := range all {
		if s.ContestID == contestID {
			out = append(out, s)
		}
	}
	return out, nil
}

type mapProblemSource map[string]*Problem

func (m mapProblemSource) GetProblem(contestID, problemID string) *Problem {
	return m[contestID+"/"+problemID]
}

func strPtr(s string) *string { return &s }

func twoCaseProblem() *Problem {
	return &Problem{
		ID: "sum", TimeLimitSec: 2, MemoryLimitMB: 64,
		AllowedLanguages: []string{"python"}, Comparator: ComparatorDiff,
		TestCases: []TestCase{
			{Name: "01", Input: strPtr("2 3"), Output: "5\n"},
			{Name: "02", Input: strPtr("1 1"), Output: "2\n"},
		},
	}
}

func pipelineFixture(engineFn func(SandboxRequest) SandboxOutcome) (*JudgePipeline, *memSubmissionRepo, *fakeEngine) {
	cfg := Load()
	cfg.WorkerCount = 2
	cfg.QueueCapacity = 16
	repo := newMemSubmissionRepo()
	engine := &fakeEngine{fn: engineFn}
	problems := mapProblemSource{"c1/sum": twoCaseProblem()}
	p := NewJudgePipeline(cfg, repo, problems, NewJudge(engine))
	return p, repo, engine
}

func insertPending(repo *memSubmissionRepo, id string) {
	_ = repo.InsertPending(context.Background(), &Submission{
		ID: id, ProblemID: "sum", ContestID: "c1", Language: "python",
		Code: "a,b=map(int,input().split()); print(a+b)", SubmitterID: 7,
		Status: StatusPending, SubmittedAt: time.Now().UTC(),
	})
}

func waitTerminal(t *testing.T, repo *memSubmissionRepo, id string) *Submission {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sub, err := repo.Get(context.Background(), id)
		if err == nil && IsTerminalStatus(sub.Status) {
			return sub
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("submission %s never reached a terminal status", id)
	return nil
}

func TestPipelineAccepted(t *testing.T) {
	outputs := map[string]string{"2 3": "5\n", "1 1": "2\n"}
	p, repo, _ := pipelineFixture(func(req SandboxRequest) SandboxOutcome {
		return SandboxOutcome{Status: SandboxSuccess, Stdout: outputs[*req.Stdin], ExecutionTimeMS: 12, MemoryUsedKB: 800}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	insertPending(repo, "s1")
	if err := p.Enqueue("s1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	sub := waitTerminal(t, repo, "s1")
	if sub.Status != StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", sub.Status)
	}
	if len(sub.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(sub.Results))
	}
	for i, name := range []string{"01", "02"} {
		if sub.Results[i].TestCaseName != name || sub.Results[i].Status != StatusAccepted {
			t.Fatalf("result %d = %+v", i, sub.Results[i])
		}
		if sub.Results[i].Stdout != nil {
			t.Fatalf("accepted result must omit stdout")
		}
	}
	if got := repo.transitions["s1"]; len(got) != 3 || got[1] != StatusRunning {
		t.Fatalf("transitions = %v, want PENDING->RUNNING->terminal exactly once", got)
	}
}

func TestPipelineShortCircuitsOnFirstFailure(t *testing.T) {
	p, repo, engine := pipelineFixture(func(req SandboxRequest) SandboxOutcome {
		if *req.Stdin == "2 3" {
			return SandboxOutcome{Status: SandboxSuccess, Stdout: "wrong\n"}
		}
		return SandboxOutcome{Status: SandboxSuccess, Stdout: "2\n"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	insertPending(repo, "s2")
	_ = p.Enqueue("s2")
	sub := waitTerminal(t, repo, "s2")
	if sub.Status != StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", sub.Status)
	}
	if len(sub.Results) != 1 {
		t.Fatalf("short-circuit expected 1 result, got %d", len(sub.Results))
	}
	if sub.Results[0].Stdout == nil || !strings.Contains(*sub.Results[0].Stdout, "wrong") {
		t.Fatalf("wrong answer must carry the stdout excerpt: %+v", sub.Results[0])
	}
	engine.mu.Lock()
	calls := len(engine.calls)
	engine.mu.Unlock()
	if calls != 1 {
		t.Fatalf("engine called %d times, want 1", calls)
	}
}

func TestPipelineVerdictMapping(t *testing.T) {
	cases := []struct {
		name    string
		outcome SandboxOutcome
		want    string
	}{
		{"timeout", SandboxOutcome{Status: SandboxTimeout, ExecutionTimeMS: 4000}, StatusTimeLimitExceeded},
		{"oom", SandboxOutcome{Status: SandboxOOM}, StatusMemoryLimitExceeded},
		{"nonzero exit", SandboxOutcome{Status: SandboxSuccess, ExitCode: 1}, StatusRuntimeError},
		{"runtime error", SandboxOutcome{Status: SandboxRuntimeError, ExitCode: -11}, StatusRuntimeError},
		{"compile error", SandboxOutcome{Status: SandboxCompilationError, CompilationStderr: "boom"}, StatusCompilationError},
		{"internal", SandboxOutcome{Status: SandboxInternalError, Stderr: "x"}, StatusInternalError},
	}
	for i, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, repo, _ := pipelineFixture(func(SandboxRequest) SandboxOutcome { return tc.outcome })
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			p.Start(ctx)
			defer p.Stop()
			id := fmt.Sprintf("v%d", i)
			insertPending(repo, id)
			_ = p.Enqueue(id)
			sub := waitTerminal(t, repo, id)
			if sub.Status != tc.want {
				t.Fatalf("status = %s, want %s", sub.Status, tc.want)
			}
		})
	}
}

func TestPipelineIdempotentOnTerminalSubmission(t *testing.T) {
	p, repo, engine := pipelineFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	insertPending(repo, "s3")
	_ = p.Enqueue("s3")
	waitTerminal(t, repo, "s3")

	_ = p.Enqueue("s3")
	p.Stop()

	engine.mu.Lock()
	calls := len(engine.calls)
	engine.mu.Unlock()
	if calls != 1 {
		t.Fatalf("engine calls = %d, want 1 (second enqueue must be dropped)", calls)
	}
	if got := repo.transitions["s3"]; len(got) != 3 {
		t.Fatalf("transitions = %v, want exactly one terminal transition", got)
	}
}

func TestPipelineMissingProblem(t *testing.T) {
	p, repo, _ := pipelineFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	_ = repo.InsertPending(context.Background(), &Submission{
		ID: "s4", ProblemID: "ghost", ContestID: "c1", Language: "python",
		Status: StatusPending, SubmittedAt: time.Now().UTC(),
	})
	_ = p.Enqueue("s4")
	sub := waitTerminal(t, repo, "s4")
	if sub.Status != StatusInternalError {
		t.Fatalf("status = %s, want INTERNAL_ERROR", sub.Status)
	}
	if len(sub.Results) != 1 || !strings.Contains(*sub.Results[0].Stderr, "Problem definition not found") {
		t.Fatalf("results = %+v", sub.Results)
	}
}

func TestPipelineSurvivesPanic(t *testing.T) {
	first := true
	p, repo, _ := pipelineFixture(func(SandboxRequest) SandboxOutcome {
		if first {
			first = false
			panic("engine exploded")
		}
		return SandboxOutcome{Status: SandboxSuccess, Stdout: "5\n"}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	insertPending(repo, "s5")
	_ = p.Enqueue("s5")
	sub := waitTerminal(t, repo, "s5")
	if sub.Status != StatusInternalError {
		t.Fatalf("status = %s, want INTERNAL_ERROR after panic", sub.Status)
	}

	// The pool must still be alive to process the next submission.
	insertPending(repo, "s6")
	_ = p.Enqueue("s6")
	sub = waitTerminal(t, repo, "s6")
	if sub.Status == "" || sub.Status == StatusRunning || sub.Status == StatusPending {
		t.Fatalf("second submission stuck in %s", sub.Status)
	}
}

func TestPipelineStartIsIdempotent(t *testing.T) {
	p, repo, _ := pipelineFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	p.Start(ctx) // no second pool
	defer p.Stop()

	insertPending(repo, "s7")
	_ = p.Enqueue("s7")
	waitTerminal(t, repo, "s7")
}

func TestPipelineEnqueueBeforeStartBuffers(t *testing.T) {
	p, repo, _ := pipelineFixture(nil)
	insertPending(repo, "s8")
	if err := p.Enqueue("s8"); err != nil {
		t.Fatalf("enqueue before start must accept: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()
	waitTerminal(t, repo, "s8")
}

func TestPipelineRejectsWhenFull(t *testing.T) {
	cfg := Load()
	cfg.WorkerCount = 1
	cfg.QueueCapacity = 1
	p := NewJudgePipeline(cfg, newMemSubmissionRepo(), mapProblemSource{}, NewJudge(&fakeEngine{}))
	if err := p.Enqueue("a"); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := p.Enqueue("b"); err != ErrQueueFull {
		t.Fatalf("second enqueue = %v, want ErrQueueFull", err)
	}
}

func TestPipelineRunAllTestsStillReportsFirstFailure(t *testing.T) {
	problem := twoCaseProblem()
	problem.JudgeAllTests = true
	cfg := Load()
	cfg.WorkerCount = 1
	cfg.QueueCapacity = 8
	repo := newMemSubmissionRepo()
	engine := &fakeEngine{fn: func(req SandboxRequest) SandboxOutcome {
		if *req.Stdin == "2 3" {
			return SandboxOutcome{Status: SandboxSuccess, Stdout: "wrong\n"}
		}
		return SandboxOutcome{Status: SandboxSuccess, Stdout: "2\n"}
	}}
	p := NewJudgePipeline(cfg, repo, mapProblemSource{"c1/sum": problem}, NewJudge(engine))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	insertPending(repo, "s9")
	_ = p.Enqueue("s9")
	sub := waitTerminal(t, repo, "s9")
	if sub.Status != StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER (first failing case)", sub.Status)
	}
	if len(sub.Results) != 2 {
		t.Fatalf("run-all mode expected 2 results, got %d", len(sub.Results))
	}
	if sub.Results[1].Status != StatusAccepted {
		t.Fatalf("second case = %+v", sub.Results[1])
	}
}
