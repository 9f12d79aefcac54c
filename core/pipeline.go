package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// stopSentinel tells one worker to exit; submission ids are never empty.
const stopSentinel = ""

var ErrQueueFull = errors.New("submission queue full")

// ProblemSource is the catalogue view the pipeline needs.
type ProblemSource interface {
	GetProblem(contestID, problemID string) *Problem
}

// JudgePipeline is the in-process judging pipeline: a bounded FIFO of
// submission ids consumed by a fixed pool of workers.
type JudgePipeline struct {
	queue    chan string
	subs     SubmissionRepository
	problems ProblemSource
	judge    *Judge
	workers  int

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	hb *HeartbeatState // optional
}

func NewJudgePipeline(cfg Config, subs SubmissionRepository, problems ProblemSource, judge *Judge) *JudgePipeline {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 1024
	}
	return &JudgePipeline{
		queue:    make(chan string, capacity),
		subs:     subs,
		problems: problems,
		judge:    judge,
		workers:  workers,
	}
}

// SetHeartbeat attaches an optional per-worker status publisher.
func (p *JudgePipeline) SetHeartbeat(hb *HeartbeatState) { p.hb = hb }

// Enqueue appends a submission id without blocking or doing I/O. Ids
// accepted while no worker is running are picked up on the next start; a
// full queue is rejected.
func (p *JudgePipeline) Enqueue(submissionID string) error {
	if submissionID == stopSentinel {
		return errors.New("empty submission id")
	}
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		log.Printf("pipeline: workers not running, buffering submission %s", submissionID)
	}
	select {
	case p.queue <- submissionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueDepth returns the number of buffered submissions.
func (p *JudgePipeline) QueueDepth() int { return len(p.queue) }

// Start spawns the worker pool. It is idempotent: a second call returns
// without spawning.
func (p *JudgePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}
	log.Printf("pipeline: started %d workers", p.workers)
}

// Stop enqueues one sentinel per worker, waits for all of them, then drains
// whatever is left in the queue.
func (p *JudgePipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	for i := 0; i < p.workers; i++ {
		p.queue <- stopSentinel
	}
	p.wg.Wait()

	for {
		select {
		case id := <-p.queue:
			if id != stopSentinel {
				log.Printf("pipeline: dropping queued submission %s on shutdown", id)
			}
		default:
			return
		}
	}
}

func (p *JudgePipeline) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-p.queue:
			if id == stopSentinel {
				return
			}
			if p.hb != nil {
				p.hb.JobStarted(id)
			}
			err := p.processGuarded(ctx, workerID, id)
			if p.hb != nil {
				p.hb.JobFinished(id, err)
			}
		}
	}
}

// processGuarded keeps the worker alive: any failure inside processing is
// converted to a best-effort INTERNAL_ERROR write and swallowed.
func (p *JudgePipeline) processGuarded(ctx context.Context, workerID int, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			log.Printf("[worker %d] submission %s failed: %v", workerID, id, err)
			p.markInternalError(ctx, id, err)
		}
	}()
	return p.process(ctx, workerID, id)
}

func (p *JudgePipeline) process(ctx context.Context, workerID int, id string) error {
	sub, err := p.subs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSubmissionNotFound) {
			log.Printf("[worker %d] submission %s not found, dropping", workerID, id)
			return nil
		}
		return err
	}
	if IsTerminalStatus(sub.Status) {
		log.Printf("[worker %d] submission %s already %s, dropping", workerID, id, sub.Status)
		return nil
	}

	ok, err := p.subs.MarkRunning(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		// Lost the transition race; whoever won owns the terminal write.
		log.Printf("[worker %d] submission %s no longer pending, dropping", workerID, id)
		return nil
	}

	problem := p.problems.GetProblem(sub.ContestID, sub.ProblemID)
	if problem == nil {
		results := []TestCaseResult{{
			TestCaseName: "Setup",
			Status:       StatusInternalError,
			Stderr:       ptr("Problem definition not found"),
		}}
		return p.subs.UpdateStatusAndResults(ctx, id, StatusInternalError, results)
	}

	overall := StatusAccepted
	var results []TestCaseResult
	for _, tc := range problem.TestCases {
		res := p.judge.JudgeTestCase(ctx, sub.ID, sub.Code, sub.Language, problem, tc)
		results = append(results, res)
		if res.Status != StatusAccepted {
			if overall == StatusAccepted {
				overall = res.Status
			}
			if !problem.JudgeAllTests || res.Status == StatusCompilationError {
				break
			}
		}
	}

	if err := p.subs.UpdateStatusAndResults(ctx, id, overall, results); err != nil {
		return err
	}
	if overall != StatusAccepted {
		log.Printf("[worker %d] submission %s finished with %s", workerID, id, overall)
	}
	return nil
}

// markInternalError is the last-resort terminal write; its own failure is
// logged and swallowed so the worker never dies.
func (p *JudgePipeline) markInternalError(ctx context.Context, id string, cause error) {
	sub, err := p.subs.Get(ctx, id)
	if err != nil || IsTerminalStatus(sub.Status) {
		return
	}
	results := []TestCaseResult{{
		TestCaseName: "Processing Failure",
		Status:       StatusInternalError,
		Stderr:       ptr(truncate("Queue worker error: "+cause.Error(), 500)),
	}}
	if err := p.subs.UpdateStatusAndResults(ctx, id, StatusInternalError, results); err != nil {
		log.Printf("pipeline: failed to mark %s as internal error: %v", id, err)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
