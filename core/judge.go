package core

import (
	"context"
)

// Judge turns one (submission, test case) pair into a per-test result by
// running the user program in the sandbox and comparing its output.
type Judge struct {
	engine Engine
}

func NewJudge(engine Engine) *Judge {
	return &Judge{engine: engine}
}

// JudgeTestCase runs code against tc under the problem limits and maps the
// sandbox outcome to a verdict.
func (j *Judge) JudgeTestCase(ctx context.Context, submissionID, code, language string, problem *Problem, tc TestCase) TestCaseResult {
	unitPrefix := shortID(submissionID)
	res := j.engine.Run(ctx, SandboxRequest{
		Code:          code,
		Language:      language,
		Stdin:         tc.Input,
		TimeLimitSec:  problem.TimeLimitSec,
		MemoryLimitMB: problem.MemoryLimitMB,
		UnitName:      "sub-" + unitPrefix,
	})

	result := TestCaseResult{
		TestCaseName:    tc.Name,
		ExecutionTimeMS: ptr(res.ExecutionTimeMS),
		MemoryUsedKB:    ptr(res.MemoryUsedKB),
	}

	switch res.Status {
	case SandboxCompilationError:
		return TestCaseResult{TestCaseName: tc.Name, Status: StatusCompilationError,
			Stderr: ptr(res.CompilationStderr)}
	case SandboxTimeout:
		result.Status = StatusTimeLimitExceeded
		return result
	case SandboxOOM:
		result.Status = StatusMemoryLimitExceeded
		return result
	case SandboxRuntimeError:
		result.Status = StatusRuntimeError
		result.Stderr = stringPtrIfNotEmpty(res.Stderr)
		return result
	case SandboxSuccess:
		if res.ExitCode != 0 {
			result.Status = StatusRuntimeError
			result.Stderr = stringPtrIfNotEmpty(res.Stderr)
			return result
		}
	default:
		return TestCaseResult{TestCaseName: tc.Name, Status: StatusInternalError,
			Stderr: ptr(firstNonEmpty(res.Stderr, "Unknown internal error in sandbox engine."))}
	}

	accepted, judgeErr := j.compare(ctx, problem, tc, res.Stdout, unitPrefix)
	if judgeErr != "" {
		return TestCaseResult{TestCaseName: tc.Name, Status: StatusInternalError,
			Stderr:          ptr("Judge Validator Error: " + judgeErr),
			ExecutionTimeMS: result.ExecutionTimeMS, MemoryUsedKB: result.MemoryUsedKB}
	}

	if accepted {
		result.Status = StatusAccepted
	} else {
		result.Status = StatusWrongAnswer
		result.Stdout = ptr(excerpt(res.Stdout))
	}
	result.Stderr = stringPtrIfNotEmpty(res.Stderr)
	return result
}

// compare applies the problem's comparator mode to the user's stdout. A
// non-empty second return value is a judge-side failure, not a verdict.
func (j *Judge) compare(ctx context.Context, problem *Problem, tc TestCase, userStdout, unitPrefix string) (bool, string) {
	if problem.Comparator == ComparatorCustom && problem.ValidatorCode != "" {
		verdict, detail := runCustomValidator(ctx, j.engine, problem, tc, userStdout, unitPrefix)
		switch verdict {
		case validatorAccepted:
			return true, ""
		case validatorWrongAnswer:
			return false, ""
		default:
			return false, detail
		}
	}
	return diffCompare(userStdout, tc.Output), ""
}

// excerpt bounds user stdout carried in a per-test result; a truncated
// excerpt ends in "..." and, marker included, stays within excerptCapBytes.
func excerpt(s string) string {
	const marker = "..."
	if len(s) > excerptCapBytes {
		return s[:excerptCapBytes-len(marker)] + marker
	}
	return s
}
