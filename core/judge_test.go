package core

import (
	"context"
	"os"
	"strings"
	"testing"
)

func customProblem() *Problem {
	p := twoCaseProblem()
	p.Comparator = ComparatorCustom
	p.ValidatorCode = "import sys; sys.exit(0 if open(sys.argv[2]).read().strip() == open(sys.argv[3]).read().strip() else 1)"
	p.ValidatorLanguage = "python"
	p.ValidatorTimeLimitSec = 10
	p.ValidatorMemoryLimitMB = 256
	return p
}

// validatorAwareEngine answers the user run with a fixed outcome and the
// validator run with a scripted exit code.
func validatorAwareEngine(t *testing.T, userStdout string, validatorOutcome SandboxOutcome) *fakeEngine {
	return &fakeEngine{fn: func(req SandboxRequest) SandboxOutcome {
		if len(req.ExtraArgv) == 0 {
			return SandboxOutcome{Status: SandboxSuccess, Stdout: userStdout}
		}
		// Validator invocation: check the well-known mount contract.
		if len(req.ExtraROMounts) != 3 {
			t.Fatalf("validator mounts = %+v", req.ExtraROMounts)
		}
		wantPaths := []string{SandboxInputPath, validatorUserOutPath, validatorExpectedPath}
		for i, m := range req.ExtraROMounts {
			if m.SandboxPath != wantPaths[i] || req.ExtraArgv[i] != wantPaths[i] {
				t.Fatalf("mount/argv %d = %+v / %s", i, m, req.ExtraArgv[i])
			}
			if _, err := os.Stat(m.HostPath); err != nil {
				t.Fatalf("host file for %s missing: %v", m.SandboxPath, err)
			}
		}
		userOut, _ := os.ReadFile(req.ExtraROMounts[1].HostPath)
		if string(userOut) != userStdout {
			t.Fatalf("user.out content = %q, want %q", userOut, userStdout)
		}
		return validatorOutcome
	}}
}

func TestJudgeCustomValidatorAccepted(t *testing.T) {
	engine := validatorAwareEngine(t, "5\n", SandboxOutcome{Status: SandboxSuccess, ExitCode: 0})
	res := NewJudge(engine).JudgeTestCase(context.Background(), "sub1", "code", "python",
		customProblem(), customProblem().TestCases[0])
	if res.Status != StatusAccepted {
		t.Fatalf("status = %s, want ACCEPTED", res.Status)
	}
}

func TestJudgeCustomValidatorWrongAnswer(t *testing.T) {
	engine := validatorAwareEngine(t, "6\n", SandboxOutcome{Status: SandboxRuntimeError, ExitCode: 1})
	res := NewJudge(engine).JudgeTestCase(context.Background(), "sub1", "code", "python",
		customProblem(), customProblem().TestCases[0])
	if res.Status != StatusWrongAnswer {
		t.Fatalf("status = %s, want WRONG_ANSWER", res.Status)
	}
}

func TestJudgeCustomValidatorFailureIsInternal(t *testing.T) {
	for name, outcome := range map[string]SandboxOutcome{
		"exit 2":  {Status: SandboxRuntimeError, ExitCode: 2},
		"timeout": {Status: SandboxTimeout, ExitCode: -9},
		"oom":     {Status: SandboxOOM, ExitCode: -9},
		"compile": {Status: SandboxCompilationError, CompilationStderr: "bad"},
	} {
		engine := validatorAwareEngine(t, "5\n", outcome)
		res := NewJudge(engine).JudgeTestCase(context.Background(), "sub1", "code", "python",
			customProblem(), customProblem().TestCases[0])
		if res.Status != StatusInternalError {
			t.Fatalf("%s: status = %s, want INTERNAL_ERROR", name, res.Status)
		}
		if res.Stderr == nil || !strings.Contains(*res.Stderr, "Judge Validator Error") {
			t.Fatalf("%s: stderr = %v", name, res.Stderr)
		}
	}
}

func TestJudgeWrongAnswerExcerptIsBounded(t *testing.T) {
	long := strings.Repeat("x", excerptCapBytes+100)
	engine := &fakeEngine{fn: func(SandboxRequest) SandboxOutcome {
		return SandboxOutcome{Status: SandboxSuccess, Stdout: long}
	}}
	res := NewJudge(engine).JudgeTestCase(context.Background(), "sub1", "code", "python",
		twoCaseProblem(), twoCaseProblem().TestCases[0])
	if res.Status != StatusWrongAnswer {
		t.Fatalf("status = %s", res.Status)
	}
	if res.Stdout == nil || len(*res.Stdout) != excerptCapBytes || !strings.HasSuffix(*res.Stdout, "...") {
		t.Fatalf("stdout excerpt not bounded: len=%d", len(*res.Stdout))
	}
}
