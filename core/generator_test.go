package core

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func generatorProblem() *Problem {
	return &Problem{
		ID: "gen", GeneratorCode: "print('in'); import sys; print('out', file=sys.stderr)",
		GeneratorLanguage: "python", GeneratorTimeLimitSec: 5, GeneratorMemoryLimitMB: 256,
	}
}

func TestRunGeneratorSeparatesStreams(t *testing.T) {
	engine := &fakeEngine{fn: func(req SandboxRequest) SandboxOutcome {
		if req.Stdin != nil {
			t.Fatalf("generator must run with no stdin")
		}
		return SandboxOutcome{Status: SandboxSuccess, Stdout: "3 4\n", Stderr: "7", ExecutionTimeMS: 8}
	}}
	res, err := RunGenerator(context.Background(), engine, generatorProblem())
	if err != nil {
		t.Fatalf("RunGenerator: %v", err)
	}
	if !res.OK() {
		t.Fatalf("unexpected error: %s", res.Error)
	}
	if res.Input != "3 4\n" || res.Output != "7" {
		t.Fatalf("input=%q output=%q", res.Input, res.Output)
	}
}

func TestRunGeneratorWithoutGenerator(t *testing.T) {
	p := &Problem{ID: "plain"}
	if _, err := RunGenerator(context.Background(), &fakeEngine{}, p); !errors.Is(err, ErrGeneratorUnavailable) {
		t.Fatalf("err = %v, want ErrGeneratorUnavailable", err)
	}
}

func TestRunGeneratorFailures(t *testing.T) {
	cases := []struct {
		name    string
		outcome SandboxOutcome
		wantSub string
	}{
		{"nonzero exit", SandboxOutcome{Status: SandboxRuntimeError, ExitCode: 2, Stderr: "trace"}, "exited with code 2"},
		{"timeout", SandboxOutcome{Status: SandboxTimeout, ExitCode: -9}, "failed to execute"},
		{"oom", SandboxOutcome{Status: SandboxOOM, ExitCode: -9}, "failed to execute"},
		{"compile error", SandboxOutcome{Status: SandboxCompilationError, CompilationStderr: "bad"}, "Generator bad"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{fn: func(SandboxRequest) SandboxOutcome { return tc.outcome }}
			res, err := RunGenerator(context.Background(), engine, generatorProblem())
			if err != nil {
				t.Fatalf("RunGenerator: %v", err)
			}
			if res.OK() {
				t.Fatal("expected a structured error")
			}
			if !strings.Contains(res.Error, tc.wantSub) {
				t.Fatalf("error = %q, want substring %q", res.Error, tc.wantSub)
			}
		})
	}
}
