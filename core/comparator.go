package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Comparator modes selected per problem.
const (
	ComparatorDiff   = "diff"
	ComparatorCustom = "custom"
)

// Well-known validator argv paths inside the second sandbox.
const (
	validatorUserOutPath  = "/sandbox/user.out"
	validatorExpectedPath = "/sandbox/expected.out"
)

// diffCompare reports whether actual matches expected under the
// whitespace-tolerant rules: trailing whitespace and carriage returns on
// each line are ignored, and a trailing-newline discrepancy is not an
// error.
func diffCompare(actual, expected string) bool {
	a := splitTrimmedLines(actual)
	b := splitTrimmedLines(expected)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitTrimmedLines(s string) []string {
	lines := strings.Split(s, "\n")
	// Drop every trailing blank (or whitespace-only) line, so "x\n" and "x"
	// compare equal, and so do "x\n\n" and "x".
	for len(lines) > 0 && strings.TrimRight(lines[len(lines)-1], " \t\r") == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return lines
}

// Validator verdicts.
type validatorVerdict int

const (
	validatorAccepted validatorVerdict = iota
	validatorWrongAnswer
	validatorJudgeError
)

// runCustomValidator judges userStdout with the problem's validator in a
// second sandbox. The test input, the user's stdout and the expected output
// are mounted read-only at well-known paths and passed as argv; the
// validator answers via exit code (0 accepted, 1 wrong answer, anything
// else a judge error).
func runCustomValidator(ctx context.Context, engine Engine, problem *Problem, tc TestCase, userStdout, unitPrefix string) (validatorVerdict, string) {
	td, err := os.MkdirTemp("", "validator_"+unitPrefix+"_")
	if err != nil {
		return validatorJudgeError, fmt.Sprintf("validator workspace: %v", err)
	}
	defer os.RemoveAll(td)

	inPath := filepath.Join(td, "test.in")
	outPath := filepath.Join(td, "user.out")
	expPath := filepath.Join(td, "test.exp")
	input := ""
	if tc.Input != nil {
		input = *tc.Input
	}
	for _, f := range []struct {
		path, content string
	}{{inPath, input}, {outPath, userStdout}, {expPath, tc.Output}} {
		if err := os.WriteFile(f.path, []byte(f.content), 0o644); err != nil {
			return validatorJudgeError, fmt.Sprintf("validator workspace: %v", err)
		}
	}

	res := engine.Run(ctx, SandboxRequest{
		Code:          problem.ValidatorCode,
		Language:      problem.ValidatorLanguage,
		TimeLimitSec:  problem.ValidatorTimeLimitSec,
		MemoryLimitMB: problem.ValidatorMemoryLimitMB,
		UnitName:      "val-" + unitPrefix,
		ExtraROMounts: []BindMount{
			{HostPath: inPath, SandboxPath: SandboxInputPath},
			{HostPath: outPath, SandboxPath: validatorUserOutPath},
			{HostPath: expPath, SandboxPath: validatorExpectedPath},
		},
		ExtraArgv: []string{SandboxInputPath, validatorUserOutPath, validatorExpectedPath},
	})

	switch res.Status {
	case SandboxSuccess:
		return validatorAccepted, ""
	case SandboxRuntimeError:
		if res.ExitCode == 1 {
			return validatorWrongAnswer, ""
		}
	}
	return validatorJudgeError, fmt.Sprintf("validator failed to execute (status: %s, exit: %d)", res.Status, res.ExitCode)
}
