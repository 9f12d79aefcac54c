package core

import (
	"context"
	"errors"
	"fmt"
)

// ErrGeneratorUnavailable is returned when a problem ships no generator.
var ErrGeneratorUnavailable = errors.New("test case generator not available for this problem")

// GeneratorResult is the outcome of one generator run. By convention the
// generator writes the fresh test input to stdout and the expected output
// for it to stderr.
type GeneratorResult struct {
	Input           string
	Output          string
	Error           string
	ExecutionTimeMS float64
	MemoryUsedKB    int64
}

// OK reports whether the generator produced a usable sample.
func (r GeneratorResult) OK() bool { return r.Error == "" }

// RunGenerator executes the problem's generator in the sandbox with no
// stdin under the generator's own limits.
func RunGenerator(ctx context.Context, engine Engine, problem *Problem) (GeneratorResult, error) {
	if !problem.HasGenerator() {
		return GeneratorResult{}, ErrGeneratorUnavailable
	}

	res := engine.Run(ctx, SandboxRequest{
		Code:          problem.GeneratorCode,
		Language:      problem.GeneratorLanguage,
		TimeLimitSec:  problem.GeneratorTimeLimitSec,
		MemoryLimitMB: problem.GeneratorMemoryLimitMB,
		UnitName:      "gen",
	})

	out := GeneratorResult{
		Input:           res.Stdout,
		Output:          res.Stderr,
		ExecutionTimeMS: res.ExecutionTimeMS,
		MemoryUsedKB:    res.MemoryUsedKB,
	}
	switch {
	case res.Status == SandboxCompilationError:
		out.Error = "Generator " + firstNonEmpty(res.CompilationStderr, "compilation failed.")
	case res.Status == SandboxSuccess && res.ExitCode == 0:
		// usable sample
	case res.ExitCode != 0 && (res.Status == SandboxSuccess || res.Status == SandboxRuntimeError):
		out.Error = fmt.Sprintf("Generator exited with code %d: %s", res.ExitCode, firstNonEmpty(res.Stderr, "no error output"))
	default:
		out.Error = fmt.Sprintf("Generator sandbox failed to execute (status: %s)", res.Status)
	}
	return out, nil
}
