package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// Sandbox outcome statuses.
const (
	SandboxSuccess          = "success"
	SandboxCompilationError = "compilation_error"
	SandboxTimeout          = "timeout"
	SandboxOOM              = "oom"
	SandboxRuntimeError     = "runtime_error"
	SandboxInternalError    = "internal_error"
)

// BindMount maps a host file read-only into the sandbox.
type BindMount struct {
	HostPath    string
	SandboxPath string
}

// SandboxRequest describes one isolated program invocation.
type SandboxRequest struct {
	Code          string
	Language      string
	Stdin         *string // nil runs the program against /dev/null
	TimeLimitSec  int
	MemoryLimitMB int
	UnitName      string
	ExtraROMounts []BindMount
	ExtraArgv     []string
}

// SandboxOutcome is the engine return value. ExecutionTimeMS is wall-clock
// time of the user program; MemoryUsedKB is peak RSS of the program tree.
type SandboxOutcome struct {
	Status            string
	ExitCode          int
	Stdout            string
	Stderr            string
	CompilationStderr string
	ExecutionTimeMS   float64
	MemoryUsedKB      int64
}

// Engine runs untrusted code under enforced resource bounds.
type Engine interface {
	Run(ctx context.Context, req SandboxRequest) SandboxOutcome
}

// SandboxEngine is the systemd-run + bwrap implementation of Engine.
// Each call owns a fresh ephemeral directory bound at /sandbox and removes
// it on every exit path. No state survives across calls.
type SandboxEngine struct {
	cfg    Config
	langs  *LanguageRegistry
	runner scopeRunner
}

func NewSandboxEngine(cfg Config, langs *LanguageRegistry) *SandboxEngine {
	return &SandboxEngine{cfg: cfg, langs: langs, runner: newSystemdScopeRunner(cfg)}
}

func internalOutcome(format string, args ...any) SandboxOutcome {
	return SandboxOutcome{Status: SandboxInternalError, ExitCode: -1, Stderr: fmt.Sprintf(format, args...)}
}

// Run executes one compile-then-run cycle for req and reports the outcome.
func (e *SandboxEngine) Run(ctx context.Context, req SandboxRequest) SandboxOutcome {
	lang, err := e.langs.Lookup(req.Language)
	if err != nil {
		return internalOutcome("Unsupported language: %s", req.Language)
	}

	unit := req.UnitName
	if unit == "" {
		unit = "sandbox"
	}

	td, err := os.MkdirTemp("", unit+"_"+randomHex(4)+"_")
	if err != nil {
		return internalOutcome("Sandbox setup failed: %v", err)
	}
	defer os.RemoveAll(td)

	sourcePath := filepath.Join(td, "source"+lang.Ext)
	if err := os.WriteFile(sourcePath, []byte(req.Code), 0o644); err != nil {
		return internalOutcome("Sandbox setup failed: %v", err)
	}
	stdinPath := ""
	if req.Stdin != nil {
		stdinPath = filepath.Join(td, "input.txt")
		if err := os.WriteFile(stdinPath, []byte(*req.Stdin), 0o644); err != nil {
			return internalOutcome("Sandbox setup failed: %v", err)
		}
	}

	if lang.Compile != nil {
		if out, ok := e.compile(ctx, unit, td, lang); !ok {
			return out
		}
	}

	return e.execute(ctx, unit, td, lang, req, stdinPath)
}

// compile runs the compile template under its own fixed limits. The second
// return value is false when the engine call must stop with the first value.
func (e *SandboxEngine) compile(ctx context.Context, unit, td string, lang LanguageDescriptor) (SandboxOutcome, bool) {
	errPath := filepath.Join(td, "compile.stderr")
	spec := scopeSpec{
		Unit:          unit + "-compile-" + randomHex(4),
		CPULimitSec:   e.cfg.CompileTimeLimitSec,
		WallLimitSec:  wallLimitFor(e.cfg.CompileTimeLimitSec),
		MemoryLimitMB: e.cfg.CompileMemoryLimitMB,
		WorkDir:       td,
		Argv:          lang.Compile,
		StdoutPath:    filepath.Join(td, "compile.stdout"),
		StderrPath:    errPath,
	}

	st, err := e.runner.Run(ctx, spec)
	if err != nil {
		return internalOutcome("Sandbox compile failed: %v", err), false
	}

	if st.Result != scopeResultSuccess || st.ExitCode != 0 {
		stderr := strings.TrimSpace(readFileCapped(errPath, excerptCapBytes))
		switch st.Result {
		case scopeResultTimeout:
			stderr = "Compilation Timed Out.\n" + stderr
		case scopeResultOOMKill:
			stderr = "Compilation Memory Limit Exceeded.\n" + stderr
		}
		if strings.TrimSpace(stderr) == "" {
			stderr = "Compilation failed."
		}
		return SandboxOutcome{Status: SandboxCompilationError, ExitCode: st.ExitCode, CompilationStderr: stderr}, false
	}

	progPath := filepath.Join(td, "prog")
	if _, err := os.Stat(progPath); err != nil {
		return internalOutcome("Compiler succeeded but produced no executable file."), false
	}
	if err := os.Chmod(progPath, 0o755); err != nil {
		return internalOutcome("Sandbox setup failed: %v", err), false
	}
	return SandboxOutcome{}, true
}

func (e *SandboxEngine) execute(ctx context.Context, unit, td string, lang LanguageDescriptor, req SandboxRequest, stdinPath string) SandboxOutcome {
	outPath := filepath.Join(td, "user.stdout")
	errPath := filepath.Join(td, "user.stderr")

	spec := scopeSpec{
		Unit:          unit + "-exec-" + randomHex(4),
		CPULimitSec:   req.TimeLimitSec,
		WallLimitSec:  wallLimitFor(req.TimeLimitSec),
		MemoryLimitMB: req.MemoryLimitMB,
		WorkDir:       td,
		ExtraRO:       req.ExtraROMounts,
		Argv:          append(append([]string{}, lang.Run...), req.ExtraArgv...),
		StdinPath:     stdinPath,
		StdoutPath:    outPath,
		StderrPath:    errPath,
	}

	st, err := e.runner.Run(ctx, spec)
	if err != nil {
		return internalOutcome("Sandbox execution failed: %v", err)
	}

	out := SandboxOutcome{
		ExitCode:        st.ExitCode,
		ExecutionTimeMS: float64(st.WallTime.Milliseconds()),
		MemoryUsedKB:    st.MaxRSSKB,
		Stdout:          readFileCapped(outPath, e.cfg.StdoutCapBytes),
		Stderr:          strings.TrimSpace(readFileCapped(errPath, e.cfg.StderrCapBytes)),
	}

	switch st.Result {
	case scopeResultTimeout:
		out.Status = SandboxTimeout
		// Report at least the configured limit so a timeout is never
		// mistaken for a fast run.
		if floor := float64(req.TimeLimitSec * 1000); out.ExecutionTimeMS < floor {
			out.ExecutionTimeMS = floor
		}
	case scopeResultOOMKill:
		out.Status = SandboxOOM
	case scopeResultSuccess:
		if st.ExitCode == 0 {
			out.Status = SandboxSuccess
		} else {
			out.Status = SandboxRuntimeError
		}
	default:
		log.Printf("sandbox %s: unexpected scope result %q", unit, st.Result)
		out.Status = SandboxInternalError
	}
	return out
}

// wallLimitFor returns the wall-clock bound for a CPU bound: strictly
// greater, so "ran too long" and "blocked on input" stay distinguishable.
func wallLimitFor(cpuSec int) int {
	const safetyMarginSec = 5
	return cpuSec*2 + safetyMarginSec
}

const excerptCapBytes = 4096

// readFileCapped reads at most cap bytes of path; missing files read empty.
func readFileCapped(path string, capBytes int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	b, _ := io.ReadAll(io.LimitReader(f, int64(capBytes)))
	return string(b)
}
