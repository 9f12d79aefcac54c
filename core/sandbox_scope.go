package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// systemd scope results we act on; anything else maps to internal_error.
const (
	scopeResultSuccess = "success"
	scopeResultTimeout = "timeout"
	scopeResultOOMKill = "oom-kill"
)

// scopeSpec describes one systemd transient scope wrapping a bwrap jail.
type scopeSpec struct {
	Unit          string
	CPULimitSec   int
	WallLimitSec  int
	MemoryLimitMB int
	WorkDir       string // host dir bound read-write at /sandbox
	ExtraRO       []BindMount
	Argv          []string // program argv inside the sandbox
	StdinPath     string   // empty means /dev/null
	StdoutPath    string
	StderrPath    string
}

// scopeStatus reports how the scope ended and what it consumed.
type scopeStatus struct {
	Result   string
	ExitCode int // negative signal number on fatal signal
	WallTime time.Duration
	CPUMS    float64
	MaxRSSKB int64
}

// scopeRunner is the seam between the engine and the host: the real
// implementation shells out to systemd-run/bwrap, tests substitute a fake.
type scopeRunner interface {
	Run(ctx context.Context, spec scopeSpec) (scopeStatus, error)
}

// systemdScopeRunner launches the program as
//
//	systemd-run --scope --user [resource properties] bwrap [mounts] argv...
//
// The scope gives cgroup-backed memory/task/wall bounds and a reliable
// termination cause; bwrap gives the filesystem view and unshared
// user/pid/net namespaces.
type systemdScopeRunner struct {
	cfg Config
}

func newSystemdScopeRunner(cfg Config) *systemdScopeRunner {
	return &systemdScopeRunner{cfg: cfg}
}

func (r *systemdScopeRunner) command(spec scopeSpec) []string {
	cmd := []string{
		"systemd-run", "--quiet", "--scope", "--user",
		"--unit=" + spec.Unit, "--slice=judge.slice",
		"-p", "TasksMax=64",
		"-p", fmt.Sprintf("RuntimeMaxSec=%d", spec.WallLimitSec),
		"-p", "CPUQuota=100%",
		"-p", fmt.Sprintf("MemoryMax=%dM", spec.MemoryLimitMB),
		r.cfg.BwrapPath,
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/lib", "/lib",
		"--ro-bind", "/lib64", "/lib64",
		"--bind", spec.WorkDir, sandboxRoot,
		"--proc", "/proc",
		"--dev", "/dev",
		"--chdir", sandboxRoot,
		"--unshare-user", "--unshare-pid", "--unshare-net",
	}
	for _, m := range spec.ExtraRO {
		cmd = append(cmd, "--ro-bind", m.HostPath, m.SandboxPath)
	}
	return append(cmd, spec.Argv...)
}

func (r *systemdScopeRunner) Run(ctx context.Context, spec scopeSpec) (scopeStatus, error) {
	argv := r.command(spec)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = []string{"PATH=/usr/bin:/bin"}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdin, err := openStdin(spec.StdinPath)
	if err != nil {
		return scopeStatus{}, fmt.Errorf("open stdin: %w", err)
	}
	defer stdin.Close()
	stdout, err := os.OpenFile(spec.StdoutPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return scopeStatus{}, fmt.Errorf("open stdout sink: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.OpenFile(spec.StderrPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return scopeStatus{}, fmt.Errorf("open stderr sink: %w", err)
	}
	defer stderr.Close()
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return scopeStatus{}, fmt.Errorf("start scope: %w", err)
	}
	r.applyRlimits(cmd.Process.Pid, spec)

	// On cancellation the whole scope is stopped, which kills the process
	// tree; killing just the direct child would leak the jail.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	select {
	case <-ctx.Done():
		r.stopScope(spec.Unit)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-waitCh
		return scopeStatus{}, ctx.Err()
	case <-waitCh:
	}
	wall := time.Since(start)

	st := scopeStatus{WallTime: wall, ExitCode: -1}
	if ps := cmd.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			st.ExitCode = -int(ws.Signal())
		} else {
			st.ExitCode = ps.ExitCode()
		}
		if ru, ok := ps.SysUsage().(*syscall.Rusage); ok && ru != nil {
			st.CPUMS = float64(ru.Utime.Nano()+ru.Stime.Nano()) / 1e6
			st.MaxRSSKB = ru.Maxrss
		}
	}

	st.Result = r.scopeResult(spec.Unit)
	if peak, ok := r.memoryPeakKB(spec.Unit); ok && peak > st.MaxRSSKB {
		st.MaxRSSKB = peak
	}
	r.resetScope(spec.Unit)
	return st, nil
}

// applyRlimits sets CPU and output-size caps on the freshly started chain.
// Best effort: the limits are inherited across fork/exec, so applying them
// to systemd-run before it spawns bwrap covers the whole tree; losing the
// race only means the scope-level RuntimeMaxSec/MemoryMax still apply.
func (r *systemdScopeRunner) applyRlimits(pid int, spec scopeSpec) {
	cpu := uint64(spec.CPULimitSec)
	if err := unix.Prlimit(pid, unix.RLIMIT_CPU, &unix.Rlimit{Cur: cpu, Max: cpu}, nil); err != nil {
		log.Printf("scope %s: prlimit cpu: %v", spec.Unit, err)
	}
	fsize := uint64(r.cfg.StdoutCapBytes)
	if err := unix.Prlimit(pid, unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: fsize, Max: fsize}, nil); err != nil {
		log.Printf("scope %s: prlimit fsize: %v", spec.Unit, err)
	}
}

// scopeResult asks systemd why the scope ended: success, timeout (wall
// bound) or oom-kill (memory bound).
func (r *systemdScopeRunner) scopeResult(unit string) string {
	out, err := exec.Command("systemctl", "show", "--user", unit+".scope",
		"-p", "Result", "--value").Output()
	if err != nil {
		log.Printf("scope %s: systemctl show failed: %v", unit, err)
		return "unknown"
	}
	res := strings.TrimSpace(string(out))
	if res == "" {
		return "unknown"
	}
	return res
}

// memoryPeakKB reads the cgroup peak memory of the scope when the running
// systemd exposes it; the rusage fallback stays in place otherwise.
func (r *systemdScopeRunner) memoryPeakKB(unit string) (int64, bool) {
	out, err := exec.Command("systemctl", "show", "--user", unit+".scope",
		"-p", "MemoryPeak", "--value").Output()
	if err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v / 1024, true
}

func (r *systemdScopeRunner) resetScope(unit string) {
	_ = exec.Command("systemctl", "--user", "reset-failed", unit+".scope").Run()
	r.stopScope(unit)
}

func (r *systemdScopeRunner) stopScope(unit string) {
	_ = exec.Command("systemctl", "--user", "stop", unit+".scope").Run()
}

func openStdin(path string) (*os.File, error) {
	if path == "" {
		return os.Open(os.DevNull)
	}
	return os.Open(path)
}
