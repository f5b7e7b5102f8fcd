package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"v.io/x/lib/lookpath"
	"v.io/x/lib/vlog"
)

// Invocation is one execution of an external program.
type Invocation struct {
	// Tool is the program name. It is looked up in PATH.
	Tool string
	Args []string
	// Stdout, if set, is the file that receives the program's standard
	// output.
	Stdout string
}

// String returns the command line of inv in shell notation.
func (inv Invocation) String() string {
	s := inv.Tool
	if len(inv.Args) > 0 {
		s += " " + strings.Join(inv.Args, " ")
	}
	if inv.Stdout != "" {
		s += " > " + inv.Stdout
	}
	return s
}

// Runner executes invocations.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// Error is the failure of an external program.
type Error struct {
	Tool string
	Args []string
	Err  error
	// Stderr holds the last bytes the program wrote to its standard error.
	Stderr string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Tool, strings.Join(e.Args, " "), e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

// DefaultStderrTail is the number of stderr bytes kept for Error.
const DefaultStderrTail = 4096

// ExecRunner runs programs on the local machine.
type ExecRunner struct {
	// Env holds the environment variables used to find programs and passed
	// to them. If nil, the process environment is used.
	Env map[string]string
	// StderrTail is the number of stderr bytes kept on failure. Zero means
	// DefaultStderrTail.
	StderrTail int
}

func environ() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// Run implements Runner.
func (r ExecRunner) Run(ctx context.Context, inv Invocation) (err error) {
	env := r.Env
	if env == nil {
		env = environ()
	}
	path, err := lookpath.Look(env, inv.Tool)
	if err != nil {
		return errors.E(errors.NotExist, fmt.Sprintf("%s not found in PATH", inv.Tool), err)
	}
	cmd := exec.CommandContext(ctx, path, inv.Args...)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	n := r.StderrTail
	if n <= 0 {
		n = DefaultStderrTail
	}
	stderr := &tail{max: n}
	cmd.Stderr = stderr
	if inv.Stdout != "" {
		var out file.File
		if out, err = file.Create(ctx, inv.Stdout); err != nil {
			return errors.E(err, "create", inv.Stdout)
		}
		defer file.CloseAndReport(ctx, out, &err)
		cmd.Stdout = out.Writer(ctx)
	}
	vlog.VI(1).Infof("exec: %v", inv)
	start := time.Now()
	if err = cmd.Run(); err != nil {
		return &Error{Tool: inv.Tool, Args: inv.Args, Err: err, Stderr: stderr.String()}
	}
	log.Debug.Printf("%s finished in %v", inv.Tool, time.Since(start))
	return nil
}

// tail keeps the last max bytes written to it.
type tail struct {
	max int
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string { return strings.TrimRight(string(t.buf), "\n") }

// DryRunner logs each invocation and runs nothing.
type DryRunner struct {
	mu          sync.Mutex
	invocations []Invocation
}

// Run implements Runner.
func (r *DryRunner) Run(ctx context.Context, inv Invocation) error {
	log.Printf("[dry run] %v", inv)
	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	r.mu.Unlock()
	return nil
}

// Invocations returns the command lines logged so far.
func (r *DryRunner) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.invocations...)
}

// RecordingRunner records invocations and hands them to Script, which
// stands in for the program. A nil Script succeeds without doing
// anything.
type RecordingRunner struct {
	Script func(ctx context.Context, inv Invocation) error

	mu          sync.Mutex
	invocations []Invocation
}

// Run implements Runner.
func (r *RecordingRunner) Run(ctx context.Context, inv Invocation) error {
	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	r.mu.Unlock()
	if r.Script == nil {
		return nil
	}
	return r.Script(ctx, inv)
}

// Invocations returns the recorded invocations in order.
func (r *RecordingRunner) Invocations() []Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Invocation(nil), r.invocations...)
}
