package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gradeline/internal/executor/model"
	submodel "gradeline/internal/submission/model"

	"github.com/google/shlex"
)

const (
	// PerfDataFile is read after a full test when the script leaves it behind.
	PerfDataFile   = "perfresults.csv"
	maxOutputBytes = 1 << 20
	// TimeoutExitCode is reported when the test was killed after its timeout.
	TimeoutExitCode = -1
)

// Outcome is what a test run reports back.
type Outcome struct {
	Output   string
	ExitCode int
	PerfData string
	Duration time.Duration
}

// Runner executes one job in a scratch directory.
type Runner struct {
	// WorkDir holds per-job scratch directories; empty means the system temp dir.
	WorkDir string
	// KeepWorkDirs leaves scratch directories behind for debugging.
	KeepWorkDirs bool
}

// Run unpacks the submission and runs the compile command or test script.
// Failures of the test itself are reported in the outcome, not as an error.
func (r *Runner) Run(ctx context.Context, job *model.Job) (*Outcome, error) {
	dir, err := os.MkdirTemp(r.WorkDir, "gradeline-job-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	if !r.KeepWorkDirs {
		defer os.RemoveAll(dir)
	}
	if err := Unpack(job.FileName, job.File, dir); err != nil {
		return &Outcome{Output: "cannot unpack submission: " + err.Error(), ExitCode: 1}, nil
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = submodel.DefaultTimeoutSeconds * time.Second
	}
	if job.Kind != submodel.KindCompile && job.CompileCommand != "" {
		argv, err := compileArgs(job.CompileCommand)
		if err != nil {
			return nil, err
		}
		built, err := run(ctx, dir, argv, timeout)
		if err != nil {
			return nil, err
		}
		if built.ExitCode != 0 {
			built.Output = "build before test failed:\n" + built.Output
			return built, nil
		}
	}
	argv, err := r.command(job, dir)
	if err != nil {
		return nil, err
	}
	out, err := run(ctx, dir, argv, timeout)
	if err != nil {
		return nil, err
	}
	if job.Kind == submodel.KindFull {
		if data, err := os.ReadFile(filepath.Join(dir, PerfDataFile)); err == nil {
			out.PerfData = string(data)
		}
	}
	return out, nil
}

func (r *Runner) command(job *model.Job, dir string) ([]string, error) {
	switch job.Kind {
	case submodel.KindCompile:
		return compileArgs(job.CompileCommand)
	case submodel.KindValidate, submodel.KindFull:
		if len(job.Script) == 0 {
			return nil, fmt.Errorf("job %s has no script", job.FileID)
		}
		name := filepath.Base(job.ScriptName)
		if name == "" || name == "." || name == string(filepath.Separator) {
			name = "test-script"
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, job.Script, 0o755); err != nil {
			return nil, fmt.Errorf("write script: %w", err)
		}
		return []string{path}, nil
	}
	return nil, fmt.Errorf("unknown job kind %q", job.Kind)
}

func compileArgs(command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse compile command %q: %w", command, err)
	}
	if len(argv) == 0 {
		argv = []string{submodel.DefaultCompileCommand}
	}
	return argv, nil
}

// run reports the command's outcome. It returns an error instead when parent
// is cancelled before the timeout fires, since the test never finished.
func run(parent context.Context, dir string, argv []string, timeout time.Duration) (*Outcome, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var buf limitedBuffer
	buf.limit = maxOutputBytes
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	out := &Outcome{Duration: time.Since(start)}

	if perr := parent.Err(); perr != nil {
		return nil, fmt.Errorf("%s interrupted: %w", argv[0], perr)
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.ExitCode = TimeoutExitCode
		buf.WriteString(fmt.Sprintf("\nkilled after %s timeout\n", timeout))
	case err == nil:
	case errors.As(err, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		out.ExitCode = 1
		buf.WriteString(fmt.Sprintf("\ncannot run %s: %v\n", argv[0], err))
	}
	out.Output = buf.String()
	return out, nil
}

// limitedBuffer keeps the first limit bytes of output and counts the rest.
type limitedBuffer struct {
	bytes.Buffer
	limit   int
	dropped int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.Buffer.Len()
	if room <= 0 {
		b.dropped += len(p)
		return len(p), nil
	}
	if len(p) > room {
		b.dropped += len(p) - room
		b.Buffer.Write(p[:room])
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.dropped > 0 {
		return b.Buffer.String() + fmt.Sprintf("\n[%d bytes of output dropped]\n", b.dropped)
	}
	return b.Buffer.String()
}
