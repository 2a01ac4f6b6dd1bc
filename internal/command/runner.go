package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/coldvault/broker/internal/model"
)

const (
	// MaxLineSize is the longest output line forwarded to a client. Longer
	// lines are split into MaxLineSize chunks.
	MaxLineSize = 1024 * 1024

	// DefaultWaitDelay bounds how long output pipes stay open after the
	// worker exits or is cancelled.
	DefaultWaitDelay = 2 * time.Second
)

// Process is a running worker.
type Process interface {
	// Lines yields output lines in production order and is closed when
	// the output ends or the process is killed.
	Lines() <-chan string

	// Wait blocks until the worker exits and returns its exit code.
	// Returns -1 if the process was killed by a signal.
	Wait() (int, error)

	// Kill terminates the worker and stops line delivery.
	Kill() error

	// PID returns the process ID.
	PID() int
}

// Runner starts workers.
type Runner interface {
	Start(ctx context.Context, spec WorkerSpec) (Process, error)
}

// ExecRunner runs workers as operating system processes. Stdout and stderr
// are merged into one line stream.
type ExecRunner struct {
	// Env is appended to the broker environment for every worker.
	Env []string

	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
}

// Start spawns the worker. Cancelling ctx kills the worker's whole
// process group.
func (r *ExecRunner) Start(ctx context.Context, spec WorkerSpec) (Process, error) {
	if spec.Program == "" {
		return nil, fmt.Errorf("%w: no program for %s", model.ErrWorkerFailure, spec.ID)
	}
	if spec.ScriptPath != "" {
		if _, err := os.Stat(spec.ScriptPath); err != nil {
			return nil, fmt.Errorf("%w: script not found: %s", model.ErrWorkerFailure, spec.ScriptPath)
		}
	}

	cmd := exec.CommandContext(ctx, spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	cmd.Env = append(cmd.Env, r.Env...)
	cmd.Env = append(cmd.Env, spec.Env...)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}
	setProcessGroup(cmd)

	stdout, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdout.Close()
		pw.Close()
		return nil, fmt.Errorf("%w: failed to start process: %v", model.ErrWorkerFailure, err)
	}

	p := &execProcess{
		cmd:    cmd,
		stdout: stdout,
		lines:  make(chan string),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}

	go p.scanLoop()
	go p.waitLoop(pw)

	return p, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout *io.PipeReader
	lines  chan string

	stop     chan struct{}
	stopOnce sync.Once

	exited  chan struct{}
	waitErr error
}

func (p *execProcess) Lines() <-chan string {
	return p.lines
}

// scanLoop splits the merged output into lines.
func (p *execProcess) scanLoop() {
	defer close(p.lines)

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize+1)
	scanner.Split(scanBoundedLines)

	for scanner.Scan() {
		line := strings.TrimRight(strings.ToValidUTF8(scanner.Text(), "\uFFFD"), "\r")
		select {
		case p.lines <- line:
		case <-p.stop:
			return
		}
	}

	// Keep draining so the worker never blocks on a full pipe
	io.Copy(io.Discard, p.stdout)
}

// scanBoundedLines is bufio.ScanLines that emits a MaxLineSize chunk when
// no line break is found within it.
func scanBoundedLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if err == nil && (advance == 0 && len(data) > MaxLineSize || len(token) > MaxLineSize) {
		return MaxLineSize, data[:MaxLineSize], nil
	}
	return advance, token, err
}

// waitLoop waits for the process to exit and ends the output stream.
func (p *execProcess) waitLoop(pw *io.PipeWriter) {
	p.waitErr = p.cmd.Wait()
	pw.Close()
	close(p.exited)
}

func (p *execProcess) Wait() (int, error) {
	<-p.exited

	if p.waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(p.waitErr, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, p.waitErr
	}
	return 0, nil
}

func (p *execProcess) Kill() error {
	var err error
	p.stopOnce.Do(func() {
		close(p.stop)
		err = killProcessGroup(p.cmd)
		p.stdout.CloseWithError(model.ErrTransportClosed)
	})
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (p *execProcess) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
