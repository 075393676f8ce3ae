package shell

import (
	"errors"
	"os/exec"
	"syscall"

	"github.com/josephlewis42/forksh/core/jobs"
)

// osProcess is a program started by the shell.
type osProcess struct {
	cmd *exec.Cmd
}

var _ jobs.Process = (*osProcess)(nil)

func (p *osProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal()), nil
		}
		return exitErr.ExitCode(), nil
	}
	return 1, err
}

// failedProcess stands in for a program that never started so the job table
// still sees an exit status for it.
type failedProcess struct {
	status int
}

var _ jobs.Process = (*failedProcess)(nil)

func (p *failedProcess) Pid() int {
	return 0
}

func (p *failedProcess) Wait() (int, error) {
	return p.status, nil
}

// subshellProcess is a builtin running outside the foreground, it has its
// own copy of the shell state.
type subshellProcess struct {
	done   chan struct{}
	status int
}

var _ jobs.Process = (*subshellProcess)(nil)

func newSubshellProcess() *subshellProcess {
	return &subshellProcess{done: make(chan struct{})}
}

func (p *subshellProcess) exit(status int) {
	p.status = status
	close(p.done)
}

func (p *subshellProcess) Pid() int {
	return 0
}

func (p *subshellProcess) Wait() (int, error) {
	<-p.done
	return p.status, nil
}
