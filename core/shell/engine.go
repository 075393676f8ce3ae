package shell

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/fatih/color"
	"github.com/josephlewis42/forksh/core/jobs"
	"github.com/josephlewis42/forksh/core/logger"
)

// Name prefixes the shell's diagnostics.
const Name = "forksh"

// DefaultExecFailureStatus is the exit status reported for programs that
// couldn't be started.
const DefaultExecFailureStatus = 127

// JobTable registers pipelines as jobs.
type JobTable interface {
	Register(title string) *jobs.Job
}

var _ JobTable = (*jobs.Table)(nil)

// EventRecorder stores execution events.
type EventRecorder interface {
	Record(eventType logger.EventType, fields logger.Fields) error
}

// Engine turns commands into builtin calls or running programs.
type Engine struct {
	State   *State
	History HistorySource

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log EventRecorder

	// ExecFailureStatus is reported to the job table for programs that
	// failed to start.
	ExecFailureStatus int

	// NewJobTable creates the private job table a subshell gets.
	NewJobTable func() JobTable

	warnColor *color.Color
	errColor  *color.Color
}

// NewEngine creates an engine bound to the process' standard streams.
func NewEngine(state *State) *Engine {
	return &Engine{
		State:             state,
		Stdin:             os.Stdin,
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
		Log:               logger.Discard().Sessionless(),
		ExecFailureStatus: DefaultExecFailureStatus,
		NewJobTable: func() JobTable {
			return jobs.New()
		},
		warnColor: color.New(color.FgYellow),
		errColor:  color.New(color.FgRed, color.Bold),
	}
}

// SetColor forces diagnostics colors on or off, nil leaves the terminal
// detection in place.
func (e *Engine) SetColor(enabled *bool) {
	for _, c := range []*color.Color{e.warnColor, e.errColor} {
		switch {
		case enabled == nil:
		case *enabled:
			c.EnableColor()
		default:
			c.DisableColor()
		}
	}
}

// Execute runs one command of a pipeline.
//
// Foreground builtins run in the shell process and never create a job.
// Everything else is started as a child and tracked by the pipeline's job,
// which is registered with jt the first time jobbed is false. The parent
// doesn't wait for the child.
func (e *Engine) Execute(cmd *Command, p *Pipeline, jt JobTable, jobbed, eof *bool, foreground bool) error {
	if cmd.Released() {
		return ErrReleased
	}
	idx := p.index(cmd)

	entry, isBuiltin := allBuiltins[cmd.Program]
	if foreground && isBuiltin {
		closeFiles(p.stdio(idx))
		return e.runBuiltin(entry, cmd, eof, jt)
	}

	if !*jobbed {
		*jobbed = true
		p.job = jt.Register(p.String())
	}

	stdin, stdout := p.stdio(idx)
	if isBuiltin {
		p.job.Track(e.startSubshell(entry, cmd, stdin, stdout))
		return nil
	}

	proc, err := e.startProgram(cmd, stdin, stdout, !foreground)
	closeFiles(stdin, stdout)
	p.job.Track(proc)
	return err
}

// RunPipeline connects the pipeline's commands and executes them left to
// right. Errors from individual commands don't stop the rest.
func (e *Engine) RunPipeline(p *Pipeline, jt JobTable, eof *bool) error {
	if err := p.connect(); err != nil {
		return err
	}

	var errs []error
	for _, cmd := range p.Commands {
		if err := e.Execute(cmd, p, jt, &p.jobbed, eof, !p.Background); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) runBuiltin(entry *builtinEntry, cmd *Command, eof *bool, jt JobTable) error {
	e.record(logger.EventBuiltin, logger.Fields{
		"command": logger.Strings(cmd.Args),
	})

	ctx := &BuiltinContext{
		Command: cmd,
		EOF:     eof,
		Jobs:    jt,
		State:   e.State,
		History: e.History,
		Stdout:  e.Stdout,
		warn:    e.Warn,
	}

	if cmd.Redirect == nil || !entry.redirectable {
		return wrapBuiltinErr(cmd, entry.builtin.Main(ctx))
	}

	var mainErr error
	if err := withRedirect(cmd.Program, cmd.Redirect, func() {
		if cmd.Redirect.Op() == RedirectOut {
			// fd 1 is the target now.
			ctx.Stdout = os.Stdout
		}
		mainErr = entry.builtin.Main(ctx)
	}); err != nil {
		e.recordRedirectFailure(cmd, err)
		return err
	}
	return wrapBuiltinErr(cmd, mainErr)
}

func wrapBuiltinErr(cmd *Command, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", cmd.Program, err)
}

// startSubshell runs a builtin off the foreground with a private copy of the
// shell state and an empty job table. Its redirection is bound to the
// builtin's writer rather than the shell's descriptors, which the subshell
// shares with the shell.
func (e *Engine) startSubshell(entry *builtinEntry, cmd *Command, stdin, stdout *os.File) jobs.Process {
	child := *e
	child.State = e.State.clone()

	// The subshell gets its own copy of the history.
	var history HistorySource
	if e.History != nil {
		history = &historySnapshot{lines: e.History.History()}
	}

	proc := newSubshellProcess()
	go func() {
		defer closeFiles(stdin, stdout)

		var out io.Writer = e.Stdout
		if stdout != nil {
			out = stdout
		}

		if r := cmd.Redirect; r != nil && entry.redirectable {
			f, err := r.open()
			if err != nil {
				redirErr := &RedirectError{Program: cmd.Program, Redirection: r, Err: err}
				e.recordRedirectFailure(cmd, redirErr)
				e.ReportError(redirErr)
				proc.exit(e.ExecFailureStatus)
				return
			}
			defer f.Close()
			if r.Op() == RedirectOut {
				out = f
			}
		}

		var eof bool
		ctx := &BuiltinContext{
			Command: cmd,
			EOF:     &eof,
			Jobs:    child.NewJobTable(),
			State:   child.State,
			History: history,
			Stdout:  out,
			warn:    child.Warn,
		}

		status := 0
		if err := entry.builtin.Main(ctx); err != nil {
			child.ReportError(wrapBuiltinErr(cmd, err))
			status = 1
		}
		proc.exit(status)
	}()

	return proc
}

// startProgram starts cmd as a child process. stdin and stdout are the pipe
// ends it inherits when it has no redirection of its own. A program that
// couldn't be started is returned as a process exiting with
// ExecFailureStatus along with the error.
func (e *Engine) startProgram(cmd *Command, stdin, stdout *os.File, background bool) (jobs.Process, error) {
	c := exec.Command(cmd.Program, cmd.Args[1:]...)
	c.Args = cmd.Args
	c.Stdin = e.Stdin
	c.Stdout = e.Stdout
	c.Stderr = e.Stderr
	if stdin != nil {
		c.Stdin = stdin
	}
	if stdout != nil {
		c.Stdout = stdout
	}

	if r := cmd.Redirect; r != nil {
		f, err := r.open()
		if err != nil {
			redirErr := &RedirectError{Program: cmd.Program, Redirection: r, Err: err}
			e.recordRedirectFailure(cmd, redirErr)
			return &failedProcess{status: e.ExecFailureStatus}, redirErr
		}
		// The child gets its own copy of the descriptor on start.
		defer f.Close()

		if r.Op() == RedirectIn {
			c.Stdin = f
		} else {
			c.Stdout = f
		}
	}

	if err := c.Start(); err != nil {
		e.record(logger.EventStartFailure, logger.Fields{
			"command": logger.Strings(cmd.Args),
			"error":   err.Error(),
		})
		return &failedProcess{status: e.ExecFailureStatus}, &StartError{Program: cmd.Program, Err: err}
	}

	e.record(logger.EventRunCommand, logger.Fields{
		"command":    logger.Strings(cmd.Args),
		"path":       c.Path,
		"pid":        c.Process.Pid,
		"background": background,
	})
	return &osProcess{cmd: c}, nil
}

func (e *Engine) recordRedirectFailure(cmd *Command, err error) {
	e.record(logger.EventRedirectFailure, logger.Fields{
		"command": logger.Strings(cmd.Args),
		"error":   err.Error(),
	})
}

func (e *Engine) record(eventType logger.EventType, fields logger.Fields) {
	if e.Log == nil {
		return
	}
	_ = e.Log.Record(eventType, fields)
}

// Warn reports a non-fatal problem with a command.
func (e *Engine) Warn(cmd *Command, err error) {
	fmt.Fprintf(e.stderr(), "%s: %s: %v\n", Name, e.colorize(e.warnColor, cmd.Program), err)
	e.record(logger.EventWarning, logger.Fields{
		"command": logger.Strings(cmd.Args),
		"error":   err.Error(),
	})
}

// ReportError reports an error that stopped a command.
func (e *Engine) ReportError(err error) {
	fmt.Fprintf(e.stderr(), "%s: %v\n", e.colorize(e.errColor, Name), err)
}

func (e *Engine) colorize(c *color.Color, s string) string {
	if c == nil {
		return s
	}
	return c.Sprint(s)
}

func (e *Engine) stderr() io.Writer {
	if e.Stderr == nil {
		return io.Discard
	}
	return e.Stderr
}
