package shell

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	// ErrEmptyCommand is returned when building a command without words.
	ErrEmptyCommand = errors.New("command has no words")
	// ErrReleased is returned when executing a command after Release.
	ErrReleased = errors.New("command already released")
	// ErrUnsupportedRedirect is returned for operators other than > and <.
	ErrUnsupportedRedirect = errors.New("unsupported redirection operator")
)

// RedirectOp is a redirection operator.
type RedirectOp string

const (
	// RedirectOut truncates (or creates) the target and binds it to stdout.
	RedirectOut RedirectOp = ">"
	// RedirectIn opens the target read-only and binds it to stdin.
	RedirectIn RedirectOp = "<"
)

// Redirection is a single input or output redirection clause. It is immutable
// once constructed.
type Redirection struct {
	op     RedirectOp
	target string
}

// NewRedirection creates a redirection clause.
func NewRedirection(op RedirectOp, target string) (*Redirection, error) {
	switch op {
	case RedirectOut, RedirectIn:
		return &Redirection{op: op, target: target}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedRedirect, op)
	}
}

// Op returns the redirection operator.
func (r *Redirection) Op() RedirectOp {
	return r.op
}

// Target returns the path being redirected to or from.
func (r *Redirection) Target() string {
	return r.target
}

// Fd returns the standard descriptor the redirection rebinds.
func (r *Redirection) Fd() int {
	if r.op == RedirectIn {
		return 0
	}
	return 1
}

func (r *Redirection) String() string {
	return fmt.Sprintf("%s %s", r.op, r.target)
}

// open opens the target with the flags the operator calls for.
func (r *Redirection) open() (*os.File, error) {
	if r.op == RedirectIn {
		return os.Open(r.target)
	}
	return os.OpenFile(r.target, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
}

// Command is one executable step of a pipeline.
type Command struct {
	// Program is the name the command was invoked as, always Args[0].
	Program string
	// Args is the full argument vector including the program name.
	Args []string
	// Redirect is the optional redirection clause.
	Redirect *Redirection

	released bool
}

// NewCommand builds a command from parsed words. The words are copied so the
// command owns its argument vector.
func NewCommand(words []string, redirect *Redirection) (*Command, error) {
	if len(words) == 0 {
		return nil, ErrEmptyCommand
	}

	args := make([]string, len(words))
	copy(args, words)

	return &Command{
		Program:  args[0],
		Args:     args,
		Redirect: redirect,
	}, nil
}

// Release drops the command's argument vector. Releasing twice is a no-op.
func (c *Command) Release() {
	if c.released {
		return
	}
	c.released = true
	c.Args = nil
	c.Redirect = nil
}

// Released reports whether Release has been called.
func (c *Command) Released() bool {
	return c.released
}

func (c *Command) String() string {
	out := strings.Join(c.Args, " ")
	if c.Redirect != nil {
		out += " " + c.Redirect.String()
	}
	return out
}
