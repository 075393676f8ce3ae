package shell

import (
	"errors"
	"fmt"
	"io"

	"github.com/pborman/getopt/v2"
)

// ErrArity is reported when a builtin gets the wrong number of operands.
var ErrArity = errors.New("wrong number of arguments to builtin command")

// HistorySource provides the lines listed by the history builtin.
type HistorySource interface {
	// History returns the entries oldest first.
	History() []string
	// ClearHistory removes every entry.
	ClearHistory()
}

// historySnapshot is a private copy of another HistorySource.
type historySnapshot struct {
	lines []string
}

func (h *historySnapshot) History() []string {
	return append([]string(nil), h.lines...)
}

func (h *historySnapshot) ClearHistory() {
	h.lines = nil
}

// BuiltinContext is everything a builtin may observe or change.
type BuiltinContext struct {
	Command *Command
	// EOF is set to tell the read-eval loop to stop.
	EOF *bool
	// Jobs is the job table of the shell running the builtin.
	Jobs    JobTable
	State   *State
	History HistorySource
	Stdout  io.Writer

	warn func(*Command, error)
}

// Warn reports a non-fatal problem, the builtin keeps running.
func (c *BuiltinContext) Warn(err error) {
	if c.warn != nil {
		c.warn(c.Command, err)
	}
}

// parse parses options and checks the number of operands against arity,
// warning on mismatch. If the options can't be parsed the raw arguments are
// used as operands.
func (c *BuiltinContext) parse(opts *getopt.Set, arity int) []string {
	operands := c.Command.Args[1:]

	// A lone "-" is an operand (cd -), getopt would swallow it.
	if len(operands) == 0 || operands[0] != "-" {
		if err := opts.Getopt(c.Command.Args, nil); err != nil {
			c.Warn(err)
		} else {
			operands = opts.Args()
		}
	}

	if len(operands) != arity {
		c.Warn(ErrArity)
	}
	return operands
}

// Builtin is a command executed inside the shell's own process.
type Builtin interface {
	Main(ctx *BuiltinContext) error
}

// BuiltinFunc adapts a function to a Builtin.
type BuiltinFunc func(ctx *BuiltinContext) error

func (f BuiltinFunc) Main(ctx *BuiltinContext) error {
	return f(ctx)
}

var _ Builtin = (BuiltinFunc)(nil)

type builtinEntry struct {
	name    string
	builtin Builtin
	// redirectable builtins get their redirection applied around Main.
	redirectable bool
}

var (
	// allBuiltins maps names to builtins, builtinOrder keeps registration order.
	allBuiltins  = make(map[string]*builtinEntry)
	builtinOrder []string
)

func addBuiltin(name string, redirectable bool, b Builtin) {
	if _, ok := allBuiltins[name]; ok {
		panic(fmt.Sprintf("builtin %q registered twice", name))
	}
	allBuiltins[name] = &builtinEntry{name: name, builtin: b, redirectable: redirectable}
	builtinOrder = append(builtinOrder, name)
}

// IsBuiltin reports whether name runs inside the shell.
func IsBuiltin(name string) bool {
	_, ok := allBuiltins[name]
	return ok
}

// BuiltinNames lists the builtins in registration order.
func BuiltinNames() []string {
	return append([]string(nil), builtinOrder...)
}

func newBuiltinFlags(name, params string) (*getopt.Set, *bool) {
	opts := getopt.New()
	opts.SetProgram(name)
	opts.SetParameters(params)
	return opts, opts.BoolLong("help", 'h', "show help and exit")
}

func printHelp(w io.Writer, opts *getopt.Set, short string) {
	opts.PrintUsage(w)
	fmt.Fprintln(w, short)
}

// Exit sets the EOF flag so the read-eval loop stops.
func Exit(ctx *BuiltinContext) error {
	opts, help := newBuiltinFlags("exit", "")
	ctx.parse(opts, 0)
	if *help {
		printHelp(ctx.Stdout, opts, "Exit the shell.")
		return nil
	}

	*ctx.EOF = true
	return nil
}

// Pwd prints the shell's current directory.
func Pwd(ctx *BuiltinContext) error {
	opts, help := newBuiltinFlags("pwd", "")
	ctx.parse(opts, 0)
	if *help {
		printHelp(ctx.Stdout, opts, "Print the name of the current working directory.")
		return nil
	}

	cwd, err := ctx.State.Getwd()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(ctx.Stdout, cwd)
	return err
}

// Cd changes the shell's current directory, cd - returns to the previous one.
func Cd(ctx *BuiltinContext) error {
	opts, help := newBuiltinFlags("cd", "[DIR | -]")
	operands := ctx.parse(opts, 1)
	if *help {
		printHelp(ctx.Stdout, opts, "Change the shell working directory.")
		return nil
	}

	// Only the one operand forms touch the state.
	if len(operands) != 1 {
		return nil
	}

	var err error
	if dir := operands[0]; dir == "-" {
		err = ctx.State.Swap()
	} else {
		err = ctx.State.Chdir(dir)
	}
	if err != nil {
		ctx.Warn(err)
	}
	return nil
}

// History lists the history entries oldest first.
func History(ctx *BuiltinContext) error {
	opts, help := newBuiltinFlags("history", "")
	clearOpt := opts.Bool('c', "clear the history by deleting all entries")
	ctx.parse(opts, 0)
	if *help {
		printHelp(ctx.Stdout, opts, "Display the history list.")
		return nil
	}

	if ctx.History == nil {
		return nil
	}

	if *clearOpt {
		ctx.History.ClearHistory()
		return nil
	}

	for _, line := range ctx.History.History() {
		if _, err := fmt.Fprintln(ctx.Stdout, line); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	addBuiltin("exit", false, BuiltinFunc(Exit))
	addBuiltin("pwd", true, BuiltinFunc(Pwd))
	addBuiltin("cd", false, BuiltinFunc(Cd))
	addBuiltin("history", true, BuiltinFunc(History))
}
