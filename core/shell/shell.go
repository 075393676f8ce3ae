package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/forksh/core/config"
	"github.com/josephlewis42/forksh/core/jobs"
	"github.com/josephlewis42/forksh/core/logger"
)

const (
	EnvHome   = "HOME"
	EnvPath   = "PATH"
	EnvUser   = "USER"
	EnvPrompt = "PS1"

	DefaultPrompt = `\u@\h:\w\$ `

	// SyntaxErrorStatus is the exit status of a line that didn't parse.
	SyntaxErrorStatus = 2
)

var promptEscapes = strings.NewReplacer(`\033`, "\033", `\e`, "\033", `\n`, "\n", `\\`, `\`)

// Shell is the read-eval loop around an Engine.
type Shell struct {
	Engine *Engine
	Jobs   *jobs.Table
	Log    *logger.SessionLogger

	// Readline is created on the first call to RunInteractive.
	Readline *readline.Instance

	prompt       string
	historyFile  string
	historyLimit int
	history      []string

	// background pipelines by job ID, released once their job is reaped.
	background map[int]*Pipeline

	lastRet int
	eof     bool
}

var _ HistorySource = (*Shell)(nil)

// NewShell creates a shell configured by cfg. Events are recorded to log.
func NewShell(cfg *config.Configuration, log *logger.SessionLogger) (*Shell, error) {
	if cfg.Path != "" {
		if err := os.Setenv(EnvPath, cfg.Path); err != nil {
			return nil, err
		}
	}

	state := NewState()
	state.Strict = cfg.StrictCd

	engine := NewEngine(state)
	if log != nil {
		engine.Log = log
	}
	engine.ExecFailureStatus = cfg.ExecFailureStatus
	engine.SetColor(colorSetting(cfg.Color))

	s := &Shell{
		Engine:       engine,
		Jobs:         jobs.New(),
		Log:          log,
		prompt:       cfg.Prompt,
		historyFile:  cfg.HistoryPath(),
		historyLimit: cfg.HistoryLimit,
		background:   make(map[int]*Pipeline),
	}
	engine.History = s

	if err := s.loadHistory(); err != nil {
		return nil, err
	}

	return s, nil
}

func colorSetting(mode string) *bool {
	var enabled bool
	switch mode {
	case config.ColorAlways:
		enabled = true
	case config.ColorNever:
		enabled = false
	default:
		return nil
	}
	return &enabled
}

// loadHistory seeds the in-memory history with the tail of the history file.
func (s *Shell) loadHistory() error {
	if s.historyFile == "" || s.historyLimit == 0 {
		return nil
	}

	fd, err := os.Open(s.historyFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return err
	}
	defer fd.Close()

	scanner := bufio.NewScanner(fd)
	for scanner.Scan() {
		s.addHistory(scanner.Text())
	}
	return scanner.Err()
}

func (s *Shell) addHistory(line string) {
	if s.historyLimit == 0 || strings.TrimSpace(line) == "" {
		return
	}
	s.history = append(s.history, line)
	if over := len(s.history) - s.historyLimit; over > 0 {
		s.history = s.history[over:]
	}
}

// History returns the lines entered so far, oldest first.
func (s *Shell) History() []string {
	return append([]string(nil), s.history...)
}

// ClearHistory forgets every line entered so far.
func (s *Shell) ClearHistory() {
	s.history = nil
	if s.Readline != nil {
		s.Readline.Operation.ResetHistory()
	}
}

// ExitStatus is the status of the last pipeline that ran.
func (s *Shell) ExitStatus() int {
	return s.lastRet
}

// Exited reports whether the exit builtin ran.
func (s *Shell) Exited() bool {
	return s.eof
}

// Prompt expands the configured prompt.
func (s *Shell) Prompt() string {
	prompt := s.prompt
	if ps1 := os.Getenv(EnvPrompt); ps1 != "" {
		prompt = ps1
	}
	if prompt == "" {
		prompt = DefaultPrompt
	}

	username := os.Getenv(EnvUser)
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}
	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}

	pwd, _ := s.Engine.State.Getwd()
	if home := os.Getenv(EnvHome); home != "" && (pwd == home || strings.HasPrefix(pwd, home+"/")) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}

	sign := "$"
	if os.Geteuid() == 0 {
		sign = "#"
	}

	prompt = strings.ReplaceAll(prompt, `\u`, username)
	prompt = strings.ReplaceAll(prompt, `\h`, host)
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)
	prompt = strings.ReplaceAll(prompt, `\$`, sign)

	return promptEscapes.Replace(prompt)
}

// lookup resolves parameters for expansion, including $? and $$.
func (s *Shell) lookup(name string) string {
	switch name {
	case "?":
		return strconv.Itoa(s.lastRet)
	case "$":
		return strconv.Itoa(os.Getpid())
	default:
		return os.Getenv(name)
	}
}

// RunCommand parses and executes one line. Statements after the exit builtin
// are skipped.
func (s *Shell) RunCommand(line string) {
	pipelines, err := Parse(line, s.lookup)
	if err != nil {
		s.Engine.ReportError(err)
		s.lastRet = SyntaxErrorStatus
		return
	}

	for _, p := range pipelines {
		if s.eof {
			p.Release()
			continue
		}
		s.runPipeline(p)
	}
}

func (s *Shell) runPipeline(p *Pipeline) {
	err := s.Engine.RunPipeline(p, s.Jobs, &s.eof)
	if err != nil {
		s.Engine.ReportError(err)
	}

	job := p.Job()
	switch {
	case job == nil:
		// Everything ran in the shell process.
		p.Release()
		s.lastRet = 0
		if err != nil {
			s.lastRet = 1
		}

	case p.Background:
		s.background[job.ID] = p
		pids := job.Pids()
		pid := pids[len(pids)-1]
		if pid == 0 {
			// Subshells run inside this process.
			pid = os.Getpid()
		}
		fmt.Fprintf(s.Engine.stderr(), "[%d] %d\n", job.ID, pid)
		s.lastRet = 0

	default:
		s.lastRet = s.Jobs.Wait(job)
		p.Release()
		s.recordJobDone(job, false)
	}
}

// notifyDone announces background jobs that finished since the last prompt.
func (s *Shell) notifyDone() {
	for _, job := range s.Jobs.Reap() {
		fmt.Fprintf(s.Engine.stderr(), "[%d]+ Done  %s\n", job.ID, job.Title)
		s.recordJobDone(job, true)
		if p, ok := s.background[job.ID]; ok {
			p.Release()
			delete(s.background, job.ID)
		}
	}
}

func (s *Shell) recordJobDone(job *jobs.Job, background bool) {
	if s.Log == nil {
		return
	}
	fields := logger.Fields{
		"job":        job.ID,
		"title":      job.Title,
		"status":     job.Status(),
		"background": background,
	}
	if err := job.Err(); err != nil {
		fields["error"] = err.Error()
	}
	_ = s.Log.Record(logger.EventJobDone, fields)
}

func (s *Shell) readline() (*readline.Instance, error) {
	if s.Readline != nil {
		return s.Readline, nil
	}

	limit := s.historyLimit
	if limit == 0 {
		limit = -1
	}

	cfg := &readline.Config{
		Prompt:       s.Prompt(),
		HistoryFile:  s.historyFile,
		HistoryLimit: limit,
		Stdin:        readline.NewCancelableStdin(os.Stdin),
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
	}
	if err := cfg.Init(); err != nil {
		return nil, err
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return nil, err
	}
	s.Readline = rl
	return rl, nil
}

// RunInteractive reads and executes lines until exit is run or the input is
// closed. It returns the status of the last pipeline.
func (s *Shell) RunInteractive() (int, error) {
	rl, err := s.readline()
	if err != nil {
		return 1, err
	}

	for !s.eof {
		s.notifyDone()

		rl.SetPrompt(s.Prompt())
		line, err := rl.Readline()

		switch {
		case err == io.EOF:
			// Input closed, quit.
			return s.lastRet, nil

		case err == readline.ErrInterrupt:
			// Interrupt clears line.
			continue

		case err != nil:
			return s.lastRet, err

		case strings.TrimSpace(line) == "":
			continue

		default:
			s.addHistory(line)
			s.RunCommand(line)
		}
	}
	return s.lastRet, nil
}

// Close releases the shell state and the terminal.
func (s *Shell) Close() error {
	// Background builtins may still be reading their commands.
	s.background = nil
	s.Engine.State.Release()

	if s.Readline != nil {
		return s.Readline.Close()
	}
	return nil
}
