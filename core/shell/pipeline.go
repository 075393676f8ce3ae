package shell

import (
	"errors"
	"os"
	"strings"

	"github.com/josephlewis42/forksh/core/jobs"
)

// ErrEmptyPipeline is returned when building a pipeline without commands.
var ErrEmptyPipeline = errors.New("pipeline has no commands")

// Pipeline is an ordered group of commands sharing one job.
type Pipeline struct {
	Commands []*Command
	// Background pipelines aren't waited on and never run builtins in the
	// shell process.
	Background bool
	// Text is the source the pipeline was parsed from, used as the job title.
	Text string

	job    *jobs.Job
	jobbed bool

	// stdin[i] and stdout[i] are the pipe ends connecting command i to its
	// neighbours, nil for the shell's own streams.
	stdin  []*os.File
	stdout []*os.File
}

// NewPipeline groups commands into a pipeline.
func NewPipeline(text string, background bool, commands ...*Command) (*Pipeline, error) {
	if len(commands) == 0 {
		return nil, ErrEmptyPipeline
	}
	return &Pipeline{
		Commands:   commands,
		Background: background,
		Text:       text,
	}, nil
}

// Job returns the job the pipeline was registered as, nil if every command
// ran in the shell process.
func (p *Pipeline) Job() *jobs.Job {
	return p.job
}

func (p *Pipeline) String() string {
	if p.Text != "" {
		return p.Text
	}

	var parts []string
	for _, c := range p.Commands {
		parts = append(parts, c.String())
	}
	out := strings.Join(parts, " | ")
	if p.Background {
		out += " &"
	}
	return out
}

// connect creates the pipes between adjacent commands.
func (p *Pipeline) connect() error {
	p.stdin = make([]*os.File, len(p.Commands))
	p.stdout = make([]*os.File, len(p.Commands))

	for i := 0; i < len(p.Commands)-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			p.closeAll()
			return err
		}
		p.stdout[i] = w
		p.stdin[i+1] = r
	}
	return nil
}

func (p *Pipeline) index(cmd *Command) int {
	for i, c := range p.Commands {
		if c == cmd {
			return i
		}
	}
	return -1
}

// stdio returns the pipe ends for command i and hands their ownership to the
// caller.
func (p *Pipeline) stdio(i int) (stdin, stdout *os.File) {
	if i < 0 || i >= len(p.stdin) {
		return nil, nil
	}
	stdin, stdout = p.stdin[i], p.stdout[i]
	p.stdin[i], p.stdout[i] = nil, nil
	return stdin, stdout
}

func (p *Pipeline) closeAll() {
	for i := range p.stdin {
		closeFiles(p.stdio(i))
	}
}

// Release releases every command and closes pipe ends nobody took.
func (p *Pipeline) Release() {
	p.closeAll()
	for _, c := range p.Commands {
		c.Release()
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			f.Close()
		}
	}
}
