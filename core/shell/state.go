package shell

import (
	"os"
	"path/filepath"
)

// State holds the shell's working directory bookkeeping. It's mutated only by
// the cd builtin and lives as long as the shell.
type State struct {
	cwd    string
	prevwd string

	// Strict makes cwd reflect the confirmed directory: if the OS refuses a
	// directory change the previous values are restored. When false, cwd keeps
	// the requested directory even if the change failed.
	Strict bool

	getwd func() (string, error)
	chdir func(string) error
}

// NewState creates a State bound to the process working directory.
func NewState() *State {
	return &State{
		getwd: os.Getwd,
		chdir: os.Chdir,
	}
}

// Cwd returns the current directory as known to the shell, "" if unset.
func (s *State) Cwd() string {
	return s.cwd
}

// PrevWd returns the directory that was active before the last cd.
func (s *State) PrevWd() string {
	return s.prevwd
}

// Getwd returns the current directory, asking the OS the first time.
func (s *State) Getwd() (string, error) {
	if s.cwd == "" {
		wd, err := s.getwd()
		if err != nil {
			return "", err
		}
		s.cwd = wd
	}
	return s.cwd, nil
}

// Chdir records dir as the current directory and asks the OS to change to it.
func (s *State) Chdir(dir string) error {
	// Capture where we are so cd - can come back.
	_, _ = s.Getwd()

	// Relative directories are stored resolved so cd - still works from
	// somewhere else.
	if !filepath.IsAbs(dir) && s.cwd != "" {
		dir = filepath.Join(s.cwd, dir)
	}

	oldCwd, oldPrev := s.cwd, s.prevwd
	s.prevwd, s.cwd = s.cwd, dir

	if err := s.chdir(dir); err != nil {
		if s.Strict {
			s.cwd, s.prevwd = oldCwd, oldPrev
		}
		return err
	}
	return nil
}

// Swap exchanges the current and previous directories (cd -). Swapping twice
// is a no-op.
func (s *State) Swap() error {
	s.cwd, s.prevwd = s.prevwd, s.cwd
	if s.cwd == "" {
		return nil
	}

	if err := s.chdir(s.cwd); err != nil {
		if s.Strict {
			s.cwd, s.prevwd = s.prevwd, s.cwd
		}
		return err
	}
	return nil
}

// Release clears the state at shell shutdown.
func (s *State) Release() {
	s.cwd = ""
	s.prevwd = ""
}

// clone copies the state for a subshell. Directory changes in the copy only
// update its own bookkeeping, the process directory is left alone.
func (s *State) clone() *State {
	return &State{
		cwd:    s.cwd,
		prevwd: s.prevwd,
		Strict: s.Strict,
		getwd:  s.getwd,
		chdir: func(dir string) error {
			_, err := os.Stat(dir)
			return err
		},
	}
}
