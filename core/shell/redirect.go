package shell

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// RedirectError is returned when a redirection target can't be opened or
// bound to its descriptor. The command it belongs to doesn't run.
type RedirectError struct {
	Program     string
	Redirection *Redirection
	Err         error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%s: redirect %s: %v", e.Program, e.Redirection, e.Err)
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// StartError is returned when a program could not be started.
type StartError struct {
	Program string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Program, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// savedStdio holds duplicates of the shell's stdin and stdout.
type savedStdio struct {
	stdin  int
	stdout int
}

func saveStdio() (*savedStdio, error) {
	stdout, err := unix.Dup(1)
	if err != nil {
		return nil, err
	}
	stdin, err := unix.Dup(0)
	if err != nil {
		unix.Close(stdout)
		return nil, err
	}
	return &savedStdio{stdin: stdin, stdout: stdout}, nil
}

// restore rebinds fd 0 and 1 to the saved descriptions and closes the copies.
func (s *savedStdio) restore() error {
	outErr := dup2(s.stdout, 1)
	inErr := dup2(s.stdin, 0)
	unix.Close(s.stdout)
	unix.Close(s.stdin)

	if outErr != nil {
		return outErr
	}
	return inErr
}

// bind opens the redirection target and duplicates it onto the descriptor
// the operator rebinds.
func bind(r *Redirection) error {
	f, err := r.open()
	if err != nil {
		return err
	}
	defer f.Close()

	return dup2(int(f.Fd()), r.Fd())
}

// withRedirect runs fn with stdin/stdout temporarily redirected. The shell's
// own descriptors are restored before it returns, even if binding failed, in
// which case fn isn't called.
func withRedirect(program string, r *Redirection, fn func()) (err error) {
	saved, err := saveStdio()
	if err != nil {
		return &RedirectError{Program: program, Redirection: r, Err: err}
	}
	defer func() {
		if restoreErr := saved.restore(); restoreErr != nil && err == nil {
			err = fmt.Errorf("restoring standard descriptors: %w", restoreErr)
		}
	}()

	if err := bind(r); err != nil {
		return &RedirectError{Program: program, Redirection: r, Err: err}
	}

	fn()
	return nil
}

// IsRedirectError reports whether err is a redirection failure.
func IsRedirectError(err error) bool {
	var redirErr *RedirectError
	return errors.As(err, &redirErr)
}
