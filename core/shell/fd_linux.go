package shell

import "golang.org/x/sys/unix"

// dup2 duplicates oldfd onto newfd. Some Linux ports only provide dup3.
func dup2(oldfd, newfd int) error {
	if oldfd == newfd {
		return nil
	}
	return unix.Dup3(oldfd, newfd, 0)
}
