//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package shell

import "golang.org/x/sys/unix"

// dup2 duplicates oldfd onto newfd.
func dup2(oldfd, newfd int) error {
	return unix.Dup2(oldfd, newfd)
}
