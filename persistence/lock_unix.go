//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package persistence

import "golang.org/x/sys/unix"

// flock locks are held per open file description, so the cached handle keeps
// other processes out for the duration of a flush.
func lockFd(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_EX)
}

func unlockFd(fd uintptr) error {
	return unix.Flock(int(fd), unix.LOCK_UN)
}
