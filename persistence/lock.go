package persistence

import "github.com/spf13/afero"

type fder interface {
	Fd() uintptr
}

// lockFile takes an exclusive lock on h if it is backed by an OS file.
// In-memory filesystems are not locked.
func lockFile(h afero.File) error {
	if f, ok := h.(fder); ok {
		return lockFd(f.Fd())
	}
	return nil
}

func unlockFile(h afero.File) error {
	if f, ok := h.(fder); ok {
		return unlockFd(f.Fd())
	}
	return nil
}
