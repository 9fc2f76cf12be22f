//go:build windows

package persistence

import (
	"math"

	"golang.org/x/sys/windows"
)

func lockFd(fd uintptr) error {
	ol := new(windows.Overlapped)
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, math.MaxUint32, math.MaxUint32, ol)
}

func unlockFd(fd uintptr) error {
	ol := new(windows.Overlapped)
	return windows.UnlockFileEx(windows.Handle(fd), 0, math.MaxUint32, math.MaxUint32, ol)
}
