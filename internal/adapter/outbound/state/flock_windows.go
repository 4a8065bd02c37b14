//go:build windows

package state

import "golang.org/x/sys/windows"

// flockLock takes an exclusive lock on the first byte of the mirror file
// via LockFileEx, blocking until the lock is free. One byte is enough:
// both sides only ever lock this same range.
func flockLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd), windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, &ol)
}

// flockUnlock releases the byte range taken by flockLock.
func flockUnlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
