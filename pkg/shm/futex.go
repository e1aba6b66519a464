//go:build linux

package shm

import (
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// allWaiters asks FUTEX_WAKE to release every thread queued on a word.
const allWaiters = 1<<31 - 1

// futex issues the raw syscall. The words live in a MAP_SHARED mapping,
// so the process-private futex variants must not be used here.
func futex(addr *uint32, op int, val uint32, ts *unix.Timespec) (int, unix.Errno) {
	r1, _, errno := unix.Syscall6(unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(addr)),
		uintptr(op),
		uintptr(val),
		uintptr(unsafe.Pointer(ts)),
		0, 0)
	return int(r1), errno
}

// futexWaitFor sleeps on addr while it holds val, for at most d.
// Spurious returns are fine; callers re-check their condition.
func futexWaitFor(addr *uint32, val uint32, d time.Duration) error {
	ts := unix.NsecToTimespec(d.Nanoseconds())
	_, errno := futex(addr, unix.FUTEX_WAIT, val, &ts)
	switch errno {
	case 0, unix.EAGAIN, unix.EINTR, unix.ETIMEDOUT:
		return nil
	default:
		return errno
	}
}

// futexWake releases up to n waiters queued on addr.
func futexWake(addr *uint32, n int) {
	futex(addr, unix.FUTEX_WAKE, uint32(n), nil)
}

// futexLock acquires the mutex word: 0 free, 1 held, 2 held with
// waiters queued.
func futexLock(addr *uint32) {
	if atomic.CompareAndSwapUint32(addr, 0, 1) {
		return
	}
	for atomic.SwapUint32(addr, 2) != 0 {
		futex(addr, unix.FUTEX_WAIT, 2, nil)
	}
}

// futexUnlock releases the mutex word and wakes one queued waiter.
func futexUnlock(addr *uint32) {
	if atomic.SwapUint32(addr, 0) == 2 {
		futexWake(addr, 1)
	}
}
