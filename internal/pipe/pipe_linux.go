//go:build linux

package pipe

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// kernelSigsetSize is _NSIG / 8, the sigset size rt_sig* syscalls expect.
const kernelSigsetSize = 8

func newPipe(p []int) error {
	return unix.Pipe2(p, unix.O_NONBLOCK|unix.O_CLOEXEC)
}

// writeNoSigpipe issues one write(2) with SIGPIPE blocked for the calling
// thread. A SIGPIPE raised by the write is consumed before the previous mask
// is restored, so it is never delivered.
func writeNoSigpipe(fd int, p []byte) (int, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var set, old unix.Sigset_t
	sigaddset(&set, unix.SIGPIPE)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return 0, err
	}
	defer func() {
		reapPending(&set)
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
	}()

	return unix.Write(fd, p)
}

// reapPending discards a pending signal from set without waiting.
func reapPending(set *unix.Sigset_t) {
	var zero unix.Timespec
	_, _, _ = unix.RawSyscall6(unix.SYS_RT_SIGTIMEDWAIT,
		uintptr(unsafe.Pointer(set)),
		0,
		uintptr(unsafe.Pointer(&zero)),
		kernelSigsetSize,
		0, 0)
}

func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	bits := uint(unsafe.Sizeof(set.Val[0])) * 8
	n := uint(sig) - 1
	set.Val[n/bits] |= 1 << (n % bits)
}
