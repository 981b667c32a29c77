//go:build unix && !linux

package pipe

import "golang.org/x/sys/unix"

func newPipe(p []int) error {
	if err := unix.Pipe(p); err != nil {
		return err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return err
		}
	}
	return nil
}

// writeNoSigpipe relies on the Go runtime here: SIGPIPE raised by a write
// to a descriptor other than stdout or stderr is ignored and the write
// reports EPIPE.
func writeNoSigpipe(fd int, p []byte) (int, error) {
	return unix.Write(fd, p)
}
