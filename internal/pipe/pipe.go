//go:build unix

// Package pipe moves selection payloads through anonymous pipes with bounded
// blocking.
//
// Every read or write is preceded by a poll(2) limited to Transport.Timeout,
// so a stalled peer costs the caller a handful of short waits and then an
// error, never an unbounded hang. The functions here never close the
// descriptors they are given; ownership stays with the caller.
package pipe

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// DefaultTimeout bounds each poll. It is kept below one frame at 60 Hz
	// so a transfer cannot stall an event loop for a visible amount of time.
	DefaultTimeout = 14 * time.Millisecond

	// ChunkSize is the most a single read or write moves (PIPE_BUF on Linux).
	ChunkSize = 4096
)

var (
	// ErrTimeout means a poll ran out its budget before the peer was ready.
	ErrTimeout = errors.New("pipe: timeout")
	// ErrIO wraps a failed pipe, poll, read or write system call.
	ErrIO = errors.New("pipe: i/o error")
	// ErrTooLarge means a read would exceed Transport.MaxSize.
	ErrTooLarge = errors.New("pipe: payload too large")
)

// Transport holds the limits applied to a transfer.
type Transport struct {
	// Timeout bounds each readiness poll. Zero means DefaultTimeout.
	Timeout time.Duration
	// MaxSize caps the number of bytes ReadAll accepts. Zero means no cap.
	MaxSize int
}

// Default is the Transport used by the package-level functions.
var Default = Transport{Timeout: DefaultTimeout}

// WriteAll writes buf to fd using Default.
func WriteAll(fd int, buf []byte) (int, error) { return Default.WriteAll(fd, buf) }

// ReadAll reads fd until EOF using Default.
func ReadAll(fd int, nullTerminate bool) ([]byte, error) { return Default.ReadAll(fd, nullTerminate) }

func (t Transport) timeoutMillis() int {
	d := t.Timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	ms := int(d / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

// wait blocks until fd is ready for events or the poll budget runs out.
func (t Transport) wait(fd int, events int16) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	for {
		n, err := unix.Poll(fds, t.timeoutMillis())
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: poll: %w", ErrIO, err)
		}
		if n == 0 {
			return ErrTimeout
		}
		if fds[0].Revents&unix.POLLNVAL != 0 {
			return fmt.Errorf("%w: poll: %w", ErrIO, unix.EBADF)
		}
		return nil
	}
}

// WriteAll writes buf to fd one chunk at a time. It returns the number of
// bytes written, which is less than len(buf) only when err is non-nil.
// A peer that closed its read end yields ErrIO wrapping EPIPE; the process
// is never terminated by SIGPIPE.
func (t Transport) WriteAll(fd int, buf []byte) (int, error) {
	pos := 0
	for pos < len(buf) {
		if err := t.wait(fd, unix.POLLOUT); err != nil {
			return pos, err
		}
		end := min(len(buf), pos+ChunkSize)
		n, err := writeNoSigpipe(fd, buf[pos:end])
		if n > 0 {
			pos += n
		}
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return pos, fmt.Errorf("%w: write: %w", ErrIO, err)
		}
	}
	return pos, nil
}

// ReadAll reads fd until the writer closes it. A writer that closes without
// sending anything yields a nil slice and no error.
//
// A poll timeout ends the transfer: with bytes already collected they are the
// result, otherwise ErrTimeout is returned. On any other failure the bytes
// collected so far are returned along with the error. When nullTerminate is
// set a non-empty result carries one extra zero byte.
func (t Transport) ReadAll(fd int, nullTerminate bool) ([]byte, error) {
	var (
		out     []byte
		scratch [ChunkSize]byte
	)
	for {
		if err := t.wait(fd, unix.POLLIN); err != nil {
			if errors.Is(err, ErrTimeout) && len(out) > 0 {
				return terminate(out, nullTerminate), nil
			}
			return terminate(out, nullTerminate), err
		}
		n, err := unix.Read(fd, scratch[:])
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return terminate(out, nullTerminate), fmt.Errorf("%w: read: %w", ErrIO, err)
		}
		if n == 0 {
			return terminate(out, nullTerminate), nil
		}
		if t.MaxSize > 0 && len(out)+n > t.MaxSize {
			return terminate(out, nullTerminate), fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, t.MaxSize)
		}
		out = append(out, scratch[:n]...)
	}
}

func terminate(b []byte, nullTerminate bool) []byte {
	if len(b) == 0 {
		return nil
	}
	if nullTerminate {
		return append(b, 0)
	}
	return b
}

// NewPipe returns a non-blocking, close-on-exec pipe as (read end, write end).
func NewPipe() (r, w int, err error) {
	var p [2]int
	if err := newPipe(p[:]); err != nil {
		return -1, -1, fmt.Errorf("%w: pipe: %w", ErrIO, err)
	}
	return p[0], p[1], nil
}

// Close closes fd. Callers use it to release descriptors they own after a
// transfer.
func Close(fd int) error {
	return unix.Close(fd)
}
