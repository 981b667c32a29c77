// Package ipc locates the Unix socket a local wlsel server listens on.
//
// The socket carries the same SelectionService gRPC API as the TCP
// listener, without TLS or token auth; access is governed by the socket's
// file permissions. CLI sub-commands probe for it and fall back to TCP if
// it is absent.
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"
)

// EnvSocket overrides the socket path.
const EnvSocket = "WLSEL_SOCKET"

const socketName = "wlsel.sock"

// SocketPath returns the IPC socket path: $WLSEL_SOCKET, else
// $XDG_RUNTIME_DIR/wlsel.sock, else $TMPDIR/wlsel.sock.
func SocketPath() string {
	if s := os.Getenv(EnvSocket); s != "" {
		return s
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), socketName)
}

// IsRunning reports whether something is listening on the socket. It does a
// cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	return IsRunningAt(SocketPath())
}

// Dial connects to the socket at path, giving up after a second.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	d := net.Dialer{Timeout: time.Second}
	return d.DialContext(ctx, "unix", path)
}

// Listen creates a listener on path, removing a stale socket left by a
// crashed run first. The socket is made accessible to its owner only.
func Listen(path string) (net.Listener, error) {
	if IsRunningAt(path) {
		return nil, fmt.Errorf("ipc: %s already in use", path)
	}
	_ = os.Remove(path)
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("ipc: chmod: %w", err)
	}
	return l, nil
}

// IsRunningAt is IsRunning for an explicit path.
func IsRunningAt(path string) bool {
	c, err := Dial(context.Background(), path)
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}
