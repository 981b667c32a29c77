package ipc

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPath(t *testing.T) {
	t.Setenv(EnvSocket, "/tmp/custom.sock")
	assert.Equal(t, "/tmp/custom.sock", SocketPath())

	t.Setenv(EnvSocket, "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	assert.Equal(t, "/run/user/1000/wlsel.sock", SocketPath())
}

func TestListen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.sock")
	t.Setenv(EnvSocket, path)
	assert.False(t, IsRunning())

	l, err := Listen(path)
	require.NoError(t, err)
	defer l.Close()
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	assert.True(t, IsRunning())
	c, err := Dial(context.Background(), path)
	require.NoError(t, err)
	_ = c.Close()

	_, err = Listen(path)
	assert.ErrorContains(t, err, "already in use")
}
