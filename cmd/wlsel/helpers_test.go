package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestIsContainerID(t *testing.T) {
	assert.True(t, isContainerID("0123456789ab"))
	assert.False(t, isContainerID("0123456789"))
	assert.False(t, isContainerID("workstation-01"))
	assert.False(t, isContainerID("0123456789AB"))
}

func TestDefaultSource(t *testing.T) {
	t.Setenv("WLSEL_SOURCE", "laptop")
	assert.Equal(t, "laptop", defaultSource())

	t.Setenv("WLSEL_SOURCE", "")
	t.Setenv("CONTAINER_NAME", "")
	t.Setenv("COMPOSE_SERVICE", "web")
	assert.Equal(t, "web", defaultSource())
}

func TestWithPort(t *testing.T) {
	assert.Equal(t, "example.com:8752", withPort("example.com"))
	assert.Equal(t, "example.com:9000", withPort("example.com:9000"))
	assert.Equal(t, "[::1]:8752", withPort("::1"))
}

func TestTypesSummary(t *testing.T) {
	assert.Equal(t, "-", typesSummary(nil))
	assert.Equal(t, "a, b", typesSummary([]string{"a", "b"}))
	assert.Equal(t, "a, b, c (+2 more)", typesSummary([]string{"a", "b", "c", "d", "e"}))
}

func TestPrintStatus(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{
		"serial": 1234,
		"channels": []any{
			map[string]any{
				"kind":  "clipboard",
				"owner": "alice",
				"types": []any{"text/plain;charset=utf-8", "text/plain"},
				"since": time.Now().Add(-time.Minute).UTC().Format(time.RFC3339Nano),
			},
			map[string]any{"kind": "primary", "owner": "", "types": []any{}},
		},
		"clients": []any{
			map[string]any{"id": "0123456789abcdef", "name": "alice", "connected_at": time.Now().UTC().Format(time.RFC3339Nano)},
			map[string]any{"id": "fedcba9876543210", "name": "bob"},
		},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	printStatus(&buf, st, "bob", "ipc (/run/wlsel.sock)")
	out := buf.String()

	assert.Contains(t, out, "ipc (/run/wlsel.sock)")
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "1 minute ago")
	assert.Contains(t, out, "text/plain;charset=utf-8, text/plain")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Regexp(t, `(?m)^\*\s+bob`, out)
}

func TestPrintEvent(t *testing.T) {
	ev, err := structpb.NewStruct(map[string]any{
		"kind":  "primary",
		"owner": "",
		"types": []any{},
		"at":    "not a time",
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	printEvent(&buf, ev)
	assert.Equal(t, "not a time  primary    (cleared)  \n", buf.String())
}
