package mimestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCopiesPayload(t *testing.T) {
	s := New()
	payload := []byte("hello, selection")
	s.Upsert("text/html", payload)

	payload[0] = 'J'

	e, ok := s.Find("text/html")
	require.True(t, ok)
	assert.Equal(t, []byte("hello, selection"), e.Data)
}

func TestUpsertReplacesExisting(t *testing.T) {
	s := New()
	s.Upsert("image/png", []byte{1, 2, 3})
	s.Upsert("image/png", []byte{4, 5})

	require.Equal(t, 1, s.Len())
	e, ok := s.Find("image/png")
	require.True(t, ok)
	assert.Equal(t, []byte{4, 5}, e.Data)
}

func TestUpsertPlaceholder(t *testing.T) {
	t.Run("new label", func(t *testing.T) {
		s := New()
		s.Upsert("text/uri-list", nil)

		assert.True(t, s.Has("text/uri-list"))
		e, ok := s.Find("text/uri-list")
		require.True(t, ok)
		assert.Nil(t, e.Data)
		assert.Nil(t, s.FetchCopy("text/uri-list", false))
	})

	t.Run("keeps existing payload", func(t *testing.T) {
		s := New()
		s.Upsert("text/plain", []byte("abc"))
		s.Upsert("text/plain", []byte{})

		e, ok := s.Find("text/plain")
		require.True(t, ok)
		assert.Equal(t, []byte("abc"), e.Data)
	})
}

func TestFindIsCaseSensitive(t *testing.T) {
	s := New()
	s.Upsert("TEXT", []byte("x"))

	assert.True(t, s.Has("TEXT"))
	assert.False(t, s.Has("text"))
	_, ok := s.Find("Text")
	assert.False(t, ok)
}

func TestLabelsKeepInsertionOrder(t *testing.T) {
	s := New()
	s.Upsert("b", []byte("1"))
	s.Upsert("a", []byte("2"))
	s.Upsert("c", nil)
	s.Upsert("b", []byte("3"))

	assert.Equal(t, []string{"b", "a", "c"}, s.Labels())
	assert.Equal(t, 2, s.Size())
}

func TestFetchCopyIsIndependent(t *testing.T) {
	s := New()
	s.Upsert("text/plain", []byte("abc"))

	first := s.FetchCopy("text/plain", false)
	second := s.FetchCopy("text/plain", false)
	require.Equal(t, first, second)

	first[0] = 'z'
	assert.Equal(t, []byte("abc"), second)
	assert.Equal(t, []byte("abc"), s.FetchCopy("text/plain", false))
}

func TestFetchCopyNullTerminate(t *testing.T) {
	s := New()
	s.Upsert("text/plain", []byte("abc"))

	got := s.FetchCopy("text/plain", true)
	assert.Equal(t, []byte{'a', 'b', 'c', 0}, got)
	assert.Nil(t, s.FetchCopy("missing", true))
}

func TestClear(t *testing.T) {
	s := New()
	labels := []string{"text/plain", "image/png", "application/json"}
	for _, l := range labels {
		s.Upsert(l, []byte(l))
	}

	s.Clear()

	assert.Equal(t, 0, s.Len())
	for _, l := range labels {
		assert.False(t, s.Has(l), l)
	}
	s.Clear()
	assert.Empty(t, s.Labels())
}

func TestZeroValueStore(t *testing.T) {
	var s Store
	s.Upsert("a", []byte("b"))
	assert.True(t, s.Has("a"))
}

func TestCanonical(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"text/plain", TextPlainUTF8},
		{"TEXT", TextPlainUTF8},
		{"UTF8_STRING", TextPlainUTF8},
		{"STRING", TextPlainUTF8},
		{TextPlainUTF8, TextPlainUTF8},
		{"text/html", "text/html"},
		{"string", "string"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Canonical(tt.in), tt.in)
	}
}

func TestAliases(t *testing.T) {
	assert.Equal(t, []string{"text/plain", "TEXT", "UTF8_STRING", "STRING"}, Aliases(TextPlainUTF8))
	assert.Nil(t, Aliases("image/png"))
	assert.Nil(t, Aliases("text/plain"))

	a := Aliases(TextPlainUTF8)
	a[0] = "mutated"
	assert.Equal(t, "text/plain", Aliases(TextPlainUTF8)[0])
}
