// Package mimestore holds selection payloads keyed by MIME type.
//
// A Store is owned by exactly one data source or data offer. Entries keep the
// order in which their labels were first inserted, which is also the order
// in which they are advertised to the peer.
package mimestore

// Entry is a single MIME representation of the selection. Data is nil for a
// placeholder: a type that was announced but whose bytes have not been
// materialized. Callers must not modify Data.
type Entry struct {
	Label string
	Data  []byte
}

// Store is an insertion-ordered set of entries with unique labels.
// The zero value is ready to use.
type Store struct {
	entries []*Entry
}

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// Find returns the entry for label. Labels match exactly and case-sensitively.
func (s *Store) Find(label string) (Entry, bool) {
	if e := s.find(label); e != nil {
		return *e, true
	}
	return Entry{}, false
}

func (s *Store) find(label string) *Entry {
	for _, e := range s.entries {
		if e.Label == label {
			return e
		}
	}
	return nil
}

// Upsert stores a private copy of data under label.
//
// An existing payload is replaced only after the copy is complete. Empty data
// records a placeholder for label if none exists and leaves any stored
// payload untouched.
func (s *Store) Upsert(label string, data []byte) {
	var payload []byte
	if len(data) > 0 {
		payload = make([]byte, len(data))
		copy(payload, data)
	}

	e := s.find(label)
	if e == nil {
		e = &Entry{Label: label}
		s.entries = append(s.entries, e)
	}
	if payload != nil {
		e.Data = payload
	}
}

// Has reports whether label has an entry, placeholder or not.
func (s *Store) Has(label string) bool {
	return s.find(label) != nil
}

// Labels returns every label in insertion order.
func (s *Store) Labels() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Label
	}
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int { return len(s.entries) }

// Size returns the total number of payload bytes held.
func (s *Store) Size() int {
	n := 0
	for _, e := range s.entries {
		n += len(e.Data)
	}
	return n
}

// Clear drops every entry and its payload.
func (s *Store) Clear() {
	for i, e := range s.entries {
		e.Data = nil
		s.entries[i] = nil
	}
	s.entries = nil
}

// FetchCopy returns a newly allocated copy of the payload stored under label,
// with one extra zero byte appended when nullTerminate is set. It returns nil
// if the entry is missing or is a placeholder.
func (s *Store) FetchCopy(label string, nullTerminate bool) []byte {
	e := s.find(label)
	if e == nil || len(e.Data) == 0 {
		return nil
	}
	n := len(e.Data)
	if nullTerminate {
		n++
	}
	out := make([]byte, n)
	copy(out, e.Data)
	return out
}
