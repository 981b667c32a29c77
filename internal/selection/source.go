package selection

import (
	"fmt"
	"log/slog"

	"go.klb.dev/wlsel/internal/mimestore"
	"go.klb.dev/wlsel/internal/pipe"
)

// owner is the device a source is bound to. It is not an owning reference:
// the device owns the source, and the source only uses this to unbind itself.
type owner[S SourceHandle] interface {
	detach(*Source[S])
}

// Source is content this process offers to the peer.
type Source[S SourceHandle] struct {
	handle    S
	mimes     mimestore.Store
	owner     owner[S]
	transport pipe.Transport
	destroyed bool
}

// NewSource wraps handle. The source owns handle from now on and destroys
// it in Destroy.
func NewSource[S SourceHandle](handle S, opts ...Option) *Source[S] {
	o := buildOptions(opts)
	return &Source[S]{handle: handle, transport: o.transport}
}

// Handle returns the underlying protocol object.
func (s *Source[S]) Handle() S { return s.handle }

// AddData stores a copy of data under mimeType, replacing earlier data for
// the same type. Legacy text labels are stored under the canonical label.
func (s *Source[S]) AddData(mimeType string, data []byte) error {
	if s == nil || s.destroyed {
		return ErrInvalidHandle
	}
	s.mimes.Upsert(mimestore.Canonical(mimeType), data)
	return nil
}

// HasType reports whether the source holds an entry for mimeType.
func (s *Source[S]) HasType(mimeType string) bool {
	if s == nil || s.destroyed {
		return false
	}
	return s.mimes.Has(mimestore.Canonical(mimeType))
}

// Types returns the stored MIME types in the order they were added.
func (s *Source[S]) Types() []string {
	if s == nil || s.destroyed {
		return nil
	}
	return s.mimes.Labels()
}

// Size returns the total payload size across all types.
func (s *Source[S]) Size() int {
	if s == nil || s.destroyed {
		return 0
	}
	return s.mimes.Size()
}

// Data returns a private copy of the payload for mimeType, or nil if there
// is none. It is how a process reads back a selection it owns itself.
func (s *Source[S]) Data(mimeType string, nullTerminate bool) ([]byte, error) {
	if s == nil || s.destroyed {
		return nil, ErrInvalidHandle
	}
	return s.mimes.FetchCopy(mimestore.Canonical(mimeType), nullTerminate), nil
}

// Send writes the payload for mimeType to fd and closes fd. It always closes
// fd exactly once, including when mimeType is unknown.
func (s *Source[S]) Send(mimeType string, fd int) (int, error) {
	defer pipe.Close(fd)

	if s == nil || s.destroyed {
		return 0, ErrInvalidHandle
	}
	mimeType = mimestore.Canonical(mimeType)
	e, ok := s.mimes.Find(mimeType)
	if !ok || len(e.Data) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownType, mimeType)
	}

	n, err := s.transport.WriteAll(fd, e.Data)
	if err != nil {
		return n, fmt.Errorf("send %s: %w", mimeType, err)
	}
	slog.Debug("selection sent", "mime", mimeType, "bytes", n)
	return n, nil
}

// Destroy unbinds the source from its device, releases the protocol object
// and drops all data. It is safe to call more than once.
func (s *Source[S]) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	s.destroyed = true
	if s.owner != nil {
		s.owner.detach(s)
		s.owner = nil
	}
	s.handle.Destroy()
	s.mimes.Clear()
}

// Destroyed reports whether Destroy has run.
func (s *Source[S]) Destroyed() bool {
	return s == nil || s.destroyed
}
