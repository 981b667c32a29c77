// Package selection implements both ends of a compositor-mediated selection
// transfer: Source for data this process offers, Offer for data a peer
// offers, and Device for the ownership state machine that ties a Source to
// a selection channel.
//
// The types are generic over the protocol objects they drive so the same
// code serves the regular clipboard and the primary selection, whose
// protocol handles are distinct types. None of the types lock; each one must
// only be used from the event loop that owns it.
package selection

import (
	"errors"

	"go.klb.dev/wlsel/internal/pipe"
)

var (
	// ErrUnknownType means the requested MIME type is not held or offered.
	ErrUnknownType = errors.New("selection: unknown mime type")
	// ErrInvalidHandle means the object is nil, destroyed or has no protocol handle.
	ErrInvalidHandle = errors.New("selection: invalid handle")
	// ErrNoData means a source with no MIME types was set as the selection.
	ErrNoData = errors.New("selection: no mime data")
)

// SourceHandle is the protocol object behind a data source.
type SourceHandle interface {
	// Offer advertises one MIME type to the peer.
	Offer(mimeType string)
	// Destroy releases the protocol object.
	Destroy()
}

// OfferHandle is the protocol object behind a data offer.
type OfferHandle interface {
	// Receive asks the peer to write the payload for mimeType to fd.
	// The callee duplicates fd if it needs it past the call.
	Receive(mimeType string, fd int) error
	// Destroy releases the protocol object.
	Destroy()
}

// DeviceHandle is the protocol object behind a selection device. A zero
// source clears the selection.
type DeviceHandle[S SourceHandle] interface {
	SetSelection(source S, serial uint32)
}

// Flusher pushes queued protocol requests to the peer.
type Flusher interface {
	Flush() error
}

// Option configures a Source or Offer.
type Option func(*options)

type options struct {
	transport pipe.Transport
}

// WithTransport sets the limits used for pipe transfers.
func WithTransport(t pipe.Transport) Option {
	return func(o *options) { o.transport = t }
}

func buildOptions(opts []Option) options {
	o := options{transport: pipe.Default}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
