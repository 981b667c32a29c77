package selection

import (
	"fmt"
	"log/slog"

	"go.klb.dev/wlsel/internal/mimestore"
	"go.klb.dev/wlsel/internal/pipe"
)

// Offer is content a peer advertises. It records the advertised MIME types
// and pulls payloads on demand through a fresh pipe per request.
type Offer[O OfferHandle] struct {
	handle    O
	mimes     mimestore.Store
	flusher   Flusher
	transport pipe.Transport
	destroyed bool
}

// NewOffer wraps handle. flusher is the connection that carries the
// receive request to the peer.
func NewOffer[O OfferHandle](handle O, flusher Flusher, opts ...Option) *Offer[O] {
	o := buildOptions(opts)
	return &Offer[O]{handle: handle, flusher: flusher, transport: o.transport}
}

// Handle returns the underlying protocol object.
func (o *Offer[O]) Handle() O { return o.handle }

// AddType records that the peer advertised mimeType.
func (o *Offer[O]) AddType(mimeType string) error {
	if o == nil || o.destroyed {
		return ErrInvalidHandle
	}
	o.mimes.Upsert(mimeType, nil)
	return nil
}

// HasType reports whether the peer advertised mimeType or one of its text
// aliases.
func (o *Offer[O]) HasType(mimeType string) bool {
	_, ok := o.resolve(mimeType)
	return ok
}

// Types returns the advertised MIME types in advertisement order.
func (o *Offer[O]) Types() []string {
	if o == nil || o.destroyed {
		return nil
	}
	return o.mimes.Labels()
}

// resolve maps mimeType to the label the peer actually advertised. An exact
// match wins; otherwise any advertised label with the same canonical form
// is used.
func (o *Offer[O]) resolve(mimeType string) (string, bool) {
	if o == nil || o.destroyed {
		return "", false
	}
	if o.mimes.Has(mimeType) {
		return mimeType, true
	}
	want := mimestore.Canonical(mimeType)
	for _, label := range o.mimes.Labels() {
		if mimestore.Canonical(label) == want {
			return label, true
		}
	}
	return "", false
}

// Receive asks the peer for the payload of mimeType and reads it to EOF.
// The request is flushed before reading so the peer sees it promptly.
// On a transfer error the bytes read so far are returned with the error.
func (o *Offer[O]) Receive(mimeType string, nullTerminate bool) ([]byte, error) {
	if o == nil || o.destroyed || o.flusher == nil {
		return nil, ErrInvalidHandle
	}
	label, ok := o.resolve(mimeType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, mimeType)
	}

	r, w, err := pipe.NewPipe()
	if err != nil {
		return nil, err
	}
	defer pipe.Close(r)

	if err := o.handle.Receive(label, w); err != nil {
		pipe.Close(w)
		return nil, fmt.Errorf("receive %s: %w", label, err)
	}
	if err := o.flusher.Flush(); err != nil {
		pipe.Close(w)
		return nil, fmt.Errorf("receive %s: flush: %w", label, err)
	}
	// Our copy of the write end must go, or EOF never arrives.
	pipe.Close(w)

	data, err := o.transport.ReadAll(r, nullTerminate)
	if err != nil {
		return data, fmt.Errorf("receive %s: %w", label, err)
	}
	slog.Debug("selection received", "mime", label, "bytes", len(data))
	return data, nil
}

// Destroy releases the protocol object and the recorded types. It is safe
// to call more than once.
func (o *Offer[O]) Destroy() {
	if o == nil || o.destroyed {
		return
	}
	o.destroyed = true
	o.handle.Destroy()
	o.mimes.Clear()
}
