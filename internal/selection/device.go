package selection

import (
	"log/slog"

	"go.klb.dev/wlsel/internal/mimestore"
)

// State describes a device's ownership of its selection channel.
type State int

const (
	// StateEmpty means no source is installed.
	StateEmpty State = iota
	// StatePending means a source is installed but no input serial has been
	// seen, so it has not been announced to the peer yet.
	StatePending
	// StateActive means a source is installed and announced.
	StateActive
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	}
	return "unknown"
}

// Device owns at most one active Source for a selection channel and tracks
// the latest input serial needed to claim the channel. It also keeps the
// offer currently advertised on the channel by other clients.
type Device[S SourceHandle, O OfferHandle] struct {
	handle DeviceHandle[S]
	active *Source[S]
	offer  *Offer[O]
	serial uint32
}

// NewDevice wraps handle. A nil handle yields a device on which every
// operation fails with ErrInvalidHandle.
func NewDevice[S SourceHandle, O OfferHandle](handle DeviceHandle[S]) *Device[S, O] {
	return &Device[S, O]{handle: handle}
}

func (d *Device[S, O]) valid() bool {
	return d != nil && d.handle != nil
}

// State reports the ownership state.
func (d *Device[S, O]) State() State {
	switch {
	case !d.valid() || d.active == nil:
		return StateEmpty
	case d.serial == 0:
		return StatePending
	default:
		return StateActive
	}
}

// Source returns the active source, or nil.
func (d *Device[S, O]) Source() *Source[S] {
	if !d.valid() {
		return nil
	}
	return d.active
}

// Serial returns the last input serial recorded with SetSerial.
func (d *Device[S, O]) Serial() uint32 {
	if !d.valid() {
		return 0
	}
	return d.serial
}

// SetSelection advertises every type src holds, plus the legacy aliases of
// the text type, and makes src the active source. Any previous source is
// destroyed. The claim is announced immediately when a serial is known and
// deferred to SetSerial otherwise.
//
// A source holding no types clears the selection and returns ErrNoData.
func (d *Device[S, O]) SetSelection(src *Source[S]) error {
	if !d.valid() || src.Destroyed() {
		return ErrInvalidHandle
	}

	labels := src.Types()
	if len(labels) == 0 {
		if err := d.ClearSelection(); err != nil {
			return err
		}
		return ErrNoData
	}
	for _, label := range labels {
		src.handle.Offer(label)
		for _, alias := range mimestore.Aliases(label) {
			src.handle.Offer(alias)
		}
	}

	if d.serial != 0 {
		d.handle.SetSelection(src.handle, d.serial)
	} else {
		slog.Debug("selection pending until next input serial", "types", len(labels))
	}

	if prev := d.active; prev != nil && prev != src {
		prev.Destroy()
	}
	d.active = src
	src.owner = d
	return nil
}

// ClearSelection withdraws the active source, if any, and destroys it.
func (d *Device[S, O]) ClearSelection() error {
	if !d.valid() {
		return ErrInvalidHandle
	}
	if src := d.active; src != nil {
		var none S
		d.handle.SetSelection(none, 0)
		src.Destroy()
		d.active = nil
	}
	return nil
}

// SetSerial records the serial of the latest input event. If a source was
// waiting for its first serial it is announced now. The announcement carries
// the serial held before this call, matching the order in which the claim
// was first requested.
func (d *Device[S, O]) SetSerial(serial uint32) error {
	if !d.valid() {
		return ErrInvalidHandle
	}
	if d.serial == 0 && serial != 0 && d.active != nil {
		d.handle.SetSelection(d.active.handle, d.serial)
		slog.Debug("pending selection announced", "announced_serial", d.serial, "serial", serial)
	}
	d.serial = serial
	return nil
}

// SetOffer replaces the offer currently advertised on the channel. The
// previous offer is destroyed. A nil offer means the channel has no owner.
func (d *Device[S, O]) SetOffer(o *Offer[O]) {
	if !d.valid() {
		if o != nil {
			o.Destroy()
		}
		return
	}
	if d.offer != nil && d.offer != o {
		d.offer.Destroy()
	}
	d.offer = o
}

// Offer returns the offer currently advertised on the channel, or nil.
func (d *Device[S, O]) Offer() *Offer[O] {
	if !d.valid() {
		return nil
	}
	return d.offer
}

// Close destroys the active source and the current offer. The device is
// unusable afterwards.
func (d *Device[S, O]) Close() {
	if !d.valid() {
		return
	}
	if d.active != nil {
		d.active.Destroy()
	}
	d.SetOffer(nil)
	d.handle = nil
}

func (d *Device[S, O]) detach(src *Source[S]) {
	if d.active == src {
		d.active = nil
	}
}
