package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.klb.dev/wlsel/internal/mimestore"
	"go.klb.dev/wlsel/internal/pipe"
	"go.klb.dev/wlsel/internal/selection"
)

// DeviceState describes one of a client's selection devices.
type DeviceState struct {
	Kind   Kind
	State  selection.State
	Serial uint32
	// Source lists the types of the client's own source, if any.
	Source []string
	// Offer lists the types currently offered to the client, if any.
	Offer []string
}

// ClientState is a snapshot of a client taken on its event loop.
type ClientState struct {
	ClientInfo
	Devices []DeviceState
}

// Client is one connected application. It owns a clipboard device and a
// primary selection device; both are only touched from the client's event
// loop goroutine, which runs the functions passed to Do one at a time.
type Client struct {
	id          string
	name        string
	comp        *Compositor
	connectedAt time.Time

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	clipboard *selection.Device[*clipboardSource, *clipboardOffer]
	primary   *selection.Device[*primarySource, *primaryOffer]
}

func newClient(c *Compositor, name string) *Client {
	cl := &Client{
		id:          uuid.NewString(),
		name:        name,
		comp:        c,
		connectedAt: time.Now(),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	cl.clipboard = selection.NewDevice[*clipboardSource, *clipboardOffer](clipboardDevice{cl})
	cl.primary = selection.NewDevice[*primarySource, *primaryOffer](primaryDevice{cl})
	go cl.loop()
	return cl
}

// ID returns the client's unique identifier.
func (cl *Client) ID() string { return cl.id }

// Name returns the name the client connected with.
func (cl *Client) Name() string { return cl.name }

// Info returns the client's static metadata.
func (cl *Client) Info() ClientInfo {
	return ClientInfo{ID: cl.id, Name: cl.name, ConnectedAt: cl.connectedAt}
}

// post queues fn on the event loop. It never blocks and reports false once
// the client is closed.
func (cl *Client) post(fn func()) bool {
	cl.mu.Lock()
	if cl.closed {
		cl.mu.Unlock()
		return false
	}
	cl.queue = append(cl.queue, fn)
	cl.mu.Unlock()

	select {
	case cl.wake <- struct{}{}:
	default:
	}
	return true
}

func (cl *Client) loop() {
	defer close(cl.done)
	for range cl.wake {
		for {
			cl.mu.Lock()
			if len(cl.queue) == 0 {
				closed := cl.closed
				cl.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := cl.queue[0]
			cl.queue[0] = nil
			cl.queue = cl.queue[1:]
			cl.mu.Unlock()

			fn()
		}
	}
}

// Do runs fn on the event loop and waits for it. It returns ErrClosed if the
// client is closed, or ctx.Err() if ctx ends first; fn still runs in the
// latter case.
func (cl *Client) Do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	if !cl.post(func() { errc <- fn() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call runs fn on the event loop like Do and returns its value. The value
// travels over a channel, so a caller that gave up on ctx never shares
// memory with fn.
func call[T any](ctx context.Context, cl *Client, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resc := make(chan result, 1)
	var zero T
	if !cl.post(func() {
		v, err := fn()
		resc <- result{v, err}
	}) {
		return zero, ErrClosed
	}
	select {
	case r := <-resc:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Flush implements selection.Flusher. Requests reach the compositor
// synchronously, so there is nothing to push.
func (cl *Client) Flush() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the client's selections and stops its event loop.
func (cl *Client) Close() {
	cl.post(func() {
		cl.comp.disconnect(cl)
		cl.clipboard.Close()
		cl.primary.Close()

		cl.mu.Lock()
		cl.closed = true
		cl.mu.Unlock()
	})
	<-cl.done
}

// Input records an input event and returns its serial. A selection set
// before the client's first input event is announced now.
func (cl *Client) Input(ctx context.Context) (uint32, error) {
	serial := cl.comp.nextSerial()
	err := cl.Do(ctx, func() error {
		if err := cl.clipboard.SetSerial(serial); err != nil {
			return err
		}
		return cl.primary.SetSerial(serial)
	})
	return serial, err
}

// Copy makes items the client's selection on kind, replacing its previous
// one. Items without data are skipped; if none remain the selection is
// cleared and selection.ErrNoData returned.
func (cl *Client) Copy(ctx context.Context, kind Kind, items []Item) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	err := cl.Do(ctx, func() error {
		obj := &sourceObj{id: uuid.NewString(), kind: kind, client: cl}
		switch kind {
		case Primary:
			return install(cl.primary, &primarySource{obj}, items, cl.comp.transport)
		default:
			return install(cl.clipboard, &clipboardSource{obj}, items, cl.comp.transport)
		}
	})
	if err == nil {
		logItems("selection copied", cl.name, kind, items)
	}
	return err
}

func install[S sourceHandle, O selection.OfferHandle](d *selection.Device[S, O], h S, items []Item, t pipe.Transport) error {
	src := selection.NewSource(h, selection.WithTransport(t))
	for _, it := range items {
		if len(it.Data) == 0 {
			continue
		}
		if err := src.AddData(it.Mime, it.Data); err != nil {
			src.Destroy()
			return err
		}
	}
	if err := d.SetSelection(src); err != nil {
		src.Destroy()
		return err
	}
	return nil
}

// Paste reads the selection on kind as mimeType. An empty mimeType picks the
// text type when one is offered and the first offered type otherwise. A
// client reading its own selection gets its data without a pipe round trip.
func (cl *Client) Paste(ctx context.Context, kind Kind, mimeType string) (Item, error) {
	if !kind.valid() {
		return Item{}, fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	return call(ctx, cl, func() (Item, error) {
		if kind == Primary {
			return paste(cl.primary, mimeType)
		}
		return paste(cl.clipboard, mimeType)
	})
}

func paste[S sourceHandle, O selection.OfferHandle](d *selection.Device[S, O], mimeType string) (Item, error) {
	if src := d.Source(); src != nil {
		if mimeType == "" {
			mimeType = preferred(src.Types())
		}
		if !src.HasType(mimeType) {
			return Item{}, fmt.Errorf("%w: %s", selection.ErrUnknownType, mimeType)
		}
		data, err := src.Data(mimeType, false)
		return Item{Mime: mimeType, Data: data}, err
	}

	offer := d.Offer()
	if offer == nil {
		return Item{}, ErrEmpty
	}
	if mimeType == "" {
		mimeType = preferred(offer.Types())
	}
	data, err := offer.Receive(mimeType, false)
	return Item{Mime: mimeType, Data: data}, err
}

// preferred returns the canonical text type if any text type is present,
// otherwise the first type.
func preferred(types []string) string {
	for _, t := range types {
		if mimestore.IsText(t) {
			return mimestore.TextPlainUTF8
		}
	}
	if len(types) == 0 {
		return ""
	}
	return types[0]
}

// Clear withdraws the client's selection on kind, if it has one.
func (cl *Client) Clear(ctx context.Context, kind Kind) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}
	return cl.Do(ctx, func() error {
		if kind == Primary {
			return cl.primary.ClearSelection()
		}
		return cl.clipboard.ClearSelection()
	})
}

// State snapshots both devices.
func (cl *Client) State(ctx context.Context) (ClientState, error) {
	devices, err := call(ctx, cl, func() ([]DeviceState, error) {
		return []DeviceState{
			deviceState(Clipboard, cl.clipboard),
			deviceState(Primary, cl.primary),
		}, nil
	})
	return ClientState{ClientInfo: cl.Info(), Devices: devices}, err
}

func deviceState[S sourceHandle, O selection.OfferHandle](kind Kind, d *selection.Device[S, O]) DeviceState {
	return DeviceState{
		Kind:   kind,
		State:  d.State(),
		Serial: d.Serial(),
		Source: d.Source().Types(),
		Offer:  d.Offer().Types(),
	}
}

// offerSelection replaces the offer on kind with one for src. Runs on the
// loop.
func (cl *Client) offerSelection(kind Kind, src *sourceObj, types []string) {
	switch kind {
	case Primary:
		present(cl, cl.primary, src, types, func(o *offerObj) *primaryOffer { return &primaryOffer{o} })
	default:
		present(cl, cl.clipboard, src, types, func(o *offerObj) *clipboardOffer { return &clipboardOffer{o} })
	}
}

func present[S sourceHandle, O selection.OfferHandle](cl *Client, d *selection.Device[S, O], src *sourceObj, types []string, wrap func(*offerObj) O) {
	if src == nil {
		d.SetOffer(nil)
		return
	}
	h := wrap(&offerObj{id: uuid.NewString(), kind: src.kind, client: cl, source: src})
	o := selection.NewOffer(h, cl, selection.WithTransport(cl.comp.transport))
	for _, t := range types {
		_ = o.AddType(t)
	}
	d.SetOffer(o)
}

// cancelled destroys the client's source on kind if it is still obj. Runs
// on the loop.
func (cl *Client) cancelled(kind Kind, obj *sourceObj) {
	switch kind {
	case Primary:
		cancel(cl.primary, obj)
	default:
		cancel(cl.clipboard, obj)
	}
}

func cancel[S sourceHandle, O selection.OfferHandle](d *selection.Device[S, O], obj *sourceObj) {
	if src := d.Source(); src != nil && src.Handle().base() == obj {
		slog.Debug("selection source cancelled", "kind", obj.kind, "source", obj.id)
		src.Destroy()
	}
}

// send writes the payload for mimeType from obj into fd. Runs on the loop.
func (cl *Client) send(kind Kind, obj *sourceObj, mimeType string, fd int) {
	var (
		n   int
		err error
	)
	switch kind {
	case Primary:
		n, err = sendFrom(cl.primary, obj, mimeType, fd)
	default:
		n, err = sendFrom(cl.clipboard, obj, mimeType, fd)
	}
	if err != nil {
		slog.Warn("selection send failed",
			"client", cl.name,
			"kind", kind,
			"mime", mimeType,
			"bytes", n,
			"err", err,
		)
	}
}

func sendFrom[S sourceHandle, O selection.OfferHandle](d *selection.Device[S, O], obj *sourceObj, mimeType string, fd int) (int, error) {
	src := d.Source()
	if src == nil || src.Handle().base() != obj {
		pipe.Close(fd)
		return 0, nil
	}
	return src.Send(mimeType, fd)
}
