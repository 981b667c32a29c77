// Package localpeer bridges the host's system clipboard into the
// compositor's clipboard channel.
package localpeer

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"go.klb.dev/wlsel/internal/clip"
	"go.klb.dev/wlsel/internal/compositor"
	"go.klb.dev/wlsel/internal/mimestore"
)

// Peer is the compositor client that owns the host clipboard. Host changes
// become clipboard selections; selections made by other clients are written
// back to the host.
type Peer struct {
	comp    *compositor.Compositor
	backend clip.Backend
	source  string
	timeout time.Duration

	mu        sync.Mutex
	client    *compositor.Client
	lastItems []compositor.Item
}

// New creates the local peer but does not start it. timeout bounds each
// transfer to or from the compositor; zero means no bound.
func New(comp *compositor.Compositor, backend clip.Backend, source string, timeout time.Duration) *Peer {
	return &Peer{
		comp:    comp,
		backend: backend,
		source:  source,
		timeout: timeout,
	}
}

// Run connects to the compositor and mirrors the clipboard until ctx is
// done. The peer's selection is released on return.
func (p *Peer) Run(ctx context.Context) error {
	events, stop := p.comp.Subscribe(16)
	defer stop()

	cl := p.comp.Connect(p.source)
	defer cl.Close()
	p.mu.Lock()
	p.client = cl
	p.mu.Unlock()

	slog.Info("local clipboard peer started", "backend", p.backend.Name(), "source", p.source)

	// Publish whatever the host holds at startup.
	p.publish(ctx, cl)

	watch := p.backend.Watch()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-watch:
			p.publish(ctx, cl)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != compositor.Clipboard || ev.OwnerID == "" || ev.OwnerID == cl.ID() {
				continue
			}
			p.apply(ctx, cl, ev)
		}
	}
}

// ID returns the compositor client ID of a running peer, or "" before Run.
func (p *Peer) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return ""
	}
	return p.client.ID()
}

// publish claims the clipboard channel with the host's current contents.
func (p *Peer) publish(ctx context.Context, cl *compositor.Client) {
	items, err := p.backend.Read()
	if err != nil {
		slog.Error("local clipboard read failed", "err", err)
		return
	}
	if len(items) == 0 || !p.remember(items) {
		return
	}

	ctx, cancel := p.bound(ctx)
	defer cancel()
	if _, err := cl.Input(ctx); err != nil {
		slog.Warn("local clipboard publish failed", "err", err)
		return
	}
	if err := cl.Copy(ctx, compositor.Clipboard, items); err != nil {
		slog.Warn("local clipboard publish failed", "err", err)
		return
	}
	slog.Debug("local clipboard changed, publishing", "items", len(items))
}

// apply fetches the types the host can store from the new selection and
// writes them to the host clipboard.
func (p *Peer) apply(ctx context.Context, cl *compositor.Client, ev compositor.Event) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	var items []compositor.Item
	for _, mime := range wanted(ev.Types) {
		it, err := cl.Paste(ctx, compositor.Clipboard, mime)
		if err != nil {
			slog.Warn("local clipboard fetch failed", "owner", ev.Owner, "mime", mime, "err", err)
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 || !p.remember(items) {
		return
	}

	if err := p.backend.Write(items); err != nil {
		slog.Error("local clipboard write failed", "err", err)
		return
	}
	slog.Debug("local clipboard updated", "owner", ev.Owner, "items", len(items))
}

// remember records items as the last contents seen on either side and
// reports whether they differ from the previous ones.
func (p *Peer) remember(items []compositor.Item) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if reflect.DeepEqual(items, p.lastItems) {
		return false
	}
	p.lastItems = items
	return true
}

func (p *Peer) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

// wanted picks at most one text and one image type out of an offer, in the
// order the host backend reads them.
func wanted(types []string) []string {
	var text, img bool
	for _, t := range types {
		switch {
		case mimestore.IsText(t):
			text = true
		case t == clip.ImagePNG:
			img = true
		}
	}
	var out []string
	if text {
		out = append(out, mimestore.TextPlainUTF8)
	}
	if img {
		out = append(out, clip.ImagePNG)
	}
	return out
}
