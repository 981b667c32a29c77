// Package compositor implements an in-process selection arbiter.
//
// It plays the role a display server plays for real applications: clients
// connect, receive input serials, claim the clipboard or primary selection
// with a selection.Source, and read other clients' selections through
// selection.Offer objects. Payloads never pass through the compositor; a
// receive request only hands the reader's pipe to the owning client, which
// writes into it from its own event loop.
package compositor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"go.klb.dev/wlsel/internal/pipe"
)

var (
	ErrUnknownKind = errors.New("compositor: unknown selection kind")
	ErrClosed      = errors.New("compositor: client closed")
	ErrEmpty       = errors.New("compositor: selection is empty")
)

// Kind names a selection channel.
type Kind int

const (
	Clipboard Kind = iota
	Primary

	numKinds = 2
)

// Kinds lists every selection channel.
var Kinds = [numKinds]Kind{Clipboard, Primary}

func (k Kind) String() string {
	switch k {
	case Clipboard:
		return "clipboard"
	case Primary:
		return "primary"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) valid() bool { return k >= 0 && k < numKinds }

// ParseKind converts a channel name to a Kind. The empty string means
// Clipboard.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clipboard", "default":
		return Clipboard, nil
	case "primary":
		return Primary, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Item is one typed payload.
type Item struct {
	Mime string
	Data []byte
}

// Event reports a change of ownership on a channel. Owner is empty when the
// channel was cleared.
type Event struct {
	Kind    Kind
	Owner   string
	OwnerID string
	Types   []string
	Serial  uint32
	At      time.Time
}

// ChannelInfo describes the current owner of a channel.
type ChannelInfo struct {
	Kind    Kind
	Owner   string
	OwnerID string
	Source  string
	Types   []string
	Serial  uint32
	Since   time.Time
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID          string
	Name        string
	ConnectedAt time.Time
}

type channel struct {
	owner  *Client
	source *sourceObj
	types  []string
	serial uint32
	since  time.Time
}

// Compositor arbitrates selection ownership between connected clients.
type Compositor struct {
	transport pipe.Transport
	serial    atomic.Uint32

	mu          sync.Mutex
	clients     map[string]*Client
	channels    [numKinds]channel
	watchers    map[int]chan Event
	nextWatcher int
}

// New returns a Compositor whose clients move payloads with t.
func New(t pipe.Transport) *Compositor {
	return &Compositor{
		transport: t,
		clients:   make(map[string]*Client),
		watchers:  make(map[int]chan Event),
	}
}

// Connect registers a new client and starts its event loop. The client is
// immediately offered whatever the channels currently hold.
func (c *Compositor) Connect(name string) *Client {
	cl := newClient(c, name)

	c.mu.Lock()
	c.clients[cl.id] = cl
	total := len(c.clients)
	for _, k := range Kinds {
		ch := c.channels[k]
		if ch.source != nil {
			cl.post(func() { cl.offerSelection(k, ch.source, ch.types) })
		}
	}
	c.mu.Unlock()

	slog.Info("client connected", "client", name, "id", cl.id, "total", total)
	return cl
}

func (c *Compositor) disconnect(cl *Client) {
	c.mu.Lock()
	delete(c.clients, cl.id)
	total := len(c.clients)
	c.mu.Unlock()

	slog.Info("client disconnected", "client", cl.name, "id", cl.id, "total", total)
}

// nextSerial hands out the serial for a new input event. Serials start at 1
// so that 0 can mean "none seen".
func (c *Compositor) nextSerial() uint32 {
	for {
		if s := c.serial.Add(1); s != 0 {
			return s
		}
	}
}

// Serial returns the most recently issued input serial.
func (c *Compositor) Serial() uint32 { return c.serial.Load() }

// Subscribe returns a channel of ownership changes and a function that ends
// the subscription. Events are dropped when the channel is full.
func (c *Compositor) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)

	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

// Snapshot returns the state of every channel, indexed by Kind.
func (c *Compositor) Snapshot() []ChannelInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ChannelInfo, 0, numKinds)
	for _, k := range Kinds {
		ch := c.channels[k]
		info := ChannelInfo{Kind: k, Types: slices.Clone(ch.types), Serial: ch.serial, Since: ch.since}
		if ch.owner != nil {
			info.Owner = ch.owner.name
			info.OwnerID = ch.owner.id
			info.Source = ch.source.id
		}
		out = append(out, info)
	}
	return out
}

// Clients returns the connected clients ordered by connection time.
func (c *Compositor) Clients() []ClientInfo {
	c.mu.Lock()
	out := make([]ClientInfo, 0, len(c.clients))
	for _, cl := range c.clients {
		out = append(out, cl.Info())
	}
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b ClientInfo) int { return a.ConnectedAt.Compare(b.ConnectedAt) })
	return out
}

// setSelection installs src as the owner of kind, or clears kind when src
// is nil. Only the current owner can clear a channel. The previous owner is
// told its source was cancelled.
func (c *Compositor) setSelection(kind Kind, cl *Client, src *sourceObj, serial uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := &c.channels[kind]
	prev := *ch
	if src == nil {
		if ch.owner != cl {
			return
		}
		*ch = channel{}
		slog.Info("selection cleared", "kind", kind, "client", cl.name)
	} else {
		*ch = channel{
			owner:  cl,
			source: src,
			types:  slices.Clone(src.types),
			serial: serial,
			since:  time.Now(),
		}
		slog.Info("selection set",
			"kind", kind,
			"client", cl.name,
			"source", src.id,
			"types", ch.types,
			"serial", serial,
		)
	}

	if prev.source != nil && prev.source != src {
		owner, old := prev.owner, prev.source
		owner.post(func() { owner.cancelled(kind, old) })
	}
	c.publishLocked(kind)
}

// Clear withdraws the selection on kind whoever owns it. The owner is told
// its source was cancelled.
func (c *Compositor) Clear(kind Kind) error {
	if !kind.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(kind))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := &c.channels[kind]
	if ch.source == nil {
		return nil
	}
	owner, old := ch.owner, ch.source
	*ch = channel{}
	slog.Info("selection revoked", "kind", kind, "client", owner.name, "source", old.id)

	owner.post(func() { owner.cancelled(kind, old) })
	c.publishLocked(kind)
	return nil
}

// sourceDestroyed clears kind if s still owns it.
func (c *Compositor) sourceDestroyed(s *sourceObj) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := &c.channels[s.kind]
	if ch.source != s {
		return
	}
	*ch = channel{}
	slog.Info("selection released", "kind", s.kind, "client", s.client.name, "source", s.id)
	c.publishLocked(s.kind)
}

// publishLocked sends the current state of kind to every client and
// watcher. Posting under c.mu keeps every client's view in channel order.
// Must be called with c.mu held.
func (c *Compositor) publishLocked(kind Kind) {
	ch := c.channels[kind]
	for _, cl := range c.clients {
		cl.post(func() { cl.offerSelection(kind, ch.source, ch.types) })
	}

	ev := Event{Kind: kind, Types: ch.types, Serial: ch.serial, At: time.Now()}
	if ch.owner != nil {
		ev.Owner = ch.owner.name
		ev.OwnerID = ch.owner.id
	}
	for _, w := range c.watchers {
		select {
		case w <- ev:
		default:
			slog.Warn("watcher channel full, dropping", "kind", kind)
		}
	}
}

// receive hands a duplicate of fd to the client owning src, which writes the
// payload for mimeType into it on its own loop. A request for a source that
// no longer owns the channel fails with ErrEmpty.
func (c *Compositor) receive(kind Kind, src *sourceObj, mimeType string, fd int) error {
	c.mu.Lock()
	ch := c.channels[kind]
	c.mu.Unlock()

	if ch.source != src || ch.owner == nil {
		slog.Debug("receive for stale offer refused", "kind", kind, "mime", mimeType)
		return fmt.Errorf("%w: %s offer is stale", ErrEmpty, kind)
	}

	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("dup: %w", err)
	}
	owner := ch.owner
	if !owner.post(func() { owner.send(kind, src, mimeType, dup) }) {
		pipe.Close(dup)
	}
	return nil
}
