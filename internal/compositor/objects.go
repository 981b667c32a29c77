package compositor

import (
	"slices"

	"go.klb.dev/wlsel/internal/selection"
)

// sourceObj is the compositor side of a data source. The clipboard and the
// primary selection each wrap it in their own handle type so a source made
// for one channel cannot be installed on the other.
type sourceObj struct {
	id        string
	kind      Kind
	client    *Client
	types     []string
	destroyed bool
}

func (s *sourceObj) Offer(mimeType string) {
	if !slices.Contains(s.types, mimeType) {
		s.types = append(s.types, mimeType)
	}
}

func (s *sourceObj) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.client.comp.sourceDestroyed(s)
}

// offerObj is the compositor side of a data offer made to client for the
// selection held by source.
type offerObj struct {
	id     string
	kind   Kind
	client *Client
	source *sourceObj
}

func (o *offerObj) Receive(mimeType string, fd int) error {
	return o.client.comp.receive(o.kind, o.source, mimeType, fd)
}

func (o *offerObj) Destroy() {}

// sourceHandle is a channel-specific source handle that exposes its
// compositor object.
type sourceHandle interface {
	selection.SourceHandle
	base() *sourceObj
}

type clipboardSource struct{ *sourceObj }

func (s *clipboardSource) base() *sourceObj {
	if s == nil {
		return nil
	}
	return s.sourceObj
}

type primarySource struct{ *sourceObj }

func (s *primarySource) base() *sourceObj {
	if s == nil {
		return nil
	}
	return s.sourceObj
}

type clipboardOffer struct{ *offerObj }

type primaryOffer struct{ *offerObj }

type clipboardDevice struct{ cl *Client }

func (d clipboardDevice) SetSelection(src *clipboardSource, serial uint32) {
	d.cl.comp.setSelection(Clipboard, d.cl, src.base(), serial)
}

type primaryDevice struct{ cl *Client }

func (d primaryDevice) SetSelection(src *primarySource, serial uint32) {
	d.cl.comp.setSelection(Primary, d.cl, src.base(), serial)
}
