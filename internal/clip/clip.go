// Package clip reads and writes the host's system clipboard. Build
// constraints select the implementation:
//
//	clip_darwin.go   macOS via golang.design/x/clipboard + cgo changeCount
//	clip_linux.go    Linux via golang.design/x/clipboard, polling only
//	clip_other.go    headless stub
package clip

import (
	"go.klb.dev/wlsel/internal/compositor"
	"go.klb.dev/wlsel/internal/mimestore"
)

// Item is one typed clipboard representation.
type Item = compositor.Item

// ImagePNG is the only image type the host clipboard exchanges.
const ImagePNG = "image/png"

// Backend is the interface that all platform clipboard implementations satisfy.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// Read returns the current clipboard contents as a slice of typed items.
	// Text is reported as mimestore.TextPlainUTF8. Returns nil, nil if the
	// clipboard is empty or contains only unsupported types.
	Read() ([]Item, error)

	// Write sets the clipboard contents to the provided items. Items whose
	// type the backend cannot store are skipped.
	Write(items []Item) error

	// Watch returns a channel that receives a signal whenever the clipboard
	// changes. The channel is never closed. On platforms without native change
	// notification this is implemented via polling.
	Watch() <-chan struct{}

	// Close releases any resources held by the backend.
	Close()
}

// Supports reports whether a backend can store data of type mime.
func Supports(mime string) bool {
	return mimestore.IsText(mime) || mime == ImagePNG
}
