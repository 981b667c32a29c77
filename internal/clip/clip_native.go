//go:build darwin || linux

package clip

import (
	"log/slog"

	"golang.design/x/clipboard"

	"go.klb.dev/wlsel/internal/mimestore"
)

func readItems() []Item {
	var items []Item
	if text := clipboard.Read(clipboard.FmtText); text != nil {
		items = append(items, Item{Mime: mimestore.TextPlainUTF8, Data: text})
	}
	if img := clipboard.Read(clipboard.FmtImage); img != nil {
		items = append(items, Item{Mime: ImagePNG, Data: img})
	}
	return items
}

// writeItems stores the first text and the first image item. Every other
// item is skipped.
func writeItems(items []Item) {
	var text, img bool
	for _, it := range items {
		switch {
		case !text && mimestore.IsText(it.Mime):
			clipboard.Write(clipboard.FmtText, it.Data)
			text = true
		case !img && it.Mime == ImagePNG:
			clipboard.Write(clipboard.FmtImage, it.Data)
			img = true
		default:
			slog.Debug("clipboard: skipping item", "mime", it.Mime)
		}
	}
}
