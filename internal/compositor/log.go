package compositor

import (
	"context"
	"log/slog"

	"go.klb.dev/wlsel/internal/mimestore"
)

// logItems logs a selection event at INFO (client, kind, mime types) and
// DEBUG (text preview up to 120 chars, or byte size for binary items).
func logItems(event, client string, kind Kind, items []Item) {
	mimes := make([]string, len(items))
	for i, it := range items {
		mimes[i] = it.Mime
	}
	slog.Info(event, "client", client, "kind", kind, "types", mimes)

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for _, it := range items {
		if mimestore.IsText(it.Mime) {
			preview := []rune(string(it.Data))
			if len(preview) > 120 {
				preview = append(preview[:120], '…')
			}
			slog.Debug("selection item", "mime", it.Mime, "preview", string(preview))
		} else {
			slog.Debug("selection item", "mime", it.Mime, "size_bytes", len(it.Data))
		}
	}
}
