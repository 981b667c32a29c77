package mimestore

// TextPlainUTF8 is the label text payloads are stored under.
const TextPlainUTF8 = "text/plain;charset=utf-8"

// legacyText lists the labels older clients use for plain text. All of them
// resolve to TextPlainUTF8.
var legacyText = [...]string{
	"text/plain",
	"TEXT",
	"UTF8_STRING",
	"STRING",
}

// Canonical maps a legacy text label to TextPlainUTF8 and returns every other
// label unchanged.
func Canonical(label string) string {
	for _, l := range legacyText {
		if l == label {
			return TextPlainUTF8
		}
	}
	return label
}

// Aliases returns the legacy labels that resolve to label, or nil if none do.
// The result must be advertised alongside label for compatibility.
func Aliases(label string) []string {
	if label != TextPlainUTF8 {
		return nil
	}
	out := make([]string, len(legacyText))
	copy(out, legacyText[:])
	return out
}

// IsText reports whether label is the canonical text label or one of its
// legacy aliases.
func IsText(label string) bool {
	return Canonical(label) == TextPlainUTF8
}
