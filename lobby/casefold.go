package lobby

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// casefold normalizes a username or channel name to its canonical
// comparison form: NFC normalization followed by simple lowercasing.
// Every map keyed by username/channel name in this package uses this
// form as its key, so "Alice" and "alice" collide the way spec §3
// requires.
func casefold(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
