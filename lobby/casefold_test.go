package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCasefoldLowercases(t *testing.T) {
	require.Equal(t, "alice", casefold("Alice"))
	require.Equal(t, "#general", casefold("#General"))
}

func TestCasefoldNormalizesUnicodeForm(t *testing.T) {
	// NFC (precomposed U+00E9) vs NFD ('e' followed by the combining
	// acute accent U+0301) must casefold to the same key.
	nfc := "café"
	nfd := "café"
	require.NotEqual(t, nfc, nfd, "sanity check: the two byte forms differ before casefolding")
	require.Equal(t, casefold(nfc), casefold(nfd))
}
