package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFramePlain(t *testing.T) {
	f, err := ParseFrame("LOGIN alice password123 0 0.0.0.0 SpringLobbyv0.1")
	require.NoError(t, err)
	require.False(t, f.HasID)
	require.Equal(t, "LOGIN", f.Command)
	require.Equal(t, []string{"alice", "password123", "0", "0.0.0.0", "SpringLobbyv0.1"}, f.Args)
}

func TestParseFrameWithReplyID(t *testing.T) {
	f, err := ParseFrame("#42 SAY #general hello there friend")
	require.NoError(t, err)
	require.True(t, f.HasID)
	require.Equal(t, int64(42), f.ID)
	require.Equal(t, "SAY", f.Command)
	require.Equal(t, []string{"#general", "hello", "there", "friend"}, f.Args, "every argument is split on single spaces; a handler reconstitutes free text via restFrom")
}

func TestParseFrameNoArgs(t *testing.T) {
	f, err := ParseFrame("PING")
	require.NoError(t, err)
	require.Equal(t, "PING", f.Command)
	require.Nil(t, f.Args)
}

func TestParseFrameRejectsEmptyLine(t *testing.T) {
	_, err := ParseFrame("")
	require.Error(t, err)
}

func TestParseFrameRejectsMalformedID(t *testing.T) {
	_, err := ParseFrame("#notanumber SAY hi")
	require.Error(t, err)
}

func TestSplitTabs(t *testing.T) {
	require.Equal(t, []string{"alice", "hunter2", "0"}, SplitTabs("alice\thunter2\t0"))
}

func TestRestFromRejoinsTrailingWords(t *testing.T) {
	f, err := ParseFrame("SAY #general hello there friend")
	require.NoError(t, err)
	require.Equal(t, "hello there friend", restFrom(f.Args, 1))
	require.Equal(t, "", restFrom(f.Args, 9))
}

func TestEncodeLineWithAndWithoutReplyID(t *testing.T) {
	id := int64(7)
	require.Equal(t, "#7 OK\n", EncodeLine(&id, "OK"))
	require.Equal(t, "SAID #general alice hello\n", EncodeLine(nil, "SAID", "#general", "alice", "hello"))
}
