package lobby

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.validate())
	require.Equal(t, 256, c.Limits.SendBufferFlushKiB, `"256K" should parse to 256 KiB`)
}

func TestConfigRejectsBadSendBufferFlood(t *testing.T) {
	c := DefaultConfig()
	c.Limits.SendBufferFlood = "not-a-size"
	require.Error(t, c.validate())
}

func TestConfigRejectsBadPort(t *testing.T) {
	c := DefaultConfig()
	c.Server.Port = 70000
	require.Error(t, c.validate())
}

func TestApplyFlagsOverridesOnlySetFields(t *testing.T) {
	c := DefaultConfig()
	originalNATPort := c.Server.NATPort

	c.ApplyFlags(CLIFlags{Port: 9000, NoCensor: true})

	require.Equal(t, 9000, c.Server.Port)
	require.True(t, c.Server.NoCensor)
	require.Equal(t, originalNATPort, c.Server.NATPort, "unset flags must not clobber existing config")
}
