package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigRoundTrip(t *testing.T) {
	c := DefaultRoot()

	var s strings.Builder
	require.NoError(t, toml.NewEncoder(&s).Encode(c))

	c2, err := FromReader(strings.NewReader(s.String()), DefaultRoot())
	require.NoError(t, err)
	require.Equal(t, c, c2)
}

func TestCommentedDefaultsLoadAsDefaults(t *testing.T) {
	cb, err := ConfigComment(DefaultRoot())
	require.NoError(t, err)

	for _, line := range strings.Split(string(cb), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			require.True(t, strings.HasPrefix(trimmed, "#"), "line not commented: %q", line)
		}
	}

	c, err := FromReader(bytes.NewReader(cb), DefaultRoot())
	require.NoError(t, err)
	require.Equal(t, DefaultRoot(), c)
}

func TestPartialConfig(t *testing.T) {
	cfg := `
[Exchange]
  WantTimeout = "2s"
  MaxConcurrentAsks = 5

[Logging.SubsystemLevels]
  exchange = "debug"
`
	c, err := FromReader(strings.NewReader(cfg), DefaultRoot())
	require.NoError(t, err)

	require.Equal(t, Duration(2*time.Second), c.Exchange.WantTimeout)
	require.Equal(t, 5, c.Exchange.MaxConcurrentAsks)
	require.Equal(t, 3, c.Exchange.MaxRetries)
	require.Equal(t, "debug", c.Logging.SubsystemLevels["exchange"])

	// the defaults passed in are not modified
	require.Empty(t, DefaultRoot().Logging.SubsystemLevels)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("URSA_EXCHANGE_WANTTIMEOUT", "3s")
	t.Setenv("URSA_LIBP2P_BOOTSTRAPPEERS", "/dns4/a.example/tcp/6009/p2p/x,/dns4/b.example/tcp/6009/p2p/y")
	t.Setenv("URSA_ROUTING_ENABLEDHT", "false")

	c, err := FromReader(strings.NewReader(""), DefaultRoot())
	require.NoError(t, err)
	require.Equal(t, Duration(3*time.Second), c.Exchange.WantTimeout)
	require.Len(t, c.Libp2p.BootstrapPeers, 2)
	require.False(t, c.Routing.EnableDHT)
}

func TestBadDuration(t *testing.T) {
	_, err := FromReader(strings.NewReader("[Exchange]\nWantTimeout = \"soon\"\n"), DefaultRoot())
	require.Error(t, err)
}

func TestFromFileMissing(t *testing.T) {
	c, err := FromFile(filepath.Join(t.TempDir(), "nope.toml"), DefaultRoot())
	require.NoError(t, err)
	require.Equal(t, DefaultRoot(), c)
}

func TestFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte("[Filter]\nCapacity = 42\n"), 0644))

	c, err := FromFile(p, DefaultRoot())
	require.NoError(t, err)
	require.EqualValues(t, 42, c.Filter.Capacity)
}
