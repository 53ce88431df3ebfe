package main

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ursa-network/ursa/node/config"
)

func TestUpdatedConfigCommentsDefaults(t *testing.T) {
	cfg := config.DefaultRoot()
	cfg.Exchange.WantTimeout = config.Duration(3 * time.Second)

	out, err := updatedConfig(cfg, true)
	require.NoError(t, err)

	var active []string
	for _, l := range strings.Split(out, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l[0] == '#' || l[0] == '[' {
			continue
		}
		active = append(active, l)
	}
	require.Equal(t, []string{`WantTimeout = "3s"`}, active)
}

func TestUpdatedConfigNoComment(t *testing.T) {
	out, err := updatedConfig(config.DefaultRoot(), false)
	require.NoError(t, err)
	require.Contains(t, out, "ListenAddresses")
	require.NotContains(t, out, "#")
}
