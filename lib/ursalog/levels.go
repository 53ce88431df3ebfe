package ursalog

import (
	"os"

	logging "github.com/ipfs/go-log/v2"
)

// SetupLogLevels quiets the chattier libp2p subsystems unless GOLOG_LOG_LEVEL
// is set explicitly.
func SetupLogLevels() {
	if _, set := os.LookupEnv("GOLOG_LOG_LEVEL"); !set {
		_ = logging.SetLogLevel("*", "INFO")
		_ = logging.SetLogLevel("dht", "ERROR")
		_ = logging.SetLogLevel("swarm2", "WARN")
		_ = logging.SetLogLevel("pubsub", "WARN")
		_ = logging.SetLogLevel("connmgr", "WARN")
		_ = logging.SetLogLevel("autorelay", "WARN")
		_ = logging.SetLogLevel("nat", "WARN")
	}
}

// SetSubsystemLevels applies per-subsystem overrides from the config.
func SetSubsystemLevels(levels map[string]string) error {
	for sys, lvl := range levels {
		if err := logging.SetLogLevel(sys, lvl); err != nil {
			return err
		}
	}
	return nil
}
