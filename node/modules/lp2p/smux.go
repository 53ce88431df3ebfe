package lp2p

import (
	"os"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"

	"github.com/ursa-network/ursa/node/config"
)

const yamuxID = "/yamux/1.0.0"

// yamuxTransport returns a copy of the default yamux transport tuned by cfg.
func yamuxTransport(cfg config.Libp2p) *yamux.Transport {
	tpt := *yamux.DefaultTransport
	if cfg.MuxerAcceptBacklog > 0 {
		tpt.AcceptBacklog = cfg.MuxerAcceptBacklog
	}
	if cfg.MuxerMaxStreamWindow > 0 {
		tpt.MaxStreamWindowSize = cfg.MuxerMaxStreamWindow
	}
	if os.Getenv("YAMUX_DEBUG") != "" {
		tpt.LogOutput = os.Stderr
	}
	return &tpt
}

// SmuxTransport makes yamux the only stream muxer.
func SmuxTransport(cfg config.Libp2p) func() (Libp2pOpts, error) {
	return func() (opts Libp2pOpts, err error) {
		opts.Opts = append(opts.Opts, libp2p.Muxer(yamuxID, yamuxTransport(cfg)))
		return opts, nil
	}
}
