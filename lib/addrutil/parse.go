// Package addrutil turns configured peer address strings into dialable
// AddrInfos, resolving /dnsaddr entries on the way.
package addrutil

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
	"golang.org/x/xerrors"
)

const dnsResolveTimeout = 10 * time.Second

// ParseAddresses takes a slice of string peer addresses (multiaddr + peer
// id) and returns them grouped per peer.
func ParseAddresses(ctx context.Context, addrs []string) ([]peer.AddrInfo, error) {
	maddrs, err := resolveAddresses(ctx, addrs)
	if err != nil {
		return nil, err
	}

	return peer.AddrInfosFromP2pAddrs(maddrs...)
}

func hasPeerID(maddr ma.Multiaddr) bool {
	_, last := ma.SplitLast(maddr)
	return last != nil && last.Protocol().Code == ma.P_P2P
}

// resolveAddresses resolves addresses in parallel
func resolveAddresses(ctx context.Context, addrs []string) ([]ma.Multiaddr, error) {
	ctx, cancel := context.WithTimeout(ctx, dnsResolveTimeout)
	defer cancel()

	var maddrs []ma.Multiaddr
	var wg sync.WaitGroup
	resolveErrC := make(chan error, len(addrs))

	maddrC := make(chan ma.Multiaddr)

	for _, addr := range addrs {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, xerrors.Errorf("parsing %q: %w", addr, err)
		}

		if hasPeerID(maddr) {
			maddrs = append(maddrs, maddr)
			continue
		}
		wg.Add(1)
		go func(maddr ma.Multiaddr) {
			defer wg.Done()
			raddrs, err := madns.Resolve(ctx, maddr)
			if err != nil {
				resolveErrC <- err
				return
			}
			// drop addresses that still don't name a peer
			found := 0
			for _, raddr := range raddrs {
				if hasPeerID(raddr) {
					maddrC <- raddr
					found++
				}
			}
			if found == 0 {
				resolveErrC <- xerrors.Errorf("found no peers at %s", maddr)
			}
		}(maddr)
	}
	go func() {
		wg.Wait()
		close(maddrC)
	}()

	for maddr := range maddrC {
		maddrs = append(maddrs, maddr)
	}

	select {
	case err := <-resolveErrC:
		return nil, err
	default:
	}

	return maddrs, nil
}
