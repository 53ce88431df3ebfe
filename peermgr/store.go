// Package peermgr keeps the node's record of known peers: addresses, open
// connections, supported protocols, liveness and a decaying reputation
// score used to rank fetch candidates.
package peermgr

import (
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"
)

var log = logging.Logger("peermgr")

type Config struct {
	// LivenessWindow is how long a peer without connections stays in the
	// active set after it was last seen.
	LivenessWindow time.Duration
	// AddressBookCapacity bounds the demoted peers kept for later redial.
	AddressBookCapacity int
	// ScoreHalfLife is the time for a score to decay halfway to zero.
	ScoreHalfLife time.Duration

	TimeoutPenalty       float64
	InvalidBlockPenalty  float64
	ProtocolErrorPenalty float64
	DeliveryReward       float64
}

func DefaultConfig() Config {
	return Config{
		LivenessWindow:       10 * time.Minute,
		AddressBookCapacity:  1024,
		ScoreHalfLife:        10 * time.Minute,
		TimeoutPenalty:       1,
		InvalidBlockPenalty:  10,
		ProtocolErrorPenalty: 5,
		DeliveryReward:       1,
	}
}

// PeerInfo is what the store knows about one peer.
type PeerInfo struct {
	ID        peer.ID
	Addrs     []ma.Multiaddr
	Protocols []protocol.ID
	Conns     map[ConnID]struct{}
	FirstSeen time.Time
	LastSeen  time.Time

	score    float64
	scoredAt time.Time
}

func (pi *PeerInfo) Connected() bool {
	return len(pi.Conns) > 0
}

// Store is owned by the swarm event loop and is not synchronized.
type Store struct {
	cfg Config
	clk clock.Clock

	active map[peer.ID]*PeerInfo
	book   *lru.Cache[peer.ID, *PeerInfo]
}

func New(cfg Config, clk clock.Clock) (*Store, error) {
	if cfg.AddressBookCapacity < 1 {
		return nil, xerrors.Errorf("address book capacity must be positive, got %d", cfg.AddressBookCapacity)
	}
	if cfg.ScoreHalfLife <= 0 {
		return nil, xerrors.Errorf("score half-life must be positive, got %s", cfg.ScoreHalfLife)
	}
	book, err := lru.New[peer.ID, *PeerInfo](cfg.AddressBookCapacity)
	if err != nil {
		return nil, xerrors.Errorf("creating address book: %w", err)
	}
	return &Store{
		cfg:    cfg,
		clk:    clk,
		active: make(map[peer.ID]*PeerInfo),
		book:   book,
	}, nil
}

// Observe records that p was seen just now, promoting it back from the
// address book if it had been demoted, and merges addrs into its address set.
func (s *Store) Observe(p peer.ID, addrs ...ma.Multiaddr) *PeerInfo {
	now := s.clk.Now()
	pi, ok := s.active[p]
	if !ok {
		if pi, ok = s.book.Peek(p); ok {
			s.book.Remove(p)
		} else {
			pi = &PeerInfo{ID: p, FirstSeen: now, scoredAt: now}
		}
		if pi.Conns == nil {
			pi.Conns = make(map[ConnID]struct{})
		}
		s.active[p] = pi
	}
	pi.LastSeen = now
	pi.Addrs = mergeAddrs(pi.Addrs, addrs)
	return pi
}

func mergeAddrs(have, add []ma.Multiaddr) []ma.Multiaddr {
next:
	for _, a := range add {
		for _, h := range have {
			if h.Equal(a) {
				continue next
			}
		}
		have = append(have, a)
	}
	return have
}

// Get returns the active record of p.
func (s *Store) Get(p peer.ID) (*PeerInfo, bool) {
	pi, ok := s.active[p]
	return pi, ok
}

// Addrs returns the known addresses of p, looking in the address book too.
func (s *Store) Addrs(p peer.ID) []ma.Multiaddr {
	if pi, ok := s.active[p]; ok {
		return pi.Addrs
	}
	if pi, ok := s.book.Peek(p); ok {
		return pi.Addrs
	}
	return nil
}

func (s *Store) SetProtocols(p peer.ID, protos []protocol.ID) {
	pi := s.Observe(p)
	pi.Protocols = append(pi.Protocols[:0], protos...)
}

// SupportsProtocol reports whether p was identified with proto.
func (s *Store) SupportsProtocol(p peer.ID, proto protocol.ID) bool {
	pi, ok := s.active[p]
	if !ok {
		return false
	}
	for _, pr := range pi.Protocols {
		if pr == proto {
			return true
		}
	}
	return false
}

func (s *Store) AddConn(p peer.ID, id ConnID, addr ma.Multiaddr) {
	var addrs []ma.Multiaddr
	if addr != nil {
		addrs = append(addrs, addr)
	}
	pi := s.Observe(p, addrs...)
	pi.Conns[id] = struct{}{}
}

// RemoveConn drops id and reports whether p has no connections left.
func (s *Store) RemoveConn(p peer.ID, id ConnID) bool {
	pi, ok := s.active[p]
	if !ok {
		return true
	}
	delete(pi.Conns, id)
	pi.LastSeen = s.clk.Now()
	return !pi.Connected()
}

// Connected lists peers with at least one open connection.
func (s *Store) Connected() []peer.ID {
	var out []peer.ID
	for p, pi := range s.active {
		if pi.Connected() {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) IsConnected(p peer.ID) bool {
	pi, ok := s.active[p]
	return ok && pi.Connected()
}

// Active lists every peer in the active set.
func (s *Store) Active() []peer.ID {
	out := make([]peer.ID, 0, len(s.active))
	for p := range s.active {
		out = append(out, p)
	}
	return out
}

// AddressBook lists demoted peers, oldest first.
func (s *Store) AddressBook() []peer.ID {
	return s.book.Keys()
}

func (s *Store) decayed(pi *PeerInfo, now time.Time) float64 {
	elapsed := now.Sub(pi.scoredAt)
	if elapsed <= 0 || pi.score == 0 {
		return pi.score
	}
	return pi.score * math.Exp2(-float64(elapsed)/float64(s.cfg.ScoreHalfLife))
}

func (s *Store) adjust(p peer.ID, delta float64) {
	pi := s.Observe(p)
	now := s.clk.Now()
	pi.score = s.decayed(pi, now) + delta
	pi.scoredAt = now
}

// Score returns the current decayed score of p, zero if unknown.
func (s *Store) Score(p peer.ID) float64 {
	pi, ok := s.active[p]
	if !ok {
		if pi, ok = s.book.Peek(p); !ok {
			return 0
		}
	}
	return s.decayed(pi, s.clk.Now())
}

func (s *Store) PenalizeTimeout(p peer.ID) {
	s.adjust(p, -s.cfg.TimeoutPenalty)
}

func (s *Store) PenalizeInvalidBlock(p peer.ID) {
	log.Infow("penalizing peer for invalid block", "peer", p)
	s.adjust(p, -s.cfg.InvalidBlockPenalty)
}

func (s *Store) PenalizeProtocolError(p peer.ID) {
	s.adjust(p, -s.cfg.ProtocolErrorPenalty)
}

func (s *Store) RewardDelivery(p peer.ID) {
	s.adjust(p, s.cfg.DeliveryReward)
}

// Rank orders candidates best first. Ties keep their input order, so
// callers control the tie break (e.g. provider records before filter
// matches).
func (s *Store) Rank(candidates []peer.ID) []peer.ID {
	now := s.clk.Now()
	scores := make(map[peer.ID]float64, len(candidates))
	for _, p := range candidates {
		if pi, ok := s.active[p]; ok {
			scores[p] = s.decayed(pi, now)
		} else if pi, ok := s.book.Peek(p); ok {
			scores[p] = s.decayed(pi, now)
		}
	}

	out := append([]peer.ID(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i]] > scores[out[j]]
	})
	return out
}

// SweepLiveness demotes peers that have no connection and were not seen
// within the liveness window into the address book, evicting the oldest
// entries past capacity. It returns the demoted peers.
func (s *Store) SweepLiveness() []peer.ID {
	now := s.clk.Now()
	var demoted []peer.ID
	for p, pi := range s.active {
		if pi.Connected() || now.Sub(pi.LastSeen) < s.cfg.LivenessWindow {
			continue
		}
		delete(s.active, p)
		if evicted := s.book.Add(p, pi); evicted {
			log.Debugw("address book full, evicted oldest entry")
		}
		demoted = append(demoted, p)
	}
	if len(demoted) > 0 {
		log.Debugw("demoted idle peers", "count", len(demoted))
	}
	return demoted
}
