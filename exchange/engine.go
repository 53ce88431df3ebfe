package exchange

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/ursa-network/ursa/lib/neterr"
	"github.com/ursa-network/ursa/metrics"
	"github.com/ursa-network/ursa/peermgr"
)

var log = logging.Logger("exchange")

type Config struct {
	// MaxConcurrentAsks is the number of candidates sent want-have at once.
	MaxConcurrentAsks int
	// MaxRetries is the number of want-have batches per fetch.
	MaxRetries int
	// WantTimeout is how long a want may stay unanswered.
	WantTimeout time.Duration
	// MaxPendingServes caps the wants of one peer we are still looking up.
	// Wants beyond it are answered DontHave at once. Zero means no cap.
	MaxPendingServes int
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentAsks: 3,
		MaxRetries:        3,
		WantTimeout:       10 * time.Second,
		MaxPendingServes:  256,
	}
}

// Env is the engine's view of the outside world. Verify, Store and Lookup
// start asynchronous work whose outcome is reported back through
// Engine.BlockVerified, Engine.BlockStored and Engine.Served on the
// goroutine that owns the engine. Verify carries the id of the fetch it
// runs for, which must be handed back to BlockVerified.
type Env interface {
	Send(p peer.ID, msg *Message) bool
	Verify(fetch uint64, c cid.Cid, from peer.ID, data []byte)
	Store(c cid.Cid, from peer.ID, data []byte)
	Lookup(ctx context.Context, p peer.ID, c cid.Cid, kind Kind)
	// Finished is called once per fetch operation when it resolves.
	Finished(c cid.Cid, err error)
}

// Result resolves one fetch subscriber. Every subscriber gets its own copy
// of Data.
type Result struct {
	Data []byte
	Err  error
}

type Phase int

const (
	Discovering Phase = iota
	Asking
	Fetching
	Verifying
	Storing
)

func (p Phase) String() string {
	switch p {
	case Discovering:
		return "discovering"
	case Asking:
		return "asking"
	case Fetching:
		return "fetching"
	case Verifying:
		return "verifying"
	case Storing:
		return "storing"
	default:
		return "unknown"
	}
}

type WantState int

const (
	Pending WantState = iota
	Responded
	Cancelled
	TimedOut
)

// WantRequest is an outstanding want-have or want-block sent to one peer on
// behalf of one fetch.
type WantRequest struct {
	Cid    cid.Cid
	Peer   peer.ID
	Issued time.Time
	// WantHave or WantBlock
	Kind  Kind
	State WantState
}

type fetch struct {
	// id tells apart successive fetches of the same cid
	id      uint64
	cid     cid.Cid
	started time.Time
	phase   Phase

	subs map[uint64]chan<- Result

	queue []peer.ID
	// every peer ever queued for this fetch
	known map[peer.ID]struct{}
	wants map[peer.ID]*WantRequest

	batches     int
	asked       int
	responded   bool
	discovering bool
	verifying   int
}

// Engine runs fetch operations and serves peers' wants. It is not
// synchronized: every method must be called from the one goroutine that
// owns it.
type Engine struct {
	cfg   Config
	env   Env
	peers *peermgr.Store
	clk   clock.Clock

	fetches   map[string]*fetch
	ledger    *ledger
	nextSub   uint64
	nextFetch uint64

	stats Stats
}

func NewEngine(cfg Config, env Env, peers *peermgr.Store, clk clock.Clock) *Engine {
	if cfg.MaxConcurrentAsks < 1 {
		cfg.MaxConcurrentAsks = 1
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Engine{
		cfg:     cfg,
		env:     env,
		peers:   peers,
		clk:     clk,
		fetches: make(map[string]*fetch),
		ledger:  newLedger(),
	}
}

// InFlight reports whether a fetch for c is running.
func (e *Engine) InFlight(c cid.Cid) bool {
	_, ok := e.fetches[c.KeyString()]
	return ok
}

// Join subscribes res to the running fetch of c. It returns false if there
// is none.
func (e *Engine) Join(c cid.Cid, res chan<- Result) bool {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return false
	}
	e.stats.FetchesCoalesced++
	e.subscribe(f, res)
	return true
}

// Start begins fetching c from candidates, best first. discovering tells
// the engine more candidates may still arrive through AddCandidates, in
// which case running out of candidates is not final until
// DiscoveryDone. res may be nil for fetches nobody waits on.
func (e *Engine) Start(c cid.Cid, candidates []peer.ID, discovering bool, res chan<- Result) {
	k := c.KeyString()
	if _, ok := e.fetches[k]; ok {
		// callers are expected to Join first
		if res != nil {
			e.Join(c, res)
		} else {
			e.AddCandidates(c, candidates...)
		}
		return
	}

	e.nextFetch++
	f := &fetch{
		id:          e.nextFetch,
		cid:         c,
		started:     e.clk.Now(),
		phase:       Discovering,
		subs:        make(map[uint64]chan<- Result),
		known:       make(map[peer.ID]struct{}),
		wants:       make(map[peer.ID]*WantRequest),
		discovering: discovering,
	}
	e.fetches[k] = f
	e.stats.FetchesStarted++

	if res != nil {
		e.subscribe(f, res)
	}
	e.enqueue(f, candidates)
	e.advance(f)
}

func (e *Engine) subscribe(f *fetch, res chan<- Result) {
	e.nextSub++
	f.subs[e.nextSub] = res
}

func (e *Engine) enqueue(f *fetch, candidates []peer.ID) int {
	n := 0
	for _, p := range candidates {
		if _, ok := f.known[p]; ok {
			continue
		}
		f.known[p] = struct{}{}
		f.queue = append(f.queue, p)
		n++
	}
	return n
}

// AddCandidates appends late discovered candidates to the fetch of c.
func (e *Engine) AddCandidates(c cid.Cid, candidates ...peer.ID) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return
	}
	if e.enqueue(f, candidates) > 0 {
		e.advance(f)
	}
}

// DiscoveryDone marks the candidate lookup of c as finished.
func (e *Engine) DiscoveryDone(c cid.Cid) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return
	}
	f.discovering = false
	e.advance(f)
}

// Leave unsubscribes res. When the last subscriber leaves the fetch is
// cancelled.
func (e *Engine) Leave(c cid.Cid, res chan<- Result) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return
	}
	found := false
	for id, ch := range f.subs {
		if ch == res {
			delete(f.subs, id)
			found = true
		}
	}
	if found && len(f.subs) == 0 {
		log.Debugw("last subscriber left, cancelling fetch", "cid", c)
		e.finish(f, nil, context.Canceled)
	}
}

// Cancel aborts the fetch of c for every subscriber.
func (e *Engine) Cancel(c cid.Cid) bool {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return false
	}
	e.finish(f, nil, context.Canceled)
	return true
}

// CancelAll resolves every fetch with err. Used on shutdown.
func (e *Engine) CancelAll(err error) {
	for _, f := range e.fetches {
		e.finish(f, nil, err)
	}
	e.ledger.cancelAll()
}

func (e *Engine) pending(f *fetch) bool {
	for _, w := range f.wants {
		if w.State == Pending {
			return true
		}
	}
	return false
}

// advance issues the next want-have batch once nothing is outstanding, or
// resolves the fetch when candidates and retries are used up.
func (e *Engine) advance(f *fetch) {
	if f.verifying > 0 || f.phase == Storing || e.pending(f) {
		return
	}

	for len(f.queue) > 0 && f.batches < e.cfg.MaxRetries {
		f.batches++
		f.phase = Asking

		n := e.cfg.MaxConcurrentAsks
		if n > len(f.queue) {
			n = len(f.queue)
		}
		batch := f.queue[:n]
		f.queue = f.queue[n:]

		for _, p := range batch {
			if err := e.want(f, p, WantHave); err != nil {
				e.finish(f, nil, err)
				return
			}
		}
		if e.pending(f) {
			return
		}
	}

	if f.discovering && f.batches < e.cfg.MaxRetries {
		f.phase = Discovering
		return
	}

	switch {
	case f.asked == 0, f.responded:
		e.finish(f, nil, neterr.ErrNotFound)
	default:
		e.finish(f, nil, neterr.ErrTimeout)
	}
}

func (e *Engine) want(f *fetch, p peer.ID, kind Kind) error {
	if w, ok := f.wants[p]; ok {
		return &neterr.InternalError{
			Op:  "issue want",
			Err: xerrors.Errorf("duplicate want for %s to %s (kind %s)", f.cid, p, w.Kind),
		}
	}
	if !e.env.Send(p, NewMessage(kind, f.cid)) {
		log.Debugw("could not queue want", "cid", f.cid, "peer", p, "kind", kind)
		return nil
	}

	switch kind {
	case WantHave:
		e.stats.WantHaveSent++
		f.asked++
	case WantBlock:
		e.stats.WantBlockSent++
	}
	stats.Record(metrics.Tagged(context.Background(), metrics.MessageKind, kind.String()), metrics.WantSent.M(1))

	f.wants[p] = &WantRequest{
		Cid:    f.cid,
		Peer:   p,
		Issued: e.clk.Now(),
		Kind:   kind,
		State:  Pending,
	}
	return nil
}

// cancelWants sends a cancel to every peer with an outstanding want of f,
// except keep.
func (e *Engine) cancelWants(f *fetch, keep peer.ID) {
	for p, w := range f.wants {
		if p == keep {
			continue
		}
		w.State = Cancelled
		delete(f.wants, p)
		if e.env.Send(p, NewMessage(Cancel, f.cid)) {
			e.stats.CancelSent++
		}
	}
}

func (e *Engine) finish(f *fetch, data []byte, err error) {
	delete(e.fetches, f.cid.KeyString())
	e.cancelWants(f, "")

	// data is also what went to the store
	for id, ch := range f.subs {
		res := Result{Err: err}
		if data != nil {
			res.Data = append([]byte(nil), data...)
		}
		select {
		case ch <- res:
		default:
			log.Errorw("fetch subscriber not ready, result dropped", "cid", f.cid, "sub", id)
		}
	}

	outcome := "found"
	switch {
	case xerrors.Is(err, neterr.ErrNotFound):
		outcome = "not_found"
	case xerrors.Is(err, neterr.ErrTimeout):
		outcome = "timeout"
	case xerrors.Is(err, context.Canceled):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	ctx := metrics.Tagged(context.Background(), metrics.Outcome, outcome)
	stats.Record(ctx, metrics.FetchCompleted.M(1), metrics.FetchDuration.M(float64(e.clk.Since(f.started).Milliseconds())))
	log.Debugw("fetch finished", "cid", f.cid, "outcome", outcome, "batches", f.batches, "asked", f.asked)

	e.env.Finished(f.cid, err)
}

// ReceiveMessage dispatches an inbound message. Requests go to the serving
// ledger, responses to the fetch they answer. Responses nobody asked for
// are ignored.
func (e *Engine) ReceiveMessage(p peer.ID, msg *Message) {
	switch msg.Kind {
	case WantHave, WantBlock:
		e.serveWant(p, msg.Cid, msg.Kind)
	case Cancel:
		e.stats.CancelReceived++
		e.ledger.cancel(p, msg.Cid)
	case Have:
		e.stats.HaveReceived++
		e.receiveHave(p, msg.Cid)
	case DontHave:
		e.stats.DontHaveReceived++
		e.receiveDontHave(p, msg.Cid)
	case Block:
		e.stats.BlocksReceived++
		stats.Record(context.Background(), metrics.BlockReceived.M(1), metrics.BlockSize.M(int64(len(msg.Data))))
		e.receiveBlock(p, msg.Cid, msg.Data)
	}
}

func (e *Engine) outstanding(p peer.ID, c cid.Cid) (*fetch, *WantRequest) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return nil, nil
	}
	w, ok := f.wants[p]
	if !ok || w.State != Pending {
		return f, nil
	}
	return f, w
}

func (e *Engine) receiveHave(p peer.ID, c cid.Cid) {
	f, w := e.outstanding(p, c)
	if w == nil || w.Kind != WantHave {
		log.Debugw("ignoring unsolicited have", "peer", p, "cid", c)
		return
	}

	f.responded = true
	w.State = Responded
	e.cancelWants(f, p)
	delete(f.wants, p)

	f.phase = Fetching
	if err := e.want(f, p, WantBlock); err != nil {
		e.finish(f, nil, err)
		return
	}
	e.advance(f)
}

func (e *Engine) receiveDontHave(p peer.ID, c cid.Cid) {
	f, w := e.outstanding(p, c)
	if w == nil {
		return
	}
	f.responded = true
	w.State = Responded
	delete(f.wants, p)
	e.advance(f)
}

func (e *Engine) receiveBlock(p peer.ID, c cid.Cid, data []byte) {
	f, w := e.outstanding(p, c)
	if w == nil {
		log.Debugw("ignoring unsolicited block", "peer", p, "cid", c)
		return
	}
	f.responded = true
	w.State = Responded
	delete(f.wants, p)

	f.phase = Verifying
	f.verifying++
	e.env.Verify(f.id, c, p, data)
}

// BlockVerified reports the outcome of a Verify call. Results for a fetch
// that has since finished are dropped, even if c is being fetched again.
func (e *Engine) BlockVerified(fetch uint64, c cid.Cid, from peer.ID, data []byte, err error) {
	f, ok := e.fetches[c.KeyString()]
	if !ok || f.id != fetch {
		log.Debugw("dropping verification of finished fetch", "cid", c, "peer", from)
		return
	}
	f.verifying--

	if err != nil {
		e.stats.InvalidBlocks++
		stats.Record(context.Background(), metrics.BlockInvalid.M(1))
		log.Warnw("discarding invalid block", "cid", c, "peer", from, "error", err)
		e.peers.PenalizeInvalidBlock(from)
		e.advance(f)
		return
	}
	if f.phase == Storing {
		// another copy already verified
		return
	}

	f.phase = Storing
	e.cancelWants(f, "")
	e.env.Store(c, from, data)
}

// BlockStored reports the outcome of a Store call. A failed store is
// logged; the verified block is still handed to the subscribers.
func (e *Engine) BlockStored(c cid.Cid, from peer.ID, data []byte, err error) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return
	}
	if err != nil {
		log.Errorw("storing fetched block failed", "cid", c, "error", err)
	}
	e.peers.RewardDelivery(from)
	e.finish(f, data, nil)
}

// Sweep times out wants older than WantTimeout.
func (e *Engine) Sweep() {
	now := e.clk.Now()
	for _, f := range e.fetches {
		expired := false
		for p, w := range f.wants {
			if w.State != Pending || now.Sub(w.Issued) < e.cfg.WantTimeout {
				continue
			}
			w.State = TimedOut
			delete(f.wants, p)
			expired = true

			e.stats.TimedOutWants++
			stats.Record(context.Background(), metrics.WantTimedOut.M(1))
			log.Debugw("want timed out", "cid", f.cid, "peer", p, "kind", w.Kind)

			if e.env.Send(p, NewMessage(Cancel, f.cid)) {
				e.stats.CancelSent++
			}
			e.peers.PenalizeTimeout(p)
		}
		if expired {
			// advance may finish f, which only deletes the current key
			e.advance(f)
		}
	}
}

// PeerDisconnected drops the wants and serves of p.
func (e *Engine) PeerDisconnected(p peer.ID) {
	for _, f := range e.fetches {
		if _, ok := f.wants[p]; !ok {
			continue
		}
		delete(f.wants, p)
		e.advance(f)
	}
	e.ledger.dropPeer(p)
}

// Wantlist returns a copy of every outstanding want.
func (e *Engine) Wantlist() []WantRequest {
	var out []WantRequest
	for _, f := range e.fetches {
		for _, w := range f.wants {
			out = append(out, *w)
		}
	}
	return out
}

// FetchPhase returns the phase of the fetch of c.
func (e *Engine) FetchPhase(c cid.Cid) (Phase, bool) {
	f, ok := e.fetches[c.KeyString()]
	if !ok {
		return 0, false
	}
	return f.phase, true
}

func (e *Engine) Stats() Stats {
	s := e.stats
	s.ActiveFetches = len(e.fetches)
	s.PendingServes = e.ledger.len()
	return s
}
