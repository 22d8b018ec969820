// Package router implements the Babel-derived distance-vector routing
// engine (spec.md §4): it owns the source table, routing table and
// destination key map, drives the protocol's periodic and triggered
// updates, and exposes the admin and data-plane surfaces the rest of the
// node uses.
package router

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyxmesh/meshrouter/internal/config"
	"github.com/nyxmesh/meshrouter/internal/cryptocollab"
	"github.com/nyxmesh/meshrouter/internal/destkeymap"
	"github.com/nyxmesh/meshrouter/internal/filters"
	"github.com/nyxmesh/meshrouter/internal/peer"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/subnet"
	"github.com/nyxmesh/meshrouter/internal/tuncollab"
)

// Router is the mesh node's routing engine: one instance per node, wired to
// exactly one identity, one TUN sink and one crypto provider.
type Router struct {
	publicKey routerid.PublicKey
	id        routerid.RouterID
	tunSubnet subnet.Subnet

	cfg    config.Config
	clock  clockwork.Clock
	log    *slog.Logger
	metric *metrics
	filter filters.Filter

	crypto cryptocollab.Provider
	tun    tuncollab.Sink

	state *state

	// initialStaticRoutes is only consulted once, at construction, to seed
	// state.staticRoutes before the router's write lock exists to guard it.
	initialStaticRoutes []subnet.Subnet

	// ourSeqNo is this node's own sequence number for the routes it
	// originates (its static routes). It only ever increases, per
	// spec.md §4.2's feasibility rule applied to self-originated routes.
	// lastSeqnoBump rate-limits how often a SeqNoRequest naming this node
	// can bump it (spec.md §4.6 Branch B, §9's resolved Open Question).
	seqMu         sync.Mutex
	ourSeqNo      seqno.SeqNo
	lastSeqnoBump time.Time

	// pendingSeqReqs holds the subnets this node has sent a SeqNoRequest
	// for within the last Config.SeqNoBumpTimeout (see
	// sendSeqNoRequestLocked); no further request for such a subnet is sent
	// until its entry is cleared.
	seqReqMu       sync.Mutex
	pendingSeqReqs map[subnet.Subnet]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Router at construction time.
type Option func(*Router)

func WithClock(c clockwork.Clock) Option {
	return func(r *Router) { r.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

func WithConfig(c config.Config) Option {
	return func(r *Router) { r.cfg = c }
}

func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(r *Router) { r.metric = newMetrics(reg) }
}

func WithFilter(f filters.Filter) Option {
	return func(r *Router) { r.filter = f }
}

// WithStaticRoutes seeds the router's locally-owned subnets (spec.md §3's
// StaticRoute entity). Static routes are immutable after startup in normal
// operation; use SetStaticRoutes directly only for tests that need to
// change them after construction.
func WithStaticRoutes(routes ...subnet.Subnet) Option {
	return func(r *Router) { r.initialStaticRoutes = routes }
}

// New builds a Router for the node identified by pk, whose own overlay
// address falls within tunSubnet. crypto resolves per-peer shared secrets;
// tun receives data packets addressed to this node.
func New(pk routerid.PublicKey, tunSubnet subnet.Subnet, crypto cryptocollab.Provider, tun tuncollab.Sink, opts ...Option) *Router {
	r := &Router{
		publicKey:      pk,
		id:             routerid.FromPublicKey(pk),
		tunSubnet:      tunSubnet,
		cfg:            config.Default(),
		clock:          clockwork.NewRealClock(),
		log:            slog.Default(),
		crypto:         crypto,
		tun:            tun,
		filter:         filters.Chain(nil),
		pendingSeqReqs: make(map[subnet.Subnet]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metric == nil {
		r.metric = newMetrics(prometheus.NewRegistry())
	}
	r.state = newState(r.cfg.SourceTableTTL, r.cfg.RouteTableTTL, destkeymap.New(crypto))
	for _, sn := range r.initialStaticRoutes {
		r.state.staticRoutes[sn] = struct{}{}
	}
	return r
}

// Run starts every background task (table expiry timers, hello loop,
// dead-peer sweep, selected-route and static-route propagation, expiry
// drains) and blocks until ctx is cancelled, then waits for them to exit.
// It starts no packet consumers: callers hand control and data packets to
// HandleControlPacket and RoutePacket directly.
func (r *Router) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.spawn(func() { r.state.sourceTbl.Run(ctx) })
	r.spawn(func() { r.state.routeTbl.Run(ctx) })
	r.spawn(func() { r.runHelloLoop(ctx) })
	r.spawn(func() { r.runDeadPeerSweep(ctx) })
	r.spawn(func() { r.runRoutePropagation(ctx) })
	r.spawn(func() { r.runStaticRoutePropagation(ctx) })
	r.spawn(func() { r.runSourceExpiryDrain(ctx) })
	r.spawn(func() { r.runRouteExpiryDrain(ctx) })

	<-ctx.Done()
	r.wg.Wait()
	return nil
}

// Close stops all background tasks started by Run and waits for them to
// exit.
func (r *Router) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Router) spawn(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// NodePublicKey returns this node's identity.
func (r *Router) NodePublicKey() routerid.PublicKey { return r.publicKey }

// NodeTunSubnet returns this node's own overlay subnet.
func (r *Router) NodeTunSubnet() subnet.Subnet { return r.tunSubnet }

// SetStaticRoutes replaces the router's locally-owned static routes
// (spec.md §3). Normally set once via WithStaticRoutes at construction;
// exposed as a method so it participates in the single-writer op discipline
// like every other mutation (spec.md §4.6/§9's SetStaticRoutes op) and so
// tests can change it after the fact.
func (r *Router) SetStaticRoutes(routes []subnet.Subnet) {
	r.withWriteOp(opSetStaticRoutes, []slog.Attr{slog.Int("count", len(routes))}, func() {
		r.state.staticRoutes = make(map[subnet.Subnet]struct{}, len(routes))
		for _, sn := range routes {
			r.state.staticRoutes[sn] = struct{}{}
		}
	})
}

func (r *Router) isStaticRoute(sn subnet.Subnet) bool {
	var ok bool
	r.withReadOp(func() {
		_, ok = r.state.staticRoutes[sn]
	})
	return ok
}

// currentSeqNo returns this node's current sequence number.
func (r *Router) currentSeqNo() seqno.SeqNo {
	r.seqMu.Lock()
	defer r.seqMu.Unlock()
	return r.ourSeqNo
}

// AddPeerInterface registers a newly-discovered neighbour with the router.
func (r *Router) AddPeerInterface(p peer.Peer) error {
	var err error
	r.withWriteOp(opPeerUp, []slog.Attr{slog.String("underlay", p.UnderlayIP().String())}, func() {
		if _, exists := r.state.peers[p.UnderlayIP()]; exists {
			err = ErrPeerAlreadyExists
			return
		}
		r.state.peers[p.UnderlayIP()] = p
	})
	if err != nil {
		return err
	}
	r.metric.peersActive.Inc()
	return nil
}

// PeerExists reports whether a peer with the given underlay address is
// currently registered.
func (r *Router) PeerExists(underlay netip.Addr) bool {
	var ok bool
	r.withReadOp(func() {
		_, ok = r.state.peers[underlay]
	})
	return ok
}

// PeerInterfaces returns every currently registered peer.
func (r *Router) PeerInterfaces() []peer.Peer {
	var out []peer.Peer
	r.withReadOp(func() {
		out = make([]peer.Peer, 0, len(r.state.peers))
		for _, p := range r.state.peers {
			out = append(out, p)
		}
	})
	return out
}
