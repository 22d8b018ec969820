package router

import (
	"context"
	"log/slog"

	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/peer"
	"github.com/nyxmesh/meshrouter/internal/routingtable"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// runHelloLoop sends a Hello to every registered peer every
// Config.HelloInterval (spec.md §4.6 step... periodic liveness).
func (r *Router) runHelloLoop(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.HelloInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			hello := babel.HelloPacket(babel.Hello{Interval: uint16(r.cfg.HelloInterval.Seconds())})
			for _, p := range r.PeerInterfaces() {
				_ = p.SendControlPacket(hello)
			}
		}
	}
}

// runDeadPeerSweep runs every Config.DeadPeerSweepInterval (fixed at 1s by
// spec.md §4.6, independent of the staleness threshold it checks) and evicts
// any peer that hasn't sent an IHU within Config.DeadPeerThreshold,
// retracting every route learned through it.
func (r *Router) runDeadPeerSweep(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.DeadPeerSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			now := r.clock.Now()
			for _, p := range r.PeerInterfaces() {
				if now.Sub(p.TimeLastReceivedIHU()) > r.cfg.DeadPeerThreshold {
					r.removeDeadPeer(p)
				}
			}
		}
	}
}

func (r *Router) removeDeadPeer(p peer.Peer) {
	var touched []subnet.Subnet
	r.withWriteOp(opPeerDown, []slog.Attr{slog.String("underlay", p.UnderlayIP().String())}, func() {
		delete(r.state.peers, p.UnderlayIP())
		touched = r.state.routeTbl.RemovePeer(p)
	})
	r.metric.peersActive.Dec()
	if own, err := subnet.Of64(p.OverlayIP()); err == nil {
		r.broadcastUpdate(babel.Update{
			SeqNo:    r.currentSeqNo(),
			Metric:   metric.Infinite,
			Subnet:   own,
			RouterID: r.id,
		}, p)
	}
	for _, sn := range touched {
		r.broadcastUpdate(babel.Update{
			SeqNo:    0,
			Metric:   metric.Infinite,
			Subnet:   sn,
			RouterID: r.id,
		}, p)
	}
}

// runRoutePropagation re-announces every selected route to every peer except
// that route's next hop (split horizon) every
// Config.RoutePropagationInterval, the periodic (non-triggered) update of
// spec.md §4.4.
func (r *Router) runRoutePropagation(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.RoutePropagationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.propagateAllSelected()
		}
	}
}

func (r *Router) propagateAllSelected() {
	var updates []babel.Update
	var origins []peer.Peer
	r.withReadOp(func() {
		r.state.routeTbl.All(func(key routingtable.RouteKey, entry routingtable.RouteEntry) bool {
			if !entry.Selected() {
				return true
			}
			updates = append(updates, babel.Update{
				Interval: uint16(r.cfg.UpdateInterval.Seconds()),
				SeqNo:    entry.SeqNo(),
				Metric:   entry.Metric(),
				Subnet:   key.Subnet,
				RouterID: entry.Source().RouterID,
			})
			origins = append(origins, entry.Neighbor())
			return true
		})
	})
	for i, u := range updates {
		r.broadcastUpdate(u, origins[i])
	}
}

// propagateTriggered re-announces the (now newly selected) route for sn to
// every peer except learnedFrom, implementing split horizon (spec.md §4.5).
func (r *Router) propagateTriggered(sn subnet.Subnet, learnedFrom peer.Peer) {
	var (
		u     babel.Update
		found bool
	)
	r.withReadOp(func() {
		for _, e := range r.state.routeTbl.Entries(sn) {
			if !e.Selected() {
				continue
			}
			u = babel.Update{
				Interval: uint16(r.cfg.UpdateInterval.Seconds()),
				SeqNo:    e.SeqNo(),
				Metric:   e.Metric(),
				Subnet:   sn,
				RouterID: e.Source().RouterID,
			}
			found = true
			return
		}
	})
	if found {
		r.broadcastUpdate(u, learnedFrom)
	}
}

// broadcastUpdate sends u to every registered peer except skip (split
// horizon: never re-advertise a route back toward the neighbour it was
// learned from).
func (r *Router) broadcastUpdate(u babel.Update, skip peer.Peer) {
	pkt := babel.UpdatePacket(u)
	for _, p := range r.PeerInterfaces() {
		if skip != nil && sameUnderlay(p, skip) {
			continue
		}
		_ = p.SendControlPacket(pkt)
	}
}

// runStaticRoutePropagation re-announces every locally-owned static route to
// every peer every Config.RoutePropagationInterval (spec.md §4.6's second
// route-propagation loop, distinct from runRoutePropagation's selected-route
// loop).
func (r *Router) runStaticRoutePropagation(ctx context.Context) {
	ticker := r.clock.NewTicker(r.cfg.RoutePropagationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.propagateStaticRoutes()
		}
	}
}

// propagateStaticRoutes sends every peer one Update per locally-owned static
// route, metric 0, this node's current sequence number and router ID.
func (r *Router) propagateStaticRoutes() {
	var routes []subnet.Subnet
	r.withReadOp(func() {
		routes = make([]subnet.Subnet, 0, len(r.state.staticRoutes))
		for sn := range r.state.staticRoutes {
			routes = append(routes, sn)
		}
	})
	seq := r.currentSeqNo()
	for _, sn := range routes {
		r.broadcastUpdate(babel.Update{
			Interval: uint16(r.cfg.UpdateInterval.Seconds()),
			SeqNo:    seq,
			Metric:   metric.Metric(0),
			Subnet:   sn,
			RouterID: r.id,
		}, nil)
	}
}

// runSourceExpiryDrain removes source-table entries once they've gone
// Config.SourceTableTTL without being refreshed (spec.md §4.2).
func (r *Router) runSourceExpiryDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-r.state.sourceTbl.Expired():
			if !ok {
				return
			}
			r.withWriteOp(opSourceExpire, []slog.Attr{slog.String("subnet", key.Subnet.String())}, func() {
				r.state.sourceTbl.Remove(key)
			})
		}
	}
}

// runRouteExpiryDrain implements the two-phase inactivity expiry of
// spec.md §4.3: the first timer firing retracts the entry (sets its metric
// to Infinite and re-arms); the second, firing after the retraction, -
// removes it outright. Which phase applies is read off the entry's current
// metric rather than tracked separately.
func (r *Router) runRouteExpiryDrain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case key, ok := <-r.state.routeTbl.Expired():
			if !ok {
				return
			}
			r.handleRouteExpiry(key)
		}
	}
}

func (r *Router) handleRouteExpiry(key routingtable.RouteKey) {
	var (
		retracted bool
		removed   bool
		sourceKey sourcetable.SourceKey
		sn        subnet.Subnet
	)
	r.withWriteOp(opRetractRoute, []slog.Attr{slog.String("subnet", key.Subnet.String())}, func() {
		entry, ok := r.state.routeTbl.Get(key)
		if !ok {
			return
		}
		sn = key.Subnet
		sourceKey = entry.Source()

		if !entry.Metric().IsInfinite() {
			r.state.routeTbl.UpdateEntry(key, metric.Infinite, entry.SeqNo(), entry.Source())
			r.state.routeTbl.UnselectRoute(key)
			r.state.routeTbl.ArmTimer(key)
			retracted = true
			return
		}

		r.state.routeTbl.Remove(key)
		removed = true
	})

	if retracted {
		r.broadcastUpdate(babel.Update{
			SeqNo:    0,
			Metric:   metric.Infinite,
			Subnet:   sn,
			RouterID: sourceKey.RouterID,
		}, key.Neighbor)
	}
	if removed {
		r.withWriteOp(opRemoveRoute, []slog.Attr{slog.String("subnet", key.Subnet.String())}, func() {
			r.reselectLocked(key.Subnet)
		})
	}
}
