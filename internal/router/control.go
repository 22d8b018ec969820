package router

import (
	"log/slog"
	"math"
	"time"

	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/peer"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/routingtable"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// HandleControlPacket dispatches an inbound control packet from p to the
// matching handler (spec.md §4.6).
func (r *Router) HandleControlPacket(p peer.Peer, pkt babel.ControlPacket) {
	switch pkt.Kind {
	case babel.KindHello:
		r.handleHello(p, *pkt.Hello)
	case babel.KindIHU:
		r.handleIHU(p, *pkt.IHU)
	case babel.KindUpdate:
		r.handleUpdate(p, *pkt.Update)
	case babel.KindSeqNoRequest:
		r.handleSeqNoRequest(p, *pkt.SeqNoRequest)
	}
}

// handleHello records the sender's liveness and answers with an IHU, the
// half of the exchange that lets the sender measure its link cost to us
// (spec.md §4.6).
func (r *Router) handleHello(p peer.Peer, _ babel.Hello) {
	p.SetTimeLastReceivedHello(r.clock.Now())
	ihu := babel.IHUPacket(babel.IHU{
		Interval: uint16(r.cfg.IHUInterval.Seconds()),
		Address:  p.OverlayIP(),
	})
	_ = p.SendControlPacket(ihu)
}

// handleIHU closes the liveness round trip: the time since we last heard a
// Hello from p is this link's cost, in milliseconds, clamped to 16 bits
// (spec.md §4.6).
func (r *Router) handleIHU(p peer.Peer, _ babel.IHU) {
	now := r.clock.Now()
	p.SetLinkCost(linkCostMillis(now.Sub(p.TimeLastReceivedHello())))
	p.SetTimeLastReceivedIHU(now)
}

// linkCostMillis converts a round-trip duration to the clamped 16-bit cost
// the wire format carries. A negative duration (no Hello seen yet, or clock
// skew between fake-clock-driven tests) costs nothing rather than wrapping.
func linkCostMillis(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if ms > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(ms)
}

// handleUpdate implements the per-Update processing steps of spec.md §4.6:
// filter, compute distance, check feasibility against the source table,
// store the route entry, and re-run selection for the affected subnet.
func (r *Router) handleUpdate(p peer.Peer, u babel.Update) {
	r.metric.updatesReceived.Inc()

	if !r.filter.Allow(u) {
		r.metric.updatesRejected.WithLabelValues("filtered").Inc()
		return
	}

	r.withWriteOp(opInstallDestKey, []slog.Attr{
		slog.String("subnet", u.Subnet.String()),
		slog.String("origin", u.RouterID.String()),
	}, func() {
		if err := r.state.destKeys.EnsureDerived(u.Subnet, routerid.PublicKey(u.RouterID)); err != nil {
			r.log.Warn("failed to derive destination key",
				slog.String("subnet", u.Subnet.String()),
				slog.String("origin", u.RouterID.String()),
				slog.Any("error", err))
		}
	})

	if r.isStaticRoute(u.Subnet) {
		r.metric.updatesRejected.WithLabelValues("static_route").Inc()
		return
	}

	sourceKey := sourcetable.SourceKey{Subnet: u.Subnet, RouterID: u.RouterID}
	routeKey := routingtable.RouteKey{Subnet: u.Subnet, Neighbor: p}

	candidateMetric := u.Metric
	if !u.IsRetraction() {
		candidateMetric = u.Metric.Add(metric.Metric(p.LinkCost()))
	}
	candidate := sourcetable.FeasibilityDistance{Metric: candidateMetric, SeqNo: u.SeqNo}

	var (
		hadExisting bool
		prevMetric  metric.Metric
		applied     bool
		trigger     bool
	)

	r.withWriteOp(opApplyUpdate, []slog.Attr{
		slog.String("subnet", u.Subnet.String()),
		slog.String("origin", u.RouterID.String()),
	}, func() {
		existing, ok := r.state.routeTbl.Get(routeKey)
		hadExisting = ok
		if ok {
			prevMetric = existing.Metric()
		}

		if !r.state.sourceTbl.IsUpdateFeasible(sourceKey, candidate) {
			if hadExisting && existing.Selected() {
				// An infeasible update from the neighbour we already
				// route this subnet through asks to be refreshed, not
				// silently dropped: request a sequence-number bump
				// instead of applying it (spec.md §4.6 step 5 / §7(b)).
				r.sendSeqNoRequestLocked(p, sourceKey)
			}
			return
		}

		if !u.IsRetraction() {
			r.state.sourceTbl.Insert(sourceKey, candidate)
		}

		// A non-retracting update from the selected neighbour keeps the
		// entry selected, so reselection only reports a change when another
		// neighbour actually takes over.
		keepSelected := hadExisting && existing.Selected() && !u.IsRetraction()
		entry := routingtable.NewRouteEntry(sourceKey, p, candidateMetric, u.SeqNo, keepSelected)
		r.state.routeTbl.Insert(routeKey, entry)
		applied = true

		selectionChanged := r.reselectLocked(u.Subnet)

		// Reselection always warrants an immediate announcement. Absent
		// that, a big enough metric swing on the still-selected route is
		// also announced right away rather than left for the next
		// periodic propagation; small jitter is left to age out
		// naturally (spec.md §8's "small metric change" property).
		bigChange := hadExisting && !candidateMetric.IsInfinite() && !prevMetric.IsInfinite() &&
			metric.Delta(candidateMetric, prevMetric) >= metric.Metric(r.cfg.BigMetricChangeThreshold)
		stillSelected := func() bool {
			e, ok := r.state.routeTbl.Get(routeKey)
			return ok && e.Selected()
		}
		trigger = selectionChanged || (bigChange && stillSelected())
	})

	if !applied {
		r.metric.updatesRejected.WithLabelValues("infeasible").Inc()
		return
	}
	if trigger {
		r.propagateTriggered(u.Subnet, p)
	}
}

// reselectLocked recomputes the best (lowest non-infinite metric) route for
// sn among its current entries and updates the selected flag accordingly.
// Ties keep the previously selected neighbour, favoring route stability
// over metric churn (spec.md §9 Open Question, resolved in favor of
// stability: a new neighbour only displaces the current one by strictly
// improving on its metric). Reports whether the selection changed.
// Must be called with the write lock held.
func (r *Router) reselectLocked(sn subnet.Subnet) bool {
	entries := r.state.routeTbl.Entries(sn)
	if len(entries) == 0 {
		return false
	}

	var (
		bestIdx    = -1
		bestMetric metric.Metric
		curIdx     = -1
	)
	for i, e := range entries {
		if e.Selected() {
			curIdx = i
		}
		if e.Metric().IsInfinite() {
			continue
		}
		if bestIdx == -1 || e.Metric() < bestMetric {
			bestIdx, bestMetric = i, e.Metric()
		}
	}

	if bestIdx == -1 {
		// Every entry is retracted; nothing to select. The currently
		// selected one (if any) is unselected by the retraction handler,
		// not here.
		return false
	}
	if curIdx == bestIdx {
		return false
	}
	if curIdx != -1 && !(bestMetric < entries[curIdx].Metric()) {
		// Not a strict improvement over the current selection: keep it.
		return false
	}

	key := routingtable.RouteKey{Subnet: sn, Neighbor: entries[bestIdx].Neighbor()}
	return r.state.routeTbl.SelectRoute(key)
}

// sendSeqNoRequestLocked issues a SeqNoRequest to p for sourceKey's
// (subnet, origin), rate-limited to at most one outgoing request per
// subnet within Config.SeqNoBumpTimeout: another infeasible update for the
// same subnet inside that window sends nothing. This is separate from the
// self-bump limit in trySelfSeqNoBump. Must be called with the write lock
// held.
func (r *Router) sendSeqNoRequestLocked(p peer.Peer, sourceKey sourcetable.SourceKey) {
	r.seqReqMu.Lock()
	if _, pending := r.pendingSeqReqs[sourceKey.Subnet]; pending {
		r.seqReqMu.Unlock()
		return
	}
	r.pendingSeqReqs[sourceKey.Subnet] = struct{}{}
	r.seqReqMu.Unlock()

	fd, _ := r.state.sourceTbl.Get(sourceKey)
	req := babel.SeqNoRequest{
		SeqNo:    fd.SeqNo.Next(),
		RouterID: sourceKey.RouterID,
		Prefix:   sourceKey.Subnet,
		HopCount: 2,
	}
	_ = p.SendControlPacket(babel.SeqNoRequestPacket(req))
	r.metric.seqnoRequestsSent.Inc()

	r.clock.AfterFunc(r.cfg.SeqNoBumpTimeout, func() {
		r.seqReqMu.Lock()
		delete(r.pendingSeqReqs, sourceKey.Subnet)
		r.seqReqMu.Unlock()
	})
}

// handleSeqNoRequest implements the three branches of spec.md §4.6 step 6,
// tried in order (they can't all match a single request, but more than one
// of their guards can be satisfied at once, so the first match wins):
//
//	(A) our own selected route for the prefix already answers the request
//	    (different origin, or already at/above the requested seqno): send
//	    it straight back to the requester.
//	(B) the request asks us, as the prefix's origin, for a seqno we haven't
//	    reached yet: bump ours and propagate, rate-limited.
//	(C) neither applies: forward toward a neighbour that isn't the
//	    requester, decrementing hop count, if hop count allows it.
func (r *Router) handleSeqNoRequest(from peer.Peer, req babel.SeqNoRequest) {
	if r.answerFromOwnSelectedRoute(from, req) {
		return
	}
	if r.trySelfSeqNoBump(req) {
		return
	}
	r.tryForwardSeqNoRequest(from, req)
}

func (r *Router) answerFromOwnSelectedRoute(from peer.Peer, req babel.SeqNoRequest) bool {
	var (
		entry routingtable.RouteEntry
		found bool
	)
	r.withReadOp(func() {
		for _, e := range r.state.routeTbl.Entries(req.Prefix) {
			if e.Selected() && !e.Metric().IsInfinite() {
				entry, found = e, true
				return
			}
		}
	})
	if !found {
		return false
	}

	differentOrigin := !entry.Source().RouterID.Equal(req.RouterID)
	atLeastAsFresh := entry.SeqNo().Gt(req.SeqNo) || entry.SeqNo().Eq(req.SeqNo)
	if !differentOrigin && !atLeastAsFresh {
		return false
	}

	u := babel.Update{
		Interval: uint16(r.cfg.UpdateInterval.Seconds()),
		SeqNo:    entry.SeqNo(),
		Metric:   entry.Metric().Add(metric.Metric(from.LinkCost())),
		Subnet:   req.Prefix,
		RouterID: entry.Source().RouterID,
	}
	_ = from.SendControlPacket(babel.UpdatePacket(u))
	return true
}

// trySelfSeqNoBump implements Branch B: only fires when the request names us
// as the prefix's origin, asks for a seqno we haven't reached, and names one
// of our own static routes. Rate-limited to at most one bump per
// Config.SeqNoBumpTimeout (spec.md §9's resolved Open Question).
func (r *Router) trySelfSeqNoBump(req babel.SeqNoRequest) bool {
	if !req.RouterID.Equal(r.id) {
		return false
	}
	if !req.SeqNo.Gt(r.currentSeqNo()) {
		return false
	}
	if !r.isStaticRoute(req.Prefix) {
		return false
	}

	r.seqMu.Lock()
	now := r.clock.Now()
	if now.Sub(r.lastSeqnoBump) < r.cfg.SeqNoBumpTimeout {
		r.seqMu.Unlock()
		return true
	}
	r.ourSeqNo = r.ourSeqNo.Next()
	r.lastSeqnoBump = now
	r.seqMu.Unlock()

	r.propagateStaticRoutes()
	return true
}

// tryForwardSeqNoRequest implements Branch C: forward to one neighbour
// (other than the requester) advertising a non-infinite route for the
// prefix, falling back to any neighbour at all if none is feasible.
func (r *Router) tryForwardSeqNoRequest(from peer.Peer, req babel.SeqNoRequest) {
	if req.RouterID.Equal(r.id) || req.HopCount <= 1 {
		return
	}

	var (
		nextHop peer.Peer
		found   bool
	)
	r.withReadOp(func() {
		entries := r.state.routeTbl.Entries(req.Prefix)
		for _, e := range entries {
			if !sameUnderlay(e.Neighbor(), from) && !e.Metric().IsInfinite() {
				nextHop, found = e.Neighbor(), true
				return
			}
		}
		for _, e := range entries {
			if !sameUnderlay(e.Neighbor(), from) {
				nextHop, found = e.Neighbor(), true
				return
			}
		}
	})
	if !found {
		return
	}

	forwarded := req
	forwarded.HopCount--
	if err := nextHop.SendControlPacket(babel.SeqNoRequestPacket(forwarded)); err == nil {
		r.metric.seqnoRequestsSent.Inc()
	}
}

func sameUnderlay(a, b peer.Peer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UnderlayIP() == b.UnderlayIP()
}
