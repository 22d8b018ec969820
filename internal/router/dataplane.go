package router

import (
	"fmt"

	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/routingtable"
)

// RoutePacket delivers pkt locally (if its destination is this node's own
// tunnel subnet) or forwards it to the selected next hop for the
// longest-matching subnet (spec.md §5). It returns ErrNoRoute if neither
// applies.
func (r *Router) RoutePacket(pkt babel.DataPacket) error {
	if r.tunSubnet.ContainsAddr(pkt.Destination) {
		if err := r.tun.DeliverDataPacket(pkt); err != nil {
			r.metric.dataPacketsDropped.WithLabelValues("tun_delivery_failed").Inc()
			return fmt.Errorf("router: delivering local packet: %w", err)
		}
		return nil
	}

	var (
		entry routingtable.RouteEntry
		ok    bool
	)
	r.withReadOp(func() {
		entry, ok = r.state.routeTbl.LookupSelected(pkt.Destination)
	})
	if !ok {
		r.metric.dataPacketsDropped.WithLabelValues("no_route").Inc()
		return ErrNoRoute
	}

	if err := entry.Neighbor().SendDataPacket(pkt); err != nil {
		r.metric.dataPacketsDropped.WithLabelValues("send_failed").Inc()
		return fmt.Errorf("router: forwarding to next hop: %w", err)
	}
	r.metric.dataPacketsRouted.Inc()
	return nil
}
