package router

import (
	"fmt"
	"strings"

	"github.com/nyxmesh/meshrouter/internal/routingtable"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
)

// PrintSelectedRoutes renders every currently selected route, one per line,
// for operator inspection.
func (r *Router) PrintSelectedRoutes() string {
	var b strings.Builder
	r.withReadOp(func() {
		r.state.routeTbl.All(func(key routingtable.RouteKey, entry routingtable.RouteEntry) bool {
			if entry.Selected() {
				fmt.Fprintf(&b, "%s via %s metric=%d seqno=%d\n",
					key.Subnet, key.Neighbor.OverlayIP(), entry.Metric(), entry.SeqNo())
			}
			return true
		})
	})
	return b.String()
}

// PrintFallbackRoutes renders every non-selected route entry, one per line.
func (r *Router) PrintFallbackRoutes() string {
	var b strings.Builder
	r.withReadOp(func() {
		r.state.routeTbl.All(func(key routingtable.RouteKey, entry routingtable.RouteEntry) bool {
			if !entry.Selected() {
				fmt.Fprintf(&b, "%s via %s metric=%d seqno=%d\n",
					key.Subnet, key.Neighbor.OverlayIP(), entry.Metric(), entry.SeqNo())
			}
			return true
		})
	})
	return b.String()
}

// PrintSourceTable renders the feasibility distance store, one entry per
// line.
func (r *Router) PrintSourceTable() string {
	var b strings.Builder
	r.withReadOp(func() {
		r.state.sourceTbl.All(func(key sourcetable.SourceKey, fd sourcetable.FeasibilityDistance) bool {
			fmt.Fprintf(&b, "%s origin=%s metric=%d seqno=%d\n", key.Subnet, key.RouterID, fd.Metric, fd.SeqNo)
			return true
		})
	})
	return b.String()
}
