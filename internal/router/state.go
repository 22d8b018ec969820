package router

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nyxmesh/meshrouter/internal/destkeymap"
	"github.com/nyxmesh/meshrouter/internal/peer"
	"github.com/nyxmesh/meshrouter/internal/routingtable"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// state holds every piece of mutable routing state the engine owns. All of
// it is protected by a single RWMutex (spec.md §4.6/§9: the "RwLock with
// batched writes" consistency strategy), mirroring the concurrency contract
// github.com/gaissmai/bart's own Table documents for itself: safe for
// concurrent readers, but writers must be externally serialized.
//
// Reads that only need a point-in-time snapshot (data-plane forwarding,
// admin introspection) take the read lock; every mutation - applying an
// Update, expiring a route, registering a peer - takes the write lock.
type state struct {
	mu sync.RWMutex

	peers        map[netip.Addr]peer.Peer
	sourceTbl    *sourcetable.Table
	routeTbl     *routingtable.Table
	destKeys     *destkeymap.Map
	staticRoutes map[subnet.Subnet]struct{}
}

func newState(sourceTTL, routeTTL time.Duration, destKeys *destkeymap.Map) *state {
	return &state{
		peers:        make(map[netip.Addr]peer.Peer),
		sourceTbl:    sourcetable.New(sourceTTL),
		routeTbl:     routingtable.New(routeTTL),
		destKeys:     destKeys,
		staticRoutes: make(map[subnet.Subnet]struct{}),
	}
}
