// Package sourcetable implements the per-source feasibility distance store
// (spec.md §4.2): the best (metric, seqno) ever advertised for a given
// (subnet, router_id), used to reject looping or regressing announcements.
package sourcetable

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// SourceKey identifies a (prefix, origin) pair.
type SourceKey struct {
	Subnet   subnet.Subnet
	RouterID routerid.RouterID
}

// FeasibilityDistance is the best (metric, seqno) pair seen for a SourceKey.
type FeasibilityDistance struct {
	Metric metric.Metric
	SeqNo  seqno.SeqNo
}

// Table is the feasibility distance store. It is not internally
// synchronized: callers (the router engine) serialize access under their
// own write lock, per spec.md §4.6's single-writer discipline. This mirrors
// github.com/gaissmai/bart's own concurrency contract, which the routing
// table built on top of it also relies on.
type Table struct {
	entries map[SourceKey]FeasibilityDistance
	timers  *ttlcache.Cache[SourceKey, struct{}]
	expired chan SourceKey
	ttl     time.Duration
}

// New builds an empty Table whose entries expire after ttl of inactivity.
func New(ttl time.Duration) *Table {
	timers := ttlcache.New(
		ttlcache.WithTTL[SourceKey, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[SourceKey, struct{}](),
	)
	t := &Table{
		entries: make(map[SourceKey]FeasibilityDistance),
		timers:  timers,
		expired: make(chan SourceKey, 256),
		ttl:     ttl,
	}
	timers.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[SourceKey, struct{}]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		select {
		case t.expired <- item.Key():
		default:
		}
	})
	return t
}

// Run drives the background eviction goroutine until ctx is cancelled.
func (t *Table) Run(ctx context.Context) {
	go t.timers.Start()
	<-ctx.Done()
	t.timers.Stop()
}

// Expired yields SourceKeys whose inactivity timer fired. The router
// consumes these and removes the entry (spec.md §4.2).
func (t *Table) Expired() <-chan SourceKey {
	return t.expired
}

// Get returns the stored feasibility distance for key, if any.
func (t *Table) Get(key SourceKey) (FeasibilityDistance, bool) {
	fd, ok := t.entries[key]
	return fd, ok
}

// All iterates every (SourceKey, FeasibilityDistance) pair, for admin
// introspection.
func (t *Table) All(yield func(SourceKey, FeasibilityDistance) bool) {
	for k, fd := range t.entries {
		if !yield(k, fd) {
			return
		}
	}
}

// Insert stores fd for key and (re)arms its inactivity timer.
func (t *Table) Insert(key SourceKey, fd FeasibilityDistance) {
	t.entries[key] = fd
	t.timers.Set(key, struct{}{}, t.ttl)
}

// Remove deletes key from the table, if present.
func (t *Table) Remove(key SourceKey) {
	delete(t.entries, key)
	t.timers.Delete(key)
}

// IsUpdateFeasible reports whether an incoming update's (metric, seqno) for
// key's source is feasible: there is no prior entry, or the update strictly
// improves on it. Retractions (metric = Infinite) are always feasible.
func (t *Table) IsUpdateFeasible(key SourceKey, candidate FeasibilityDistance) bool {
	if candidate.Metric.IsInfinite() {
		return true
	}
	existing, ok := t.entries[key]
	if !ok {
		return true
	}
	return feasible(existing, candidate)
}

// RouteFeasible applies the same predicate to a stored route's distance.
func (t *Table) RouteFeasible(key SourceKey, m metric.Metric, s seqno.SeqNo) bool {
	return t.IsUpdateFeasible(key, FeasibilityDistance{Metric: m, SeqNo: s})
}

// feasible implements spec.md §4.2(b)/(c): strictly newer seqno, or equal
// seqno with a strictly better metric.
func feasible(existing, candidate FeasibilityDistance) bool {
	if candidate.SeqNo.Gt(existing.SeqNo) {
		return true
	}
	if candidate.SeqNo.Eq(existing.SeqNo) && candidate.Metric < existing.Metric {
		return true
	}
	return false
}
