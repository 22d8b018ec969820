// Package routingtable implements the longest-prefix-match routing table
// (spec.md §4.3): for each IPv6 subnet, the set of RouteEntries advertised
// by its neighbours, with the selected entry (if any) pinned at index 0 for
// O(1) data-plane lookups.
//
// The table is backed by github.com/gaissmai/bart, the pack's dedicated
// balanced routing table implementation. Like bart itself, Table is safe for
// concurrent readers but requires external locking against concurrent
// writers; the router engine provides that lock (spec.md §4.6).
package routingtable

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/gaissmai/bart"
	"github.com/jellydator/ttlcache/v3"

	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/peer"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// RouteKey identifies one advertising neighbour for a subnet.
type RouteKey struct {
	Subnet   subnet.Subnet
	Neighbor peer.Peer
}

// RouteEntry is one neighbour's advertisement of a subnet. Fields are
// unexported; entries are replaced wholesale rather than mutated in place,
// matching the reference source's `entries[idx] = entry` overwrite.
type RouteEntry struct {
	source   sourcetable.SourceKey
	neighbor peer.Peer
	metric   metric.Metric
	seqno    seqno.SeqNo
	selected bool
}

// NewRouteEntry builds a RouteEntry.
func NewRouteEntry(source sourcetable.SourceKey, neighbor peer.Peer, m metric.Metric, sq seqno.SeqNo, selected bool) RouteEntry {
	return RouteEntry{source: source, neighbor: neighbor, metric: m, seqno: sq, selected: selected}
}

func (e RouteEntry) Source() sourcetable.SourceKey { return e.source }
func (e RouteEntry) Neighbor() peer.Peer           { return e.neighbor }
func (e RouteEntry) Metric() metric.Metric         { return e.metric }
func (e RouteEntry) SeqNo() seqno.SeqNo            { return e.seqno }
func (e RouteEntry) Selected() bool                { return e.selected }

func (e RouteEntry) WithSeqNo(s seqno.SeqNo) RouteEntry { e.seqno = s; return e }
func (e RouteEntry) WithSelected(sel bool) RouteEntry   { e.selected = sel; return e }

// Phase distinguishes the two inactivity-expiry stages of spec.md §4.3.
type Phase int

const (
	// PhaseRetract fires on the first inactivity period: the router sets
	// the entry's metric to Infinite and propagates a retraction.
	PhaseRetract Phase = iota
	// PhaseRemove fires on the second inactivity period, after the entry
	// was retracted: the router deletes the entry outright.
	PhaseRemove
)

// Table is the routing table.
type Table struct {
	bart   bart.Table[[]RouteEntry]
	timers *ttlcache.Cache[RouteKey, struct{}]
	ttl    time.Duration
	// expired carries only the key: the phase is computed by the router at
	// consumption time by inspecting the entry's current metric. Phase is
	// exported for callers that want to classify after reading the entry
	// themselves.
	expired chan RouteKey
}

// New builds an empty Table whose entries expire after ttl of inactivity.
func New(ttl time.Duration) *Table {
	timers := ttlcache.New(
		ttlcache.WithTTL[RouteKey, struct{}](ttl),
		ttlcache.WithDisableTouchOnHit[RouteKey, struct{}](),
	)
	t := &Table{
		timers:  timers,
		ttl:     ttl,
		expired: make(chan RouteKey, 256),
	}
	timers.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[RouteKey, struct{}]) {
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

// Expired yields RouteKeys whose inactivity timer fired.
func (t *Table) Expired() <-chan RouteKey {
	return t.expired
}

// ArmTimer (re)starts key's inactivity timer.
func (t *Table) ArmTimer(key RouteKey) {
	t.timers.Set(key, struct{}{}, t.ttl)
}

// Get returns the RouteEntry for key, if present.
func (t *Table) Get(key RouteKey) (RouteEntry, bool) {
	entries, ok := t.bart.Get(key.Subnet.Prefix())
	if !ok {
		return RouteEntry{}, false
	}
	for _, e := range entries {
		if sameNeighbor(e.neighbor, key.Neighbor) {
			return e, true
		}
	}
	return RouteEntry{}, false
}

// Insert replaces the existing entry for key's (subnet, neighbour) or
// appends a new one; if entry is selected, it is swapped to index 0 so
// selected-route lookups stay O(1). The entry's inactivity timer is armed.
func (t *Table) Insert(key RouteKey, entry RouteEntry) {
	t.bart.Update(key.Subnet.Prefix(), func(entries []RouteEntry, _ bool) []RouteEntry {
		idx := -1
		for i, e := range entries {
			if sameNeighbor(e.neighbor, key.Neighbor) {
				idx = i
				break
			}
		}
		if idx == -1 {
			entries = append(entries, entry)
			idx = len(entries) - 1
		} else {
			entries[idx] = entry
		}
		if entry.selected && idx != 0 {
			entries[0], entries[idx] = entries[idx], entries[0]
		}
		return entries
	})
	t.ArmTimer(key)
}

// Remove deletes the entry for key, if present, and returns it. If removing
// it empties the subnet's entry list, the subnet itself is removed from the
// underlying trie.
func (t *Table) Remove(key RouteKey) (RouteEntry, bool) {
	var removed RouteEntry
	var found bool
	entries, ok := t.bart.Get(key.Subnet.Prefix())
	if !ok {
		return removed, false
	}
	for i, e := range entries {
		if sameNeighbor(e.neighbor, key.Neighbor) {
			removed, found = e, true
			last := len(entries) - 1
			entries[i] = entries[last]
			entries = entries[:last]
			break
		}
	}
	if !found {
		return removed, false
	}
	if len(entries) == 0 {
		t.bart.Delete(key.Subnet.Prefix())
	} else {
		t.bart.Insert(key.Subnet.Prefix(), entries)
	}
	t.timers.Delete(key)
	return removed, true
}

// RemovePeer drops every RouteEntry advertised by p, across all subnets.
// Returns the subnets that had at least one entry removed.
func (t *Table) RemovePeer(p peer.Peer) []subnet.Subnet {
	var touched []subnet.Subnet
	for pfx, entries := range t.bart.All() {
		filtered := entries[:0:0]
		changed := false
		for _, e := range entries {
			if sameNeighbor(e.neighbor, p) {
				changed = true
				t.timers.Delete(RouteKey{Subnet: mustSubnet(pfx), Neighbor: e.neighbor})
				continue
			}
			filtered = append(filtered, e)
		}
		if !changed {
			continue
		}
		sn := mustSubnet(pfx)
		touched = append(touched, sn)
		if len(filtered) == 0 {
			t.bart.Delete(pfx)
		} else {
			t.bart.Insert(pfx, filtered)
		}
	}
	return touched
}

// LookupSelected returns the selected, non-infinite RouteEntry for ip via
// longest-prefix match, if one exists.
func (t *Table) LookupSelected(ip netip.Addr) (RouteEntry, bool) {
	entries, ok := t.bart.Lookup(ip)
	if !ok {
		return RouteEntry{}, false
	}
	if len(entries) == 0 {
		slog.Warn("empty route entry list, this is a bug", "ip", ip.String())
		return RouteEntry{}, false
	}
	head := entries[0]
	if head.selected && !head.metric.IsInfinite() {
		return head, true
	}
	return RouteEntry{}, false
}

// LookupFallbacks returns all non-selected entries covering ip.
func (t *Table) LookupFallbacks(ip netip.Addr) []RouteEntry {
	entries, ok := t.bart.Lookup(ip)
	if !ok {
		return nil
	}
	var out []RouteEntry
	for _, e := range entries {
		if !e.selected {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a copy of every RouteEntry stored for sn (exact match, not
// longest-prefix).
func (t *Table) Entries(sn subnet.Subnet) []RouteEntry {
	entries, ok := t.bart.Get(sn.Prefix())
	if !ok {
		return nil
	}
	out := make([]RouteEntry, len(entries))
	copy(out, entries)
	return out
}

// All iterates every (RouteKey, RouteEntry) pair in the table.
func (t *Table) All(yield func(RouteKey, RouteEntry) bool) {
	for pfx, entries := range t.bart.All() {
		sn := mustSubnet(pfx)
		for _, e := range entries {
			if !yield((RouteKey{Subnet: sn, Neighbor: e.neighbor}), e) {
				return
			}
		}
	}
}

// SelectRoute marks the entry for key selected and unselects any previously
// selected entry for the same subnet, maintaining the at-most-one-selected
// invariant and the index-0 pinning.
func (t *Table) SelectRoute(key RouteKey) bool {
	var mutated bool
	t.bart.Update(key.Subnet.Prefix(), func(entries []RouteEntry, ok bool) []RouteEntry {
		if !ok {
			return entries
		}
		idx := -1
		for i, e := range entries {
			if sameNeighbor(e.neighbor, key.Neighbor) {
				idx = i
			}
			if e.selected && !sameNeighbor(e.neighbor, key.Neighbor) {
				entries[i] = e.WithSelected(false)
			}
		}
		if idx == -1 {
			return entries
		}
		entries[idx] = entries[idx].WithSelected(true)
		if idx != 0 {
			entries[0], entries[idx] = entries[idx], entries[0]
		}
		mutated = true
		return entries
	})
	return mutated
}

// UnselectRoute clears the selected flag for key's entry, if present.
func (t *Table) UnselectRoute(key RouteKey) bool {
	var mutated bool
	t.bart.Update(key.Subnet.Prefix(), func(entries []RouteEntry, ok bool) []RouteEntry {
		if !ok {
			return entries
		}
		for i, e := range entries {
			if sameNeighbor(e.neighbor, key.Neighbor) && e.selected {
				entries[i] = e.WithSelected(false)
				mutated = true
			}
		}
		return entries
	})
	return mutated
}

// UpdateEntry replaces the stored metric/seqno/source for key's entry.
func (t *Table) UpdateEntry(key RouteKey, m metric.Metric, sq seqno.SeqNo, source sourcetable.SourceKey) bool {
	var mutated bool
	t.bart.Update(key.Subnet.Prefix(), func(entries []RouteEntry, ok bool) []RouteEntry {
		if !ok {
			return entries
		}
		for i, e := range entries {
			if sameNeighbor(e.neighbor, key.Neighbor) {
				e.metric = m
				e.seqno = sq
				e.source = source
				entries[i] = e
				mutated = true
			}
		}
		return entries
	})
	return mutated
}

func sameNeighbor(a, b peer.Peer) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.UnderlayIP() == b.UnderlayIP()
}

func mustSubnet(p netip.Prefix) subnet.Subnet {
	sn, err := subnet.FromPrefix(p)
	if err != nil {
		// bart never hands back a prefix it wasn't given through our own
		// Subnet.Prefix(), which is always canonical; this would be a bug
		// in this package, not bad external input.
		panic(err)
	}
	return sn
}
