package routingtable_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/peertest"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/routingtable"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

func testSubnet(t *testing.T) subnet.Subnet {
	t.Helper()
	return subnet.MustNew(netip.MustParseAddr("400::"), 64)
}

func testSource(t *testing.T, sn subnet.Subnet, id byte) sourcetable.SourceKey {
	t.Helper()
	return sourcetable.SourceKey{Subnet: sn, RouterID: routerid.RouterID{id}}
}

func TestInsertAndGet(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn := testSubnet(t)
	nb := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	key := routingtable.RouteKey{Subnet: sn, Neighbor: nb}
	entry := routingtable.NewRouteEntry(testSource(t, sn, 1), nb, metric.Metric(10), seqno.SeqNo(1), false)

	tbl.Insert(key, entry)

	got, ok := tbl.Get(key)
	require.True(t, ok)
	assert.Equal(t, metric.Metric(10), got.Metric())
}

func TestInsertSelectedPinsIndexZero(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn := testSubnet(t)
	nb1 := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	nb2 := peertest.New(netip.MustParseAddr("fe80::2"), netip.MustParseAddr("500::2"))
	key1 := routingtable.RouteKey{Subnet: sn, Neighbor: nb1}
	key2 := routingtable.RouteKey{Subnet: sn, Neighbor: nb2}

	tbl.Insert(key1, routingtable.NewRouteEntry(testSource(t, sn, 1), nb1, metric.Metric(20), seqno.SeqNo(1), false))
	tbl.Insert(key2, routingtable.NewRouteEntry(testSource(t, sn, 2), nb2, metric.Metric(10), seqno.SeqNo(1), true))

	entries := tbl.Entries(sn)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Selected())
	assert.Equal(t, metric.Metric(10), entries[0].Metric())

	addr := netip.MustParseAddr("400::42")
	selected, ok := tbl.LookupSelected(addr)
	require.True(t, ok)
	assert.Equal(t, metric.Metric(10), selected.Metric())
}

func TestSelectRouteUnselectsPrevious(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn := testSubnet(t)
	nb1 := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	nb2 := peertest.New(netip.MustParseAddr("fe80::2"), netip.MustParseAddr("500::2"))
	key1 := routingtable.RouteKey{Subnet: sn, Neighbor: nb1}
	key2 := routingtable.RouteKey{Subnet: sn, Neighbor: nb2}

	tbl.Insert(key1, routingtable.NewRouteEntry(testSource(t, sn, 1), nb1, metric.Metric(20), seqno.SeqNo(1), true))
	tbl.Insert(key2, routingtable.NewRouteEntry(testSource(t, sn, 2), nb2, metric.Metric(10), seqno.SeqNo(1), false))

	require.True(t, tbl.SelectRoute(key2))

	e1, ok := tbl.Get(key1)
	require.True(t, ok)
	assert.False(t, e1.Selected())

	e2, ok := tbl.Get(key2)
	require.True(t, ok)
	assert.True(t, e2.Selected())

	addr := netip.MustParseAddr("400::1")
	selected, ok := tbl.LookupSelected(addr)
	require.True(t, ok)
	assert.Equal(t, metric.Metric(10), selected.Metric())
}

func TestLookupSelectedIgnoresInfiniteMetric(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn := testSubnet(t)
	nb := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	key := routingtable.RouteKey{Subnet: sn, Neighbor: nb}
	tbl.Insert(key, routingtable.NewRouteEntry(testSource(t, sn, 1), nb, metric.Infinite, seqno.SeqNo(1), true))

	_, ok := tbl.LookupSelected(netip.MustParseAddr("400::1"))
	assert.False(t, ok)
}

func TestRemoveSwapRemoveAndEmptyBucketDeletesPrefix(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn := testSubnet(t)
	nb1 := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	nb2 := peertest.New(netip.MustParseAddr("fe80::2"), netip.MustParseAddr("500::2"))
	key1 := routingtable.RouteKey{Subnet: sn, Neighbor: nb1}
	key2 := routingtable.RouteKey{Subnet: sn, Neighbor: nb2}

	tbl.Insert(key1, routingtable.NewRouteEntry(testSource(t, sn, 1), nb1, metric.Metric(20), seqno.SeqNo(1), false))
	tbl.Insert(key2, routingtable.NewRouteEntry(testSource(t, sn, 2), nb2, metric.Metric(10), seqno.SeqNo(1), false))

	_, ok := tbl.Remove(key1)
	require.True(t, ok)
	assert.Len(t, tbl.Entries(sn), 1)

	_, ok = tbl.Remove(key2)
	require.True(t, ok)
	assert.Empty(t, tbl.Entries(sn))

	_, ok = tbl.Remove(key2)
	assert.False(t, ok)
}

func TestRemovePeerDropsAllItsEntries(t *testing.T) {
	tbl := routingtable.New(time.Minute)
	sn1 := subnet.MustNew(netip.MustParseAddr("400::"), 64)
	sn2 := subnet.MustNew(netip.MustParseAddr("401::"), 64)
	nb := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	other := peertest.New(netip.MustParseAddr("fe80::2"), netip.MustParseAddr("500::2"))

	tbl.Insert(routingtable.RouteKey{Subnet: sn1, Neighbor: nb}, routingtable.NewRouteEntry(testSource(t, sn1, 1), nb, metric.Metric(5), seqno.SeqNo(1), false))
	tbl.Insert(routingtable.RouteKey{Subnet: sn2, Neighbor: nb}, routingtable.NewRouteEntry(testSource(t, sn2, 1), nb, metric.Metric(5), seqno.SeqNo(1), false))
	tbl.Insert(routingtable.RouteKey{Subnet: sn1, Neighbor: other}, routingtable.NewRouteEntry(testSource(t, sn1, 2), other, metric.Metric(9), seqno.SeqNo(1), false))

	touched := tbl.RemovePeer(nb)
	assert.Len(t, touched, 2)
	assert.Len(t, tbl.Entries(sn1), 1)
	assert.Empty(t, tbl.Entries(sn2))
}

func TestExpiryNotifiesKey(t *testing.T) {
	tbl := routingtable.New(20 * time.Millisecond)
	sn := testSubnet(t)
	nb := peertest.New(netip.MustParseAddr("fe80::1"), netip.MustParseAddr("500::1"))
	key := routingtable.RouteKey{Subnet: sn, Neighbor: nb}
	tbl.Insert(key, routingtable.NewRouteEntry(testSource(t, sn, 1), nb, metric.Metric(5), seqno.SeqNo(1), true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tbl.Run(ctx)

	select {
	case got := <-tbl.Expired():
		assert.Equal(t, key, got)
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry notification")
	}
}
