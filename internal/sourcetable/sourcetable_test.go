package sourcetable_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/sourcetable"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

func testKey(t *testing.T) sourcetable.SourceKey {
	t.Helper()
	sn := subnet.MustNew(netip.MustParseAddr("400::"), 64)
	return sourcetable.SourceKey{Subnet: sn, RouterID: routerid.RouterID{1, 2, 3}}
}

func TestFeasibilityNoExistingEntry(t *testing.T) {
	tbl := sourcetable.New(time.Minute)
	key := testKey(t)
	assert.True(t, tbl.IsUpdateFeasible(key, sourcetable.FeasibilityDistance{Metric: 10, SeqNo: 1}))
}

func TestFeasibilityNewerSeqNo(t *testing.T) {
	tbl := sourcetable.New(time.Minute)
	key := testKey(t)
	tbl.Insert(key, sourcetable.FeasibilityDistance{Metric: 10, SeqNo: 1})

	assert.True(t, tbl.IsUpdateFeasible(key, sourcetable.FeasibilityDistance{Metric: 20, SeqNo: 2}))
}

func TestFeasibilitySameSeqNoBetterMetric(t *testing.T) {
	tbl := sourcetable.New(time.Minute)
	key := testKey(t)
	tbl.Insert(key, sourcetable.FeasibilityDistance{Metric: 10, SeqNo: 1})

	assert.True(t, tbl.IsUpdateFeasible(key, sourcetable.FeasibilityDistance{Metric: 5, SeqNo: 1}))
	assert.False(t, tbl.IsUpdateFeasible(key, sourcetable.FeasibilityDistance{Metric: 20, SeqNo: 1}))
}

func TestRetractionAlwaysFeasible(t *testing.T) {
	tbl := sourcetable.New(time.Minute)
	key := testKey(t)
	tbl.Insert(key, sourcetable.FeasibilityDistance{Metric: 10, SeqNo: 5})

	assert.True(t, tbl.IsUpdateFeasible(key, sourcetable.FeasibilityDistance{Metric: metric.Infinite, SeqNo: 1}))
}

func TestExpirySink(t *testing.T) {
	tbl := sourcetable.New(20 * time.Millisecond)
	key := testKey(t)
	tbl.Insert(key, sourcetable.FeasibilityDistance{Metric: 10, SeqNo: 1})

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

func TestGetRemove(t *testing.T) {
	tbl := sourcetable.New(time.Minute)
	key := testKey(t)
	tbl.Insert(key, sourcetable.FeasibilityDistance{Metric: 1, SeqNo: seqno.SeqNo(1)})

	fd, ok := tbl.Get(key)
	require.True(t, ok)
	assert.Equal(t, metric.Metric(1), fd.Metric)

	tbl.Remove(key)
	_, ok = tbl.Get(key)
	assert.False(t, ok)
}
