package peer_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/peer"
)

func TestHandleControlSendIsNonBlocking(t *testing.T) {
	controlCh := make(chan babel.ControlPacket, 1)
	dataCh := make(chan babel.DataPacket, 1)
	h := peer.NewHandle(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("400::1"), controlCh, dataCh)

	require.NoError(t, h.SendControlPacket(babel.HelloPacket(babel.Hello{Interval: 4})))
	// channel is now full; a second send must not block, and should report
	// an error rather than panicking or hanging.
	done := make(chan error, 1)
	go func() { done <- h.SendControlPacket(babel.HelloPacket(babel.Hello{Interval: 4})) }()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("SendControlPacket blocked on a full channel")
	}
}

func TestHandleFieldAccessors(t *testing.T) {
	h := peer.NewHandle(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("400::1"), make(chan babel.ControlPacket, 1), make(chan babel.DataPacket, 1))

	h.SetLinkCost(42)
	assert.EqualValues(t, 42, h.LinkCost())

	now := time.Now()
	h.SetTimeLastReceivedHello(now)
	assert.Equal(t, now, h.TimeLastReceivedHello())

	h.SetTimeLastReceivedIHU(now)
	assert.Equal(t, now, h.TimeLastReceivedIHU())
}
