// Package peer defines the Peer collaborator interface (spec.md §6) and a
// concrete, cheaply-shared handle implementation the router can stash
// inside RouteEntries without an ownership tangle (spec.md §9 "Peer
// handles").
package peer

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nyxmesh/meshrouter/internal/babel"
)

// Peer is the router's view of a directly-connected neighbour. The
// transport that owns the underlying connection and the router both hold a
// reference to the same Peer; equality is by identity (underlay address),
// matching spec.md §9.
type Peer interface {
	UnderlayIP() netip.Addr
	OverlayIP() netip.Addr

	LinkCost() uint16
	SetLinkCost(uint16)

	TimeLastReceivedHello() time.Time
	SetTimeLastReceivedHello(time.Time)

	TimeLastReceivedIHU() time.Time
	SetTimeLastReceivedIHU(time.Time)

	SendControlPacket(babel.ControlPacket) error
	SendDataPacket(babel.DataPacket) error
}

// Handle is the default Peer implementation: a reference-counted-by-pointer
// value type backed by transport-provided send channels. Control sends are
// non-blocking against an unbounded channel (spec.md §5); data sends are
// backpressured and drop the packet on a full channel.
type Handle struct {
	underlay netip.Addr
	overlay  netip.Addr

	mu               sync.Mutex
	linkCost         uint16
	lastHelloRecv    time.Time
	lastIHURecv      time.Time

	controlCh chan<- babel.ControlPacket
	dataCh    chan<- babel.DataPacket
}

// NewHandle builds a Peer handle bound to transport-owned send channels.
// controlCh must be effectively unbounded (or drained promptly) so that
// SendControlPacket never blocks the caller; dataCh may be bounded, in which
// case SendDataPacket drops packets on backpressure rather than blocking.
func NewHandle(underlay, overlay netip.Addr, controlCh chan<- babel.ControlPacket, dataCh chan<- babel.DataPacket) *Handle {
	return &Handle{
		underlay:  underlay,
		overlay:   overlay,
		controlCh: controlCh,
		dataCh:    dataCh,
	}
}

func (h *Handle) UnderlayIP() netip.Addr { return h.underlay }
func (h *Handle) OverlayIP() netip.Addr  { return h.overlay }

func (h *Handle) LinkCost() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.linkCost
}

func (h *Handle) SetLinkCost(cost uint16) {
	h.mu.Lock()
	h.linkCost = cost
	h.mu.Unlock()
}

func (h *Handle) TimeLastReceivedHello() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHelloRecv
}

func (h *Handle) SetTimeLastReceivedHello(t time.Time) {
	h.mu.Lock()
	h.lastHelloRecv = t
	h.mu.Unlock()
}

func (h *Handle) TimeLastReceivedIHU() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastIHURecv
}

func (h *Handle) SetTimeLastReceivedIHU(t time.Time) {
	h.mu.Lock()
	h.lastIHURecv = t
	h.mu.Unlock()
}

func (h *Handle) SendControlPacket(pkt babel.ControlPacket) error {
	select {
	case h.controlCh <- pkt:
		return nil
	default:
		// The channel is meant to be unbounded; a full channel here means
		// the transport stopped draining it. Don't block the writer lock.
		return errFullControlChannel
	}
}

func (h *Handle) SendDataPacket(pkt babel.DataPacket) error {
	select {
	case h.dataCh <- pkt:
		return nil
	default:
		return errDataChannelFull
	}
}
