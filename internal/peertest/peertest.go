// Package peertest provides a recording Peer implementation for router unit
// tests, analogous to the fake netlink/fetcher stand-ins the teacher daemon
// constructs in its own _test.go files.
package peertest

import (
	"net/netip"
	"sync"
	"time"

	"github.com/nyxmesh/meshrouter/internal/babel"
)

// Peer is an in-memory peer.Peer that records every packet it is sent.
type Peer struct {
	underlay netip.Addr
	overlay  netip.Addr

	mu            sync.Mutex
	linkCost      uint16
	lastHelloRecv time.Time
	lastIHURecv   time.Time

	Sent    []babel.ControlPacket
	SentLog chan babel.ControlPacket // optional: if non-nil, every send is also pushed here

	FailSend bool
}

// New builds a recording test peer.
func New(underlay, overlay netip.Addr) *Peer {
	return &Peer{underlay: underlay, overlay: overlay}
}

func (p *Peer) UnderlayIP() netip.Addr { return p.underlay }
func (p *Peer) OverlayIP() netip.Addr  { return p.overlay }

func (p *Peer) LinkCost() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.linkCost
}

func (p *Peer) SetLinkCost(c uint16) {
	p.mu.Lock()
	p.linkCost = c
	p.mu.Unlock()
}

func (p *Peer) TimeLastReceivedHello() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastHelloRecv
}

func (p *Peer) SetTimeLastReceivedHello(t time.Time) {
	p.mu.Lock()
	p.lastHelloRecv = t
	p.mu.Unlock()
}

func (p *Peer) TimeLastReceivedIHU() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastIHURecv
}

func (p *Peer) SetTimeLastReceivedIHU(t time.Time) {
	p.mu.Lock()
	p.lastIHURecv = t
	p.mu.Unlock()
}

func (p *Peer) SendControlPacket(pkt babel.ControlPacket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailSend {
		return errSendFailed
	}
	p.Sent = append(p.Sent, pkt)
	if p.SentLog != nil {
		select {
		case p.SentLog <- pkt:
		default:
		}
	}
	return nil
}

func (p *Peer) SendDataPacket(babel.DataPacket) error {
	return nil
}

// Updates returns the Update bodies sent so far, in order.
func (p *Peer) Updates() []babel.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []babel.Update
	for _, pkt := range p.Sent {
		if pkt.Kind == babel.KindUpdate {
			out = append(out, *pkt.Update)
		}
	}
	return out
}

// SeqNoRequests returns the SeqNoRequest bodies sent so far, in order.
func (p *Peer) SeqNoRequests() []babel.SeqNoRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []babel.SeqNoRequest
	for _, pkt := range p.Sent {
		if pkt.Kind == babel.KindSeqNoRequest {
			out = append(out, *pkt.SeqNoRequest)
		}
	}
	return out
}
