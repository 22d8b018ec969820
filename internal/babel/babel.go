// Package babel defines the typed control and data messages the router
// exchanges with its peers. The wire framing that turns these into bytes is
// the transport's concern (spec.md §1); this package only carries the
// decoded values across the collaborator boundary described in spec.md §6.
package babel

import (
	"net/netip"

	"github.com/nyxmesh/meshrouter/internal/metric"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/seqno"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// Hello announces liveness and the sender's hello interval.
type Hello struct {
	Interval uint16
}

// IHU ("I Heard You") answers a Hello, carrying the interval the IHU itself
// should be repeated at and the overlay address of its intended recipient.
type IHU struct {
	Interval uint16
	Address  netip.Addr
}

// Update announces (or retracts, when Metric is metric.Infinite) a route to
// Subnet, originated by RouterID, at the given distance.
type Update struct {
	Interval uint16
	SeqNo    seqno.SeqNo
	Metric   metric.Metric
	Subnet   subnet.Subnet
	RouterID routerid.RouterID
}

// IsRetraction reports whether this Update withdraws a route.
func (u Update) IsRetraction() bool {
	return u.Metric.IsInfinite()
}

// SeqNoRequest asks the recipient (or, if forwarded, some further node) to
// bump its sequence number for Prefix so a stale route can be refreshed.
type SeqNoRequest struct {
	SeqNo    seqno.SeqNo
	RouterID routerid.RouterID
	Prefix   subnet.Subnet
	HopCount uint8
}

// ControlPacketKind tags which variant a ControlPacket carries.
type ControlPacketKind uint8

const (
	KindHello ControlPacketKind = iota + 1
	KindIHU
	KindUpdate
	KindSeqNoRequest
)

// ControlPacket is the envelope the router sends to / receives from peers.
// Exactly one of the pointer fields matching Kind is populated; this mirrors
// the tagged TLV body described in spec.md §6 without requiring callers to
// do a wire-level type switch themselves.
type ControlPacket struct {
	Kind         ControlPacketKind
	Hello        *Hello
	IHU          *IHU
	Update       *Update
	SeqNoRequest *SeqNoRequest
}

func HelloPacket(h Hello) ControlPacket             { return ControlPacket{Kind: KindHello, Hello: &h} }
func IHUPacket(i IHU) ControlPacket                 { return ControlPacket{Kind: KindIHU, IHU: &i} }
func UpdatePacket(u Update) ControlPacket           { return ControlPacket{Kind: KindUpdate, Update: &u} }
func SeqNoRequestPacket(s SeqNoRequest) ControlPacket {
	return ControlPacket{Kind: KindSeqNoRequest, SeqNoRequest: &s}
}

// DataPacket is an overlay IPv6 payload, either forwarded toward a next-hop
// peer or delivered locally to the TUN collaborator.
type DataPacket struct {
	Source      netip.Addr
	Destination netip.Addr
	Payload     []byte
}
