// Package tuncollab declares the boundary this router shares with the
// node's local TUN/encryption data plane (spec.md Non-goals): decrypting
// and injecting a DataPacket into the kernel, or encrypting and framing one
// read off the TUN device, both live outside this module.
package tuncollab

import "github.com/nyxmesh/meshrouter/internal/babel"

// Sink receives data packets the router has decided to deliver locally
// (destination is this node's own overlay address) instead of forwarding.
type Sink interface {
	DeliverDataPacket(pkt babel.DataPacket) error
}
