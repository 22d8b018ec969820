// Package cryptocollab declares the boundary this router shares with the
// node's key-exchange/encryption layer. That layer is out of scope for this
// module (spec.md Non-goals): it owns key derivation and wire encryption,
// and hands the router only the derived per-peer secret it needs to
// populate the destination key map.
package cryptocollab

import "github.com/nyxmesh/meshrouter/internal/routerid"

// SharedSecret is an opaque per-peer symmetric secret, as produced by the
// node's key-exchange implementation.
type SharedSecret [32]byte

// Provider resolves the shared secret for a peer's public key. Its
// implementation lives entirely outside this module.
type Provider interface {
	SharedSecret(pk routerid.PublicKey) (SharedSecret, error)
}
