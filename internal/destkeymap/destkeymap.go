// Package destkeymap binds overlay subnets and router public keys to the
// shared secret the crypto layer (internal/cryptocollab) derived for that
// peer, so the data plane can look up "what key do I encrypt this packet
// with" by either the destination address or the owning node's identity.
package destkeymap

import (
	"net/netip"
	"sync"

	"github.com/gaissmai/bart"
	"golang.org/x/sync/singleflight"

	"github.com/nyxmesh/meshrouter/internal/cryptocollab"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// Entry is the public key and shared secret for one mesh peer.
type Entry struct {
	PublicKey    routerid.PublicKey
	SharedSecret cryptocollab.SharedSecret
}

// Map resolves an overlay destination to the key material needed to talk to
// it. It is read-mostly: lookups happen on every data-plane packet, while
// inserts happen when an Update passes the router's filters, so a dedicated
// RWMutex is used here instead of sharing the router's single write lock.
type Map struct {
	mu       sync.RWMutex
	byPrefix bart.Table[Entry]
	byPubKey map[routerid.PublicKey]Entry
	crypto   cryptocollab.Provider
	inflight singleflight.Group
}

// New builds an empty Map. crypto is consulted to lazily derive a shared
// secret on first lookup for a public key the map has not seen yet.
func New(crypto cryptocollab.Provider) *Map {
	return &Map{
		byPubKey: make(map[routerid.PublicKey]Entry),
		crypto:   crypto,
	}
}

// Insert records the key material for sn, owned by pk, with a
// caller-supplied secret (used when the secret is already known, e.g. from
// a prior lookup or an out-of-band handshake result).
func (m *Map) Insert(sn subnet.Subnet, pk routerid.PublicKey, secret cryptocollab.SharedSecret) {
	entry := Entry{PublicKey: pk, SharedSecret: secret}
	m.mu.Lock()
	m.byPrefix.Insert(sn.Prefix(), entry)
	m.byPubKey[pk] = entry
	m.mu.Unlock()
}

// Remove drops all key material for sn.
func (m *Map) Remove(sn subnet.Subnet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.byPrefix.Get(sn.Prefix())
	if !ok {
		return
	}
	m.byPrefix.Delete(sn.Prefix())
	delete(m.byPubKey, entry.PublicKey)
}

// LookupByIP resolves the key material for the subnet that longest-match
// covers ip.
func (m *Map) LookupByIP(ip netip.Addr) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byPrefix.Lookup(ip)
}

// EnsureDerived resolves the key material for pk (deriving and caching it
// via the crypto provider on first sight) and associates it with sn, so a
// later data-plane lookup by destination address finds it too. This is the
// path the router drives from an incoming Update's (subnet, router_id).
func (m *Map) EnsureDerived(sn subnet.Subnet, pk routerid.PublicKey) error {
	entry, err := m.LookupByPublicKey(pk)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.byPrefix.Insert(sn.Prefix(), entry)
	m.mu.Unlock()
	return nil
}

// LookupByPublicKey resolves the key material for pk, deriving and caching
// it via the crypto provider if this is the first lookup for pk.
func (m *Map) LookupByPublicKey(pk routerid.PublicKey) (Entry, error) {
	m.mu.RLock()
	entry, ok := m.byPubKey[pk]
	m.mu.RUnlock()
	if ok {
		return entry, nil
	}

	// Concurrent first-lookups for the same still-unresolved key collapse
	// into a single crypto.SharedSecret call.
	v, err, _ := m.inflight.Do(pk.String(), func() (any, error) {
		secret, err := m.crypto.SharedSecret(pk)
		if err != nil {
			return Entry{}, err
		}
		e := Entry{PublicKey: pk, SharedSecret: secret}
		m.mu.Lock()
		m.byPubKey[pk] = e
		m.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}
