// Package subnet implements the IPv6 prefix type shared by the routing
// table, source table and destination key map. It wraps netip.Prefix so it
// plugs directly into github.com/gaissmai/bart's longest-prefix-match table.
package subnet

import (
	"fmt"
	"net/netip"
)

// Subnet is an IPv6 address/prefix-length pair, always stored in canonical
// (network) form.
type Subnet struct {
	prefix netip.Prefix
}

// New builds a canonical Subnet from addr/prefixLen. addr must be an IPv6
// address; prefixLen must be in [0, 128].
func New(addr netip.Addr, prefixLen int) (Subnet, error) {
	if !addr.Is6() || addr.Is4In6() {
		return Subnet{}, fmt.Errorf("subnet: address %s is not IPv6", addr)
	}
	if prefixLen < 0 || prefixLen > 128 {
		return Subnet{}, fmt.Errorf("subnet: invalid prefix length %d", prefixLen)
	}
	p := netip.PrefixFrom(addr, prefixLen)
	return Subnet{prefix: p.Masked()}, nil
}

// FromPrefix wraps an already-built netip.Prefix, canonicalizing it.
func FromPrefix(p netip.Prefix) (Subnet, error) {
	if !p.IsValid() {
		return Subnet{}, fmt.Errorf("subnet: invalid prefix %s", p)
	}
	return New(p.Addr(), p.Bits())
}

// MustNew panics if the arguments don't form a valid Subnet. Only meant for
// tests and compile-time-known values.
func MustNew(addr netip.Addr, prefixLen int) Subnet {
	s, err := New(addr, prefixLen)
	if err != nil {
		panic(err)
	}
	return s
}

// Address returns the canonical network address.
func (s Subnet) Address() netip.Addr {
	return s.prefix.Addr()
}

// PrefixLen returns the prefix length in bits.
func (s Subnet) PrefixLen() int {
	return s.prefix.Bits()
}

// Prefix returns the underlying netip.Prefix, for use as a bart.Table key.
func (s Subnet) Prefix() netip.Prefix {
	return s.prefix
}

// IsValid reports whether s was constructed through New/FromPrefix.
func (s Subnet) IsValid() bool {
	return s.prefix.IsValid()
}

// ContainsSubnet reports whether other is covered by s: other's prefix is at
// least as specific as s's, and they agree on s's prefix bits.
func (s Subnet) ContainsSubnet(other Subnet) bool {
	if other.PrefixLen() < s.PrefixLen() {
		return false
	}
	return s.prefix.Contains(other.Address()) || s.prefix == other.prefix
}

// ContainsAddr reports whether ip falls within s.
func (s Subnet) ContainsAddr(ip netip.Addr) bool {
	return s.prefix.Contains(ip)
}

// Compare orders subnets by address, then by prefix length.
func (s Subnet) Compare(other Subnet) int {
	if c := s.Address().Compare(other.Address()); c != 0 {
		return c
	}
	return s.PrefixLen() - other.PrefixLen()
}

func (s Subnet) String() string {
	return s.prefix.String()
}

// Of64 returns the /64 containing ip, the canonical mesh prefix length used
// for dead-peer retractions (see DESIGN.md: this value is not otherwise
// parameterized, matching the reference source's hardcoded /64).
func Of64(ip netip.Addr) (Subnet, error) {
	return New(ip, 64)
}
