// Package filters implements the route-acceptance policy chain applied to
// incoming Updates before they ever reach the source or routing tables
// (spec.md §4.6 step 1, §7 non-goal boundary: policy is pluggable, not a
// single hardcoded rule).
package filters

import (
	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

// Filter decides whether an incoming Update should be considered at all.
type Filter interface {
	Allow(u babel.Update) bool
}

// MaxSubnetSize rejects announcements for subnets larger (shorter prefix)
// than MinPrefixLen, bounding how much of the address space one neighbour
// can claim.
type MaxSubnetSize struct {
	MinPrefixLen int
}

func (f MaxSubnetSize) Allow(u babel.Update) bool {
	return u.Subnet.PrefixLen() >= f.MinPrefixLen
}

// AllowedSubnet only accepts announcements for subnets contained within a
// fixed allowlisted range.
type AllowedSubnet struct {
	Subnet subnet.Subnet
}

func (f AllowedSubnet) Allow(u babel.Update) bool {
	return f.Subnet.ContainsSubnet(u.Subnet)
}

// Chain runs every Filter in order and only allows u through if all of them
// do.
type Chain []Filter

func (c Chain) Allow(u babel.Update) bool {
	for _, f := range c {
		if !f.Allow(u) {
			return false
		}
	}
	return true
}
