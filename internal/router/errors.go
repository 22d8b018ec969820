package router

import "errors"

var (
	// ErrUnknownPeer is returned when an operation names a peer the router
	// has no Handle for.
	ErrUnknownPeer = errors.New("router: unknown peer")
	// ErrNoRoute is returned when the data plane has no selected route for
	// a destination.
	ErrNoRoute = errors.New("router: no route to destination")
	// ErrPeerAlreadyExists is returned by AddPeerInterface for a peer whose
	// underlay address is already registered.
	ErrPeerAlreadyExists = errors.New("router: peer already registered")
)
