package peer

import "errors"

var (
	errFullControlChannel = errors.New("peer: control channel full")
	errDataChannelFull    = errors.New("peer: data channel full")
)
