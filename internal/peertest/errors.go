package peertest

import "errors"

var errSendFailed = errors.New("peertest: simulated send failure")
