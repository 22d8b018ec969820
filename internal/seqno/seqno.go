// Package seqno implements the 16-bit modular sequence number comparison
// used by Babel to tell a fresher route announcement from a stale one
// (RFC 6126 §3.2.1).
package seqno

// SeqNo is a 16-bit sequence number compared modulo 2^16.
type SeqNo uint16

// Lt reports whether a is strictly older than b: (b-a) mod 2^16 is in (0, 2^15).
func (a SeqNo) Lt(b SeqNo) bool {
	d := uint16(b - a)
	return d != 0 && d < 1<<15
}

// Gt reports whether a is strictly newer than b.
func (a SeqNo) Gt(b SeqNo) bool {
	return b.Lt(a)
}

// Eq reports numeric equality.
func (a SeqNo) Eq(b SeqNo) bool {
	return a == b
}

// Next returns the next sequence number, wrapping at 2^16.
func (a SeqNo) Next() SeqNo {
	return a + 1
}
