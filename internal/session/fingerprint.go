// Package session implements the session-affinity tracker: an opaque
// fingerprint derived from a request's session-carrying fields, mapped to the
// previously selected account for a bounded lifetime.
package session

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/zeebo/xxh3"
)

// Fingerprint derives the opaque session fingerprint from the inbound
// request's session-carrying fields (caller identity, conversation/session
// ID, client address — whatever the relay layer supplies). Fields are length-
// prefixed before hashing so ("ab","c") and ("a","bc") cannot collide.
// Returns "" when every part is empty, meaning no session to stick to.
func Fingerprint(parts ...string) string {
	empty := true
	var buf []byte
	var lenPrefix [4]byte
	for _, p := range parts {
		if p != "" {
			empty = false
		}
		binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(p)))
		buf = append(buf, lenPrefix[:]...)
		buf = append(buf, p...)
	}
	if empty {
		return ""
	}

	h128 := xxh3.Hash128(buf)
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], h128.Lo)
	binary.LittleEndian.PutUint64(out[8:], h128.Hi)
	return hex.EncodeToString(out[:])
}
