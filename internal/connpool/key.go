// Package connpool owns the cache of reusable outbound transport handles,
// keyed by (proxy descriptor, target host), with background health checks,
// sliding-window failure tracking, and time-boxed quarantine/recovery.
package connpool

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/xxh3"
)

// Key identifies one (proxy, target host) pool slot.
type Key [16]byte

// NewKey derives the pool key for a proxy descriptor in canonical form and a
// canonical target host. The composite is hashed so keys are fixed-size and
// cheap to compare regardless of descriptor length. Both components are
// length-prefixed before hashing so no split of the composite can collide
// with another.
func NewKey(proxyCanonical, host string) Key {
	buf := make([]byte, 0, 8+len(proxyCanonical)+len(host))
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(proxyCanonical)))
	buf = append(buf, lenPrefix[:]...)
	buf = append(buf, proxyCanonical...)
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(host)))
	buf = append(buf, lenPrefix[:]...)
	buf = append(buf, host...)

	h := xxh3.Hash128(buf)
	var k Key
	binary.LittleEndian.PutUint64(k[:8], h.Lo)
	binary.LittleEndian.PutUint64(k[8:], h.Hi)
	return k
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// ParseKey decodes the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("connpool: invalid key %q: %w", s, err)
	}
	if len(raw) != len(k) {
		return k, fmt.Errorf("connpool: invalid key length %d", len(raw))
	}
	copy(k[:], raw)
	return k, nil
}
