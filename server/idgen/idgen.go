// Package idgen generates compact, sortable identifiers for sessions and
// stored messages.
package idgen

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/binary"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// nodeID distinguishes concurrently running instances.
	nodeID [3]byte
	// sequence disambiguates IDs generated within the same second.
	sequence uint32

	base32Encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)
)

func init() {
	if _, err := rand.Read(nodeID[:]); err != nil {
		// crypto/rand failing is exceptional; fall back to the clock.
		now := time.Now().UnixNano()
		nodeID[0] = byte(now >> 16)
		nodeID[1] = byte(now >> 8)
		nodeID[2] = byte(now)
	}
}

// New generates a 12-byte hybrid ID encoded as ~20 lowercase base32
// characters: 4 bytes of timestamp, 3 bytes of node ID, a 2-byte sequence
// counter, and 3 random bytes. IDs generated on one instance sort roughly
// by creation time.
func New() string {
	var id [12]byte

	binary.BigEndian.PutUint32(id[0:4], uint32(time.Now().Unix()))
	copy(id[4:7], nodeID[:])

	seq := atomic.AddUint32(&sequence, 1) & 0xFFFF
	id[7] = byte(seq >> 8)
	id[8] = byte(seq)

	if _, err := rand.Read(id[9:12]); err != nil {
		now := time.Now().UnixNano()
		id[9] = byte(now >> 16)
		id[10] = byte(now >> 8)
		id[11] = byte(now)
	}

	return strings.ToLower(base32Encoding.EncodeToString(id[:]))
}
