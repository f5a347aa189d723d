// Package kademlia implements the wide-area discovery DHT (C5): a 160-bit
// XOR-metric routing table plus the iterative FIND_NODE/FIND_VALUE lookups
// built on top of it.
package kademlia

import "lukechampine.com/blake3"

// IDLength is the width of a Kademlia node ID in bytes (160 bits).
const IDLength = 20

// ID is a 160-bit Kademlia identifier, either a node ID or a content key.
type ID [IDLength]byte

// HashID derives a 160-bit ID from an arbitrary byte string (a node's
// public key, or a memory key being stored) by truncating a blake3 digest.
func HashID(data []byte) ID {
	sum := blake3.Sum256(data)
	var id ID
	copy(id[:], sum[:IDLength])
	return id
}

// Xor returns the bitwise XOR distance between two IDs — the Kademlia
// metric space.
func Xor(a, b ID) ID {
	var out ID
	for i := range out {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Less reports whether a is numerically closer to the origin than b,
// treating both as big-endian 160-bit integers. Used to sort candidates by
// XOR distance to a lookup target.
func Less(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// CommonPrefixLen returns the number of leading bits a and b share, which
// is the bucket index Xor(a,b) falls into.
func CommonPrefixLen(a, b ID) int {
	d := Xor(a, b)
	for byteIdx, by := range d {
		if by == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if by&(0x80>>bit) != 0 {
				return byteIdx*8 + bit
			}
		}
	}
	return IDLength * 8
}
