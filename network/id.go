package network

import (
	"crypto/rand"
	"encoding/hex"
	"math/bits"
	"net"
)

const (
	// KeyBits is the width of the node identifier keyspace.
	KeyBits = 256

	// KeyBytes is the width of a node identifier in bytes.
	KeyBytes = KeyBits / 8
)

// NodeID is an opaque identifier of a node in the keyspace. It is
// compared only via equality and the XOR closeness metric. NodeIDs
// are plain values and are always passed around by copy.
type NodeID [KeyBytes]byte

// GenerateNodeID draws a fresh random identifier for this node. It is
// called once at startup and the result is held for the node's lifetime.
func GenerateNodeID() (NodeID, error) {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		return NodeID{}, err
	}
	return id, nil
}

// XOR computes the distance between two identifiers under the
// Kademlia closeness metric.
func (id NodeID) XOR(other NodeID) NodeID {
	var distance NodeID
	for i := range id {
		distance[i] = id[i] ^ other[i]
	}
	return distance
}

// LeadingZeros returns the number of leading zero bits in the
// identifier. For a XOR distance this is the length of the shared
// prefix of the two operands and ranges over 0..KeyBits, where
// KeyBits is reached only when both operands are equal.
func (id NodeID) LeadingZeros() int {
	count := 0
	for _, b := range id {
		zeros := bits.LeadingZeros8(b)
		count += zeros
		if zeros != 8 {
			break
		}
	}
	return count
}

// String renders the identifier as lowercase hex for logs and the
// admin surface.
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// Contact is the information required to reach a remote peer. Two
// contacts are the same contact if and only if their IDs are equal;
// the address observed most recently wins whenever a known contact
// is seen again.
type Contact struct {
	ID   NodeID
	Addr *net.UDPAddr
}
