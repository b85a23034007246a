package wire

import (
	"crypto/rand"
	"encoding/binary"
)

// peerIDPrefix is the Azureus-style client tag at the start of every peer id.
const peerIDPrefix = "-TS0001-"

// NewPeerID returns a fresh local peer id.
func NewPeerID() [20]byte {
	var id [20]byte
	copy(id[:], peerIDPrefix)
	if _, err := rand.Read(id[len(peerIDPrefix):]); err != nil {
		panic(err)
	}
	return id
}

func NewTransactionID() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return binary.BigEndian.Uint32(b[:])
}
