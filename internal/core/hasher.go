package core

import (
	"crypto/sha256"
	"encoding/binary"

	"TrancheLedger/internal/event"
)

const GenesisHashSeed = "TrancheLedger:genesis:v1"

// StateHasher chains a hash over every event the engine emits:
//
//	hash[N] = SHA-256(hash[N-1] || sequence || event_type || epoch || state_digest)
//
// with hash[0] = SHA-256(GenesisHashSeed). Sequence, type and epoch are
// little-endian fixed width.
type StateHasher struct {
	tip [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{tip: sha256.Sum256([]byte(GenesisHashSeed))}
}

// RestoreStateHasher continues a chain from a snapshot tip.
func RestoreStateHasher(tip [32]byte) *StateHasher {
	return &StateHasher{tip: tip}
}

// Chain links the next event and returns its hash, which becomes the tip.
func (h *StateHasher) Chain(sequence int64, et event.EventType, epoch int64, stateDigest []byte) [32]byte {
	var header [20]byte
	binary.LittleEndian.PutUint64(header[0:8], uint64(sequence))
	binary.LittleEndian.PutUint32(header[8:12], uint32(et))
	binary.LittleEndian.PutUint64(header[12:20], uint64(epoch))

	sum := sha256.New()
	sum.Write(h.tip[:])
	sum.Write(header[:])
	sum.Write(stateDigest)

	copy(h.tip[:], sum.Sum(nil))
	return h.tip
}

// Tip returns the hash of the last chained event.
func (h *StateHasher) Tip() [32]byte {
	return h.tip
}
