// Package mutate injects controlled defects into raw payloads and warehouse
// rows. Every mutation is deterministic for a given run and recorded as a
// MUTATED audit event so downstream discovery can attribute defects.
package mutate

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Seed derives the RNG seed for one (run, layer, entity, action) tuple: the
// first 8 bytes of the SHA-256 digest of the joined fields, interpreted as a
// big-endian signed integer. Repeating a run replays identical mutations.
func Seed(runID, layer, entity, action string) int64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s", runID, layer, entity, action)))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
