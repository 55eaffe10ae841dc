// Package idgen generates the server's 40-character alphanumeric identity
// (spec.md §3, "Server identity"). This is the random identifier generator
// spec.md lists as an out-of-scope external collaborator: the core only
// ever consumes the finished string.
package idgen

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewReplicationID returns a fresh 40-character lowercase hex string,
// matching the length of a real Redis replication id. Two UUIDs supply 32
// bytes of entropy; the first 20 are hex-encoded to 40 characters.
func NewReplicationID() string {
	a := uuid.New()
	b := uuid.New()

	entropy := make([]byte, 0, 32)
	entropy = append(entropy, a[:]...)
	entropy = append(entropy, b[:]...)

	return hex.EncodeToString(entropy[:20])
}
