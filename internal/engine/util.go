package engine

import "encoding/hex"

// mustDecodeHex decodes a compile-time-known hex literal. Panics on a bad
// literal, which would be a programming error, not a runtime condition.
func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("engine: invalid hex literal: " + err.Error())
	}
	return b
}
