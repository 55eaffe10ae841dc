package replication

import (
	"net"

	"rediscore/internal/resp"
)

// AcceptPSYNC implements the primary side of spec.md §4.5: on PSYNC ? -1 it
// replies FULLRESYNC, sends the snapshot payload as a raw bulk frame (no
// trailing CRLF), and registers conn as a follower keyed by the
// listening-port the replica advertised earlier via REPLCONF. This spec
// only requires full resync; partial resync (a real offset instead of "?")
// is not implemented (spec.md Non-goals).
func (s *State) AcceptPSYNC(conn net.Conn, listeningPort int, snapshotPayload []byte) (*FollowerHandle, error) {
	if _, err := conn.Write(s.EncodeFullResync()); err != nil {
		return nil, err
	}
	if _, err := conn.Write(resp.EncodeRawSnapshot(snapshotPayload)); err != nil {
		return nil, err
	}
	return s.RegisterFollower(conn, listeningPort), nil
}
