// Package rdb loads the binary snapshot format described in spec.md §4.3:
// a 9-byte header, a sequence of opcoded sections, and string key/value
// entries, used to hydrate a keyspace.Databases at boot (and, by a replica,
// to hydrate from the bytes a primary sends after FULLRESYNC).
//
// Grounded on the teacher's internal/rdb/reader.go (header + opcode loop
// shape) and internal/replication/replica.go's loadRDBIntoStore/readLength
// (byte-slice-and-cursor parsing, used here because the same parser must
// serve both a file load and an in-memory snapshot received over the wire).
package rdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"rediscore/internal/keyspace"
	"rediscore/internal/rediserr"
)

const (
	opAux          = 0xFA
	opSelectDB     = 0xFE
	opResizeDB     = 0xFB
	opExpireSecond = 0xFD
	opExpireMillis = 0xFC
	opEOF          = 0xFF

	typeString = 0x00

	headerLen = 9
)

// entry is one parsed key/value pair, tagged with the db it belongs to.
type entry struct {
	db        int
	key       string
	value     []byte
	expiresAt *time.Time
}

// Snapshot is the result of parsing RDB bytes: a flat list of live entries
// (already-expired ones are dropped during parsing, per spec.md §4.3) plus
// the set of db ids that were explicitly selected, so that an empty db
// still comes into existence.
type Snapshot struct {
	entries []entry
	dbIDs   map[int]struct{}
}

// Load opens path and parses it. A missing file is not an error: it yields
// an empty snapshot, matching spec.md §4.3 ("if the file is missing, it
// yields a fresh empty keyspace for db 0 without failure").
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Snapshot{dbIDs: map[int]struct{}{0: {}}}, nil
		}
		return nil, rediserr.IO("reading rdb file", err)
	}
	return Parse(data)
}

// ReadFileBytes returns the raw bytes of the RDB file at path, unparsed.
// Used to forward a persisted snapshot to a newly PSYNC'd follower
// verbatim rather than re-deriving it from the in-memory keyspace (this
// server does not implement an RDB encoder; spec.md §1 Non-goals).
func ReadFileBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Parse decodes raw RDB bytes, such as those a primary sends a replica
// after FULLRESYNC, into a Snapshot.
func Parse(data []byte) (*Snapshot, error) {
	if len(data) < headerLen {
		return nil, rediserr.CorruptSnapshot(0, "file shorter than the 9-byte header")
	}
	if string(data[0:5]) != "REDIS" {
		return nil, rediserr.CorruptSnapshot(0, "bad magic, want REDIS")
	}

	s := &Snapshot{dbIDs: map[int]struct{}{0: {}}}

	pos := headerLen
	currentDB := 0
	var pendingExpiry *time.Time

	for {
		if pos >= len(data) {
			return nil, rediserr.CorruptSnapshot(pos, "truncated before EOF opcode")
		}
		op := data[pos]
		pos++

		switch op {
		case opEOF:
			return s, nil

		case opAux:
			var err error
			_, pos, err = readString(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "aux key: "+err.Error())
			}
			_, pos, err = readString(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "aux value: "+err.Error())
			}

		case opSelectDB:
			n, next, err := readLength(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "selectdb: "+err.Error())
			}
			pos = next
			currentDB = int(n)
			s.dbIDs[currentDB] = struct{}{}

		case opResizeDB:
			_, next, err := readLength(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "resizedb main table size: "+err.Error())
			}
			pos = next
			_, next, err = readLength(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "resizedb expire table size: "+err.Error())
			}
			pos = next
			// Falls through to the shared opcode loop below, which keeps
			// reading key entries until it hits an actual opcode byte.

		case opExpireSecond:
			if pos+4 > len(data) {
				return nil, rediserr.CorruptSnapshot(pos, "truncated expire-seconds")
			}
			secs := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			t := time.Unix(int64(secs), 0)
			pendingExpiry = &t

		case opExpireMillis:
			if pos+8 > len(data) {
				return nil, rediserr.CorruptSnapshot(pos, "truncated expire-millis")
			}
			ms := binary.LittleEndian.Uint64(data[pos : pos+8])
			pos += 8
			t := time.UnixMilli(int64(ms))
			pendingExpiry = &t

		case typeString:
			key, next, err := readString(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "key: "+err.Error())
			}
			pos = next

			value, next, err := readString(data, pos)
			if err != nil {
				return nil, rediserr.CorruptSnapshot(pos, "value: "+err.Error())
			}
			pos = next

			expiry := pendingExpiry
			pendingExpiry = nil

			if expiry != nil && !expiry.After(time.Now()) {
				continue
			}
			s.entries = append(s.entries, entry{db: currentDB, key: key, value: value, expiresAt: expiry})

		default:
			return nil, rediserr.CorruptSnapshot(pos-1, fmt.Sprintf("unsupported opcode/value-type 0x%02X", op))
		}
	}
}

// AsSetCommands renders every parsed entry (db 0 only; this server does not
// select a different db) as SET command arguments, so a replica can apply
// a received snapshot through the same command path it uses for the live
// stream rather than needing a direct keyspace dependency.
func (s *Snapshot) AsSetCommands() [][]string {
	out := make([][]string, 0, len(s.entries))
	for _, e := range s.entries {
		if e.db != 0 {
			continue
		}
		args := []string{"SET", e.key, string(e.value)}
		if e.expiresAt != nil {
			if ttl := time.Until(*e.expiresAt); ttl > 0 {
				args = append(args, "PX", fmt.Sprintf("%d", ttl.Milliseconds()))
			}
		}
		out = append(out, args)
	}
	return out
}

// Populate installs every parsed entry into dbs and ensures every db that
// was explicitly selected exists, even if it ended up empty.
func (s *Snapshot) Populate(dbs *keyspace.Databases) {
	for id := range s.dbIDs {
		dbs.Get(id)
	}
	for _, e := range s.entries {
		dbs.Get(e.db).LoadRaw(e.key, e.value, e.expiresAt)
	}
}
