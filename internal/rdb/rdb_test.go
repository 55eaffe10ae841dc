package rdb

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rediscore/internal/keyspace"
)

const canonicalMinimalHex = "524544495330303131fa0972656469732d76657205372e322e30fa0a7265" +
	"6469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d" +
	"656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2"

func TestParseCanonicalMinimalSnapshot(t *testing.T) {
	data, err := hex.DecodeString(canonicalMinimalHex)
	require.NoError(t, err)

	snap, err := Parse(data)
	require.NoError(t, err)

	dbs := keyspace.NewDatabases()
	snap.Populate(dbs)

	assert.Empty(t, dbs.Default().Keys())
}

func TestLoadMissingFileYieldsEmptyDB0(t *testing.T) {
	snap, err := Load("/nonexistent/path/to/dump.rdb")
	require.NoError(t, err)

	dbs := keyspace.NewDatabases()
	snap.Populate(dbs)

	assert.Empty(t, dbs.Default().Keys())
}

func TestParseRejectsBadMagic(t *testing.T) {
	_, err := Parse([]byte("NOTREDIS1" + "\xff"))
	require.Error(t, err)
}

func TestParseStringKeyWithExpiry(t *testing.T) {
	var data []byte
	data = append(data, []byte("REDIS0011")...)
	data = append(data, 0xFE, 0x00) // SELECTDB 0

	// EXPIRE (seconds) far in the future, then a string key "foo" -> "bar".
	data = append(data, 0xFD, 0xFF, 0xFF, 0xFF, 0x7F) // ~year 2038
	data = append(data, 0x00)                          // value type: string
	data = append(data, 0x03, 'f', 'o', 'o')            // key
	data = append(data, 0x03, 'b', 'a', 'r')            // value
	data = append(data, 0xFF)                           // EOF

	snap, err := Parse(data)
	require.NoError(t, err)

	dbs := keyspace.NewDatabases()
	snap.Populate(dbs)

	rec, ok := dbs.Default().Get("foo")
	require.True(t, ok)
	assert.Equal(t, []byte("bar"), rec.Payload)
	require.NotNil(t, rec.ExpiresAt)
}

func TestParseDropsAlreadyExpiredKey(t *testing.T) {
	var data []byte
	data = append(data, []byte("REDIS0011")...)
	data = append(data, 0xFE, 0x00)
	data = append(data, 0xFD, 0x01, 0x00, 0x00, 0x00) // 1 second past epoch: long expired
	data = append(data, 0x00)
	data = append(data, 0x03, 'f', 'o', 'o')
	data = append(data, 0x03, 'b', 'a', 'r')
	data = append(data, 0xFF)

	snap, err := Parse(data)
	require.NoError(t, err)

	dbs := keyspace.NewDatabases()
	snap.Populate(dbs)

	_, ok := dbs.Default().Get("foo")
	assert.False(t, ok)
}

func TestParseTruncatedStringIsCorrupt(t *testing.T) {
	var data []byte
	data = append(data, []byte("REDIS0011")...)
	data = append(data, 0x00)            // value type: string
	data = append(data, 0x05, 'f', 'o') // key declares length 5, only 2 bytes present

	_, err := Parse(data)
	require.Error(t, err)
}
