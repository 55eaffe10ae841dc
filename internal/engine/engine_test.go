package engine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rediscore/internal/config"
	"rediscore/internal/keyspace"
	"rediscore/internal/logging"
	"rediscore/internal/replication"
	"rediscore/internal/resp"
)

func newTestEngine() *Engine {
	cfg := config.DefaultConfig()
	dbs := keyspace.NewDatabases()
	log := logging.New("error")
	repl := replication.NewPrimary(log)
	return New(cfg, dbs, repl, nil, log)
}

func exec(e *Engine, args ...string) resp.Frame {
	res := e.Execute(args, &Session{}, nil)
	f, _, err := resp.Decode(res.Reply)
	if err != nil {
		panic(err)
	}
	return f
}

func TestPingPong(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "PING")
	assert.Equal(t, resp.SimpleString, f.Type)
	assert.Equal(t, "PONG", f.Str)
}

func TestEcho(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "ECHO", "hello")
	assert.Equal(t, resp.BulkString, f.Type)
	assert.Equal(t, []byte("hello"), f.Bulk)
}

func TestSetGetDel(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "SET", "k", "v")
	assert.Equal(t, "OK", f.Str)

	f = exec(e, "GET", "k")
	assert.Equal(t, []byte("v"), f.Bulk)

	f = exec(e, "DEL", "k")
	assert.EqualValues(t, 1, f.Int)

	f = exec(e, "GET", "k")
	assert.True(t, f.Null)
}

func TestSetWithPXExpiresLazily(t *testing.T) {
	e := newTestEngine()
	exec(e, "SET", "k", "v", "PX", "0")

	f := exec(e, "GET", "k")
	assert.True(t, f.Null)

	f = exec(e, "KEYS", "*")
	assert.Empty(t, f.Items)
}

func TestSetSyntaxErrorOnBadExpiry(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "SET", "k", "v", "PX", "notanumber")
	assert.Equal(t, resp.Error, f.Type)
	assert.Contains(t, f.Str, "syntax")
}

func TestUnknownCommand(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "FROBNICATE")
	assert.Equal(t, resp.Error, f.Type)
	assert.Contains(t, f.Str, "unknown command")
}

func TestWrongArity(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "GET")
	assert.Equal(t, resp.Error, f.Type)
}

func TestKeysGlob(t *testing.T) {
	e := newTestEngine()
	exec(e, "SET", "foo", "1")
	exec(e, "SET", "foobar", "1")
	exec(e, "SET", "bar", "1")

	f := exec(e, "KEYS", "foo*")
	require.Len(t, f.Items, 2)
}

func TestConfigGet(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "CONFIG", "GET", "dir", "dbfilename")
	require.Len(t, f.Items, 4)
	assert.Equal(t, "dir", string(f.Items[0].Bulk))
}

func TestInfoReplicationMaster(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "INFO", "replication")
	assert.Contains(t, string(f.Bulk), "role:master")
	assert.Contains(t, string(f.Bulk), "master_replid:")
}

func TestInfoDefaultsToReplicationSection(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "INFO")
	assert.Contains(t, string(f.Bulk), "role:master")
}

func TestInfoRejectsUnknownSection(t *testing.T) {
	e := newTestEngine()
	f := exec(e, "INFO", "cpu")
	assert.Equal(t, resp.Error, f.Type)
}

func TestReplicaOfNoOnePromotesToPrimary(t *testing.T) {
	cfg := config.DefaultConfig()
	dbs := keyspace.NewDatabases()
	log := logging.New("error")
	repl := replication.NewReplicaOf(log, "127.0.0.1", 6379)
	e := New(cfg, dbs, repl, nil, log)

	f := exec(e, "REPLICAOF", "NO", "ONE")
	assert.Equal(t, "OK", f.Str)
	assert.False(t, repl.IsReplica())
}

func TestReplConfRecordsListeningPort(t *testing.T) {
	e := newTestEngine()
	sess := &Session{}
	res := e.Execute([]string{"REPLCONF", "listening-port", "6380"}, sess, nil)
	f, _, _ := resp.Decode(res.Reply)
	assert.Equal(t, "OK", f.Str)
	assert.Equal(t, 6380, sess.ListeningPort)
}

type nopConn struct{ net.Conn }

func (nopConn) Write(b []byte) (int, error) { return len(b), nil }
func (nopConn) Close() error                { return nil }

func TestPSYNCRegistersFollowerAndSuppressesReply(t *testing.T) {
	e := newTestEngine()
	sess := &Session{ListeningPort: 6380}
	res := e.Execute([]string{"PSYNC", "?", "-1"}, sess, nopConn{})

	assert.True(t, res.BecameFollower)
	assert.Nil(t, res.Reply)
	assert.Equal(t, 1, e.repl.FollowerCount())
}

func TestApplyFromPrimaryProducesNoReplyPath(t *testing.T) {
	e := newTestEngine()
	e.Apply([]string{"SET", "k", "v"})

	f := exec(e, "GET", "k")
	assert.Equal(t, []byte("v"), f.Bulk)
}

func TestSetPropagatesToFollowers(t *testing.T) {
	e := newTestEngine()
	conn := &captureConn{}
	e.repl.RegisterFollower(conn, 6380)

	exec(e, "SET", "a", "1")

	deadline := time.Now().Add(time.Second)
	for len(conn.written()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	require.NotEmpty(t, conn.written())
	assert.Equal(t, resp.EncodeCommand([]string{"SET", "a", "1"}), conn.written()[0])
}

type captureConn struct {
	nopConn
	mu  sync.Mutex
	buf [][]byte
}

func (c *captureConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]byte{}, b...)
	c.buf = append(c.buf, cp)
	return len(b), nil
}

func (c *captureConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.buf))
	copy(out, c.buf)
	return out
}
