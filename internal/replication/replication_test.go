package replication

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirupsen/logrus"

	"rediscore/internal/logging"
	"rediscore/internal/resp"
)

func testLog() *logrus.Logger { return logging.New("error") }

type fakeConn struct {
	net.Conn
	mu      sync.Mutex
	written [][]byte
	fail    bool
}

func (f *fakeConn) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return 0, assertErr{}
	}
	cp := append([]byte{}, b...)
	f.written = append(f.written, cp)
	return len(b), nil
}

func (f *fakeConn) Close() error { return nil }

type assertErr struct{}

func (assertErr) Error() string { return "forced write failure" }

func (f *fakeConn) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func TestPropagateIsByteIdenticalAndOrdered(t *testing.T) {
	s := NewPrimary(testLog())
	conn := &fakeConn{}
	h := newFollowerHandle("f1", 6380, conn)
	s.mu.Lock()
	s.followers["f1"] = h
	s.mu.Unlock()

	cmds := [][]string{
		{"SET", "a", "1"},
		{"SET", "b", "2"},
		{"DEL", "a"},
	}
	for _, c := range cmds {
		s.Propagate(resp.EncodeCommand(c))
	}

	// Let the follower's writer goroutine drain the queue.
	deadline := time.Now().Add(time.Second)
	for len(conn.snapshot()) < len(cmds) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	written := conn.snapshot()
	require.Len(t, written, len(cmds))
	for i, c := range cmds {
		assert.Equal(t, resp.EncodeCommand(c), written[i])
	}
}

func TestPropagateAdvancesOffset(t *testing.T) {
	s := NewPrimary(testLog())
	before := s.Offset()

	frame := resp.EncodeCommand([]string{"SET", "k", "v"})
	s.Propagate(frame)

	assert.Equal(t, before+int64(len(frame)), s.Offset())
}

func TestRegisterAndUnregisterFollower(t *testing.T) {
	s := NewPrimary(testLog())
	conn := &fakeConn{}

	h := s.RegisterFollower(conn, 6380)
	assert.Equal(t, 1, s.FollowerCount())

	s.UnregisterFollower(h.ID)
	assert.Equal(t, 0, s.FollowerCount())
}

func TestFullResyncEncodingMatchesProtocol(t *testing.T) {
	s := NewPrimary(testLog())
	frame, n, err := resp.Decode(s.EncodeFullResync())
	require.NoError(t, err)
	assert.Equal(t, len(s.EncodeFullResync()), n)
	assert.Equal(t, resp.SimpleString, frame.Type)
	assert.Contains(t, frame.Str, "FULLRESYNC")
	assert.Contains(t, frame.Str, s.ReplID())
}

func TestParseFullResync(t *testing.T) {
	f := resp.NewSimpleString("FULLRESYNC abc123 42")
	id, offset, err := parseFullResync(f)
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)
	assert.EqualValues(t, 42, offset)

	_, _, err = parseFullResync(resp.NewSimpleString("OK"))
	assert.Error(t, err)
}

func TestLinkStatusStringer(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "synced", Synced.String())
}
