package listener

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rediscore/internal/config"
	"rediscore/internal/engine"
	"rediscore/internal/keyspace"
	"rediscore/internal/logging"
	"rediscore/internal/replication"
	"rediscore/internal/resp"
)

func startTestListener(t *testing.T) (*Listener, string, func()) {
	t.Helper()
	cfg := config.DefaultConfig()
	log := logging.New("error")
	dbs := keyspace.NewDatabases()
	repl := replication.NewPrimary(log)
	eng := engine.New(cfg, dbs, repl, nil, log)

	// Run binds from cfg.Port directly, so probe a free port first.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := probe.Addr().(*net.TCPAddr)
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	probe.Close()

	l := New(cfg, eng, nil, log)
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan error, 1)
	go func() {
		ready <- l.Run(ctx)
	}()

	// Give the listener a moment to bind.
	deadline := time.Now().Add(time.Second)
	for {
		conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("listener never came up: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cleanup := func() {
		cancel()
		l.Shutdown(time.Second)
	}
	return l, fmt.Sprintf("127.0.0.1:%d", cfg.Port), cleanup
}

func TestListenerServesPing(t *testing.T) {
	_, addr, cleanup := startTestListener(t)
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(resp.EncodeCommand([]string{"PING"}))
	require.NoError(t, err)

	buf := make([]byte, 256)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	f, _, err := resp.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, "PONG", f.Str)
}

func TestListenerSetGetRoundTrip(t *testing.T) {
	_, addr, cleanup := startTestListener(t)
	defer cleanup()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	conn.Write(resp.EncodeCommand([]string{"SET", "k", "v"}))
	buf := make([]byte, 256)
	n, _ := conn.Read(buf)
	f, _, _ := resp.Decode(buf[:n])
	assert.Equal(t, "OK", f.Str)

	conn.Write(resp.EncodeCommand([]string{"GET", "k"}))
	n, _ = conn.Read(buf)
	f, _, _ = resp.Decode(buf[:n])
	assert.Equal(t, []byte("v"), f.Bulk)
}

// TestListenerPropagatesToPSYNCFollower drives a real PSYNC handshake over
// the listener and then a write on a second connection, verifying the
// follower connection stays open and actually receives the propagated
// command. This is the end-to-end path unit tests against the replication
// package alone (which register followers directly) cannot catch: it would
// fail if handleConnection closed the follower's socket after PSYNC.
func TestListenerPropagatesToPSYNCFollower(t *testing.T) {
	_, addr, cleanup := startTestListener(t)
	defer cleanup()

	follower, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer follower.Close()

	buf := make([]byte, 4096)

	follower.Write(resp.EncodeCommand([]string{"REPLCONF", "listening-port", "6380"}))
	n, err := follower.Read(buf)
	require.NoError(t, err)
	f, _, err := resp.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "OK", f.Str)

	follower.Write(resp.EncodeCommand([]string{"PSYNC", "?", "-1"}))
	follower.SetReadDeadline(time.Now().Add(2 * time.Second))

	// Read and discard the +FULLRESYNC line followed by the raw snapshot
	// bulk; keep reading until both have arrived.
	var received []byte
	for len(received) == 0 || !snapshotComplete(received) {
		n, err := follower.Read(buf)
		require.NoError(t, err)
		received = append(received, buf[:n]...)
	}

	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()
	client.Write(resp.EncodeCommand([]string{"SET", "a", "1"}))
	n, err = client.Read(buf)
	require.NoError(t, err)
	f, _, err = resp.Decode(buf[:n])
	require.NoError(t, err)
	require.Equal(t, "OK", f.Str)

	follower.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = follower.Read(buf)
	require.NoError(t, err, "follower connection must stay open and receive the propagated write")
	got, _, err := resp.Decode(buf[:n])
	require.NoError(t, err)
	args, ok := got.Command()
	require.True(t, ok)
	assert.Equal(t, []string{"SET", "a", "1"}, args)
}

// snapshotComplete reports whether buf contains a full "+FULLRESYNC ...\r\n"
// line followed by a complete raw snapshot bulk frame.
func snapshotComplete(buf []byte) bool {
	line, consumed, err := resp.Decode(buf)
	if err != nil {
		return false
	}
	_ = line
	_, _, err = resp.DecodeRawBulk(buf[consumed:])
	return err == nil
}
