package replication

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rediscore/internal/rdb"
	"rediscore/internal/rediserr"
	"rediscore/internal/resp"
)

// LinkStatus mirrors the replica-side states of spec.md §4.5's state
// machine diagram, collapsed to what a caller needs to observe.
type LinkStatus int32

const (
	Disconnected LinkStatus = iota
	Connecting
	AwaitingSnapshot
	Synced
)

func (s LinkStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingSnapshot:
		return "awaiting-snapshot"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// keepaliveIdle is the minimum idle time before the OS starts probing the
// replica->primary link (spec.md §4.5: "TCP keepalive SHOULD be enabled...
// default idle >= 180s").
const keepaliveIdle = 180 * time.Second

// Applier executes a replicated command against the local keyspace. The
// replication package has no dependency on the command engine; the caller
// supplies this to avoid an import cycle.
type Applier func(args []string)

// Link is the replica side of the handshake and the live-propagation read
// loop against one primary. It owns the TCP connection; State owns the
// role/offset bookkeeping INFO replication reports.
type Link struct {
	log     *logrus.Logger
	state   *State
	applier Applier
	status  int32 // LinkStatus, accessed atomically
}

// NewLink returns a Link ready to Run against state's configured primary
// address.
func NewLink(log *logrus.Logger, state *State, applier Applier) *Link {
	return &Link{log: log, state: state, applier: applier}
}

// Status reports the link's current state.
func (l *Link) Status() LinkStatus {
	return LinkStatus(atomic.LoadInt32(&l.status))
}

func (l *Link) setStatus(s LinkStatus) {
	atomic.StoreInt32(&l.status, int32(s))
}

// Run executes the handshake exactly as spec.md §4.5 requires (PING,
// REPLCONF listening-port, REPLCONF capa psync2, PSYNC ? -1), applies the
// snapshot it receives, and then reads and applies the live command stream
// until the connection fails. It blocks until that happens, so callers run
// it in its own goroutine; restarting it (e.g. after a failure) re-runs
// the whole handshake and reaches Synced without duplicating keys (spec.md
// Testable Property 7), since RDB application replaces keys rather than
// appending to them.
func (l *Link) Run(listeningPort int) error {
	l.setStatus(Connecting)

	conn, err := net.Dial("tcp", l.state.MasterAddr())
	if err != nil {
		l.setStatus(Disconnected)
		return rediserr.IO("dialing primary", err)
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(keepaliveIdle)
	}

	if err := l.handshake(conn, listeningPort); err != nil {
		l.setStatus(Disconnected)
		return err
	}

	return l.streamLoop(conn)
}

// handshake runs the four-message sequence and leaves the link in Synced
// once the snapshot has been applied.
func (l *Link) handshake(conn net.Conn, listeningPort int) error {
	if err := sendCommand(conn, []string{"PING"}); err != nil {
		return err
	}
	if _, err := readReply(conn); err != nil {
		return err
	}

	if err := sendCommand(conn, []string{"REPLCONF", "listening-port", strconv.Itoa(listeningPort)}); err != nil {
		return err
	}
	if _, err := readReply(conn); err != nil {
		return err
	}

	if err := sendCommand(conn, []string{"REPLCONF", "capa", "psync2"}); err != nil {
		return err
	}
	if _, err := readReply(conn); err != nil {
		return err
	}

	if err := sendCommand(conn, []string{"PSYNC", "?", "-1"}); err != nil {
		return err
	}
	reply, err := readReply(conn)
	if err != nil {
		return err
	}
	replID, offset, err := parseFullResync(reply)
	if err != nil {
		return err
	}

	l.setStatus(AwaitingSnapshot)

	payload, err := readRawBulk(conn)
	if err != nil {
		return err
	}
	snap, err := rdb.Parse(payload)
	if err != nil {
		return err
	}
	l.applySnapshot(snap)

	l.state.mu.Lock()
	l.state.replID = replID
	l.state.offset = offset
	l.state.mu.Unlock()

	l.setStatus(Synced)
	l.log.WithFields(logrus.Fields{"replid": replID, "offset": offset}).Info("replica synced with primary")
	return nil
}

// applySnapshot installs every entry the snapshot parsed directly through
// the applier, so callers never need their own keyspace.Databases
// reference; the command engine supplies one applier that writes through
// to the real keyspace.
func (l *Link) applySnapshot(snap *rdb.Snapshot) {
	for _, args := range snap.AsSetCommands() {
		l.applier(args)
	}
}

// streamLoop reads the live command stream following the snapshot and
// applies each one, advancing the link's offset by its encoded length.
func (l *Link) streamLoop(conn net.Conn) error {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)

	for {
		n, err := conn.Read(tmp)
		if err != nil {
			l.setStatus(Disconnected)
			return rediserr.IO("reading from primary", err)
		}
		buf = append(buf, tmp[:n]...)

		for {
			frame, consumed, err := resp.Decode(buf)
			if err == resp.ErrIncomplete {
				break
			}
			if err != nil {
				l.setStatus(Disconnected)
				return rediserr.Protocol("malformed frame from primary: " + err.Error())
			}
			args, ok := frame.Command()
			if ok {
				l.applier(args)
				l.state.mu.Lock()
				l.state.offset += int64(consumed)
				l.state.mu.Unlock()
			}
			buf = buf[consumed:]
		}
	}
}

func sendCommand(conn net.Conn, args []string) error {
	_, err := conn.Write(resp.EncodeCommand(args))
	if err != nil {
		return rediserr.IO("writing to primary", err)
	}
	return nil
}

// readReply blocks until one full RESP frame arrives, growing its read
// buffer as needed. It is only used during the handshake, where replies
// are small and synchronous.
func readReply(conn net.Conn) (resp.Frame, error) {
	buf := make([]byte, 0, 512)
	tmp := make([]byte, 512)
	for {
		frame, consumed, err := resp.Decode(buf)
		if err == nil {
			_ = consumed
			return frame, nil
		}
		if err != resp.ErrIncomplete {
			return resp.Frame{}, rediserr.Protocol("malformed reply from primary: " + err.Error())
		}
		n, readErr := conn.Read(tmp)
		if readErr != nil {
			return resp.Frame{}, rediserr.IO("reading handshake reply", readErr)
		}
		buf = append(buf, tmp[:n]...)
	}
}

// readRawBulk blocks until the special "$<len>\r\n<bytes>" snapshot frame
// (no trailing CRLF) fully arrives.
func readRawBulk(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		payload, _, err := resp.DecodeRawBulk(buf)
		if err == nil {
			return payload, nil
		}
		if err != resp.ErrIncomplete {
			return nil, rediserr.Protocol("malformed snapshot frame from primary: " + err.Error())
		}
		n, readErr := conn.Read(tmp)
		if readErr != nil {
			return nil, rediserr.IO("reading snapshot", readErr)
		}
		buf = append(buf, tmp[:n]...)
	}
}

// parseFullResync extracts the replication id and offset from a
// "+FULLRESYNC <id> <offset>" reply.
func parseFullResync(f resp.Frame) (string, int64, error) {
	if f.Type != resp.SimpleString || !strings.HasPrefix(f.Str, "FULLRESYNC ") {
		return "", 0, rediserr.Protocol(fmt.Sprintf("expected FULLRESYNC reply, got %q", f.Str))
	}
	fields := strings.Fields(f.Str)
	if len(fields) != 3 {
		return "", 0, rediserr.Protocol("malformed FULLRESYNC reply")
	}
	offset, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return "", 0, rediserr.Protocol("malformed FULLRESYNC offset: " + err.Error())
	}
	return fields[1], offset, nil
}
