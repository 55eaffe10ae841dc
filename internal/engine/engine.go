// Package engine implements the command execution engine of spec.md §4.4:
// a per-connection dispatch loop that interprets decoded RESP frames as
// commands, mutates the keyspace, and drives replication fan-out.
//
// Grounded on the teacher's internal/handler/handler.go for the overall
// shape (a handler owning storage + replication references, dispatching by
// command name), rewritten around the spec's smaller command surface and
// its explicit reader-writer/replication-fanout contract instead of the
// teacher's channel-actor processor.
package engine

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"rediscore/internal/config"
	"rediscore/internal/keyspace"
	"rediscore/internal/metrics"
	"rediscore/internal/rdb"
	"rediscore/internal/rediserr"
	"rediscore/internal/replication"
	"rediscore/internal/resp"
)

// Session is the per-connection mutable state the engine needs across
// multiple commands on the same connection (REPLCONF before PSYNC, mainly).
// The listener owns one Session per accepted connection.
type Session struct {
	ListeningPort int
}

// Result is what the listener does after Execute returns.
type Result struct {
	// Reply is the bytes to write back to the client. Nil means Execute
	// already wrote everything it needed to (PSYNC's FULLRESYNC + snapshot)
	// and the listener should send nothing further for this command.
	Reply []byte

	// BecameFollower is true once this connection has been registered as a
	// replication follower (after PSYNC). The listener's read loop for this
	// connection should stop: all further traffic on it is the primary
	// pushing writes, not requests flowing back.
	BecameFollower bool
}

// Engine holds everything a command dispatch needs: the keyspace, the
// replication state machine, and the operational metrics/logging the
// teacher's handler wires through similarly.
type Engine struct {
	cfg     *config.Config
	dbs     *keyspace.Databases
	repl    *replication.State
	metrics *metrics.Metrics
	log     *logrus.Logger

	startedAt time.Time
}

// New builds an Engine. repl must already be constructed with the correct
// role (NewPrimary or NewReplicaOf) by the caller.
func New(cfg *config.Config, dbs *keyspace.Databases, repl *replication.State, m *metrics.Metrics, log *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, dbs: dbs, repl: repl, metrics: m, log: log, startedAt: time.Now()}
}

// Apply executes args purely for its side effect, producing no reply. This
// is the Applier a replication.Link uses to install commands received over
// the replica->primary link (spec.md §4.4: "commands received over a
// follower's link from its primary are executed WITHOUT producing a client
// reply").
func (e *Engine) Apply(args []string) {
	if len(args) == 0 {
		return
	}
	switch strings.ToUpper(args[0]) {
	case "SET":
		_, _ = e.doSet(args[1:])
		e.recordKeyspaceSize()
	case "DEL":
		e.doDel(args[1:])
		e.recordKeyspaceSize()
	default:
		e.log.WithField("command", args[0]).Warn("ignoring unsupported command from primary")
	}
}

// Execute dispatches one decoded command frame. conn is only used by PSYNC,
// which must write its two-part reply (FULLRESYNC line, then the raw
// snapshot bytes) directly and then register conn as a follower.
func (e *Engine) Execute(args []string, sess *Session, conn net.Conn) Result {
	if len(args) == 0 {
		return Result{Reply: resp.EncodeError("ERR empty command")}
	}
	name := strings.ToUpper(args[0])
	if e.metrics != nil {
		e.metrics.CommandsTotal.With(prometheus.Labels{"command": name}).Inc()
	}

	switch name {
	case "PING":
		return Result{Reply: resp.EncodeSimpleString("PONG")}

	case "ECHO":
		if len(args) != 2 {
			return errResult(rediserr.WrongArity("wrong number of arguments for 'echo' command"))
		}
		return Result{Reply: resp.EncodeBulkString(args[1])}

	case "SET":
		frame, err := e.doSet(args[1:])
		if err != nil {
			return errResult(err)
		}
		e.recordKeyspaceSize()
		e.propagate(args)
		return Result{Reply: frame}

	case "GET":
		if len(args) != 2 {
			return errResult(rediserr.WrongArity("wrong number of arguments for 'get' command"))
		}
		rec, ok := e.dbs.Default().Get(args[1])
		if !ok {
			return Result{Reply: resp.EncodeNullBulkString()}
		}
		return Result{Reply: resp.Encode(resp.NewBulkString(rec.Payload))}

	case "DEL":
		if len(args) < 2 {
			return errResult(rediserr.WrongArity("wrong number of arguments for 'del' command"))
		}
		n := e.doDel(args[1:])
		e.recordKeyspaceSize()
		e.propagate(args)
		return Result{Reply: resp.EncodeInteger(int64(n))}

	case "KEYS":
		if len(args) != 2 {
			return errResult(rediserr.WrongArity("wrong number of arguments for 'keys' command"))
		}
		return Result{Reply: resp.EncodeStringArray(e.dbs.Default().KeysMatching(args[1]))}

	case "CONFIG":
		return e.doConfig(args[1:])

	case "INFO":
		return e.doInfo(args[1:])

	case "REPLCONF":
		return e.doReplConf(args[1:], sess)

	case "PSYNC":
		return e.doPSYNC(args[1:], sess, conn)

	case "REPLICAOF", "SLAVEOF":
		return e.doReplicaOf(args[1:])

	default:
		return errResult(rediserr.UnknownCommand(args[0]))
	}
}

func errResult(err *rediserr.Error) Result {
	return Result{Reply: resp.EncodeError(err.RESPMessage())}
}

// propagate fans the original command frame out to followers, byte for
// byte, only when acting as a primary. A replica never propagates further
// (no sub-replication chain in this spec).
func (e *Engine) propagate(args []string) {
	if e.repl == nil || e.repl.IsReplica() {
		return
	}
	e.repl.Propagate(resp.EncodeCommand(args))
	if e.metrics != nil {
		e.metrics.MasterReplOffset.Set(float64(e.repl.Offset()))
		e.metrics.ConnectedReplicas.Set(float64(e.repl.FollowerCount()))
	}
}

// recordKeyspaceSize refreshes the keyspace_keys gauge after a mutation.
func (e *Engine) recordKeyspaceSize() {
	if e.metrics != nil {
		e.metrics.KeyspaceKeys.Set(float64(e.dbs.Default().Len()))
	}
}

func (e *Engine) doSet(args []string) ([]byte, *rediserr.Error) {
	if len(args) < 2 {
		return nil, rediserr.WrongArity("wrong number of arguments for 'set' command")
	}
	key, value := args[0], args[1]

	var expiresAt *time.Time
	rest := args[2:]
	for len(rest) > 0 {
		switch strings.ToUpper(rest[0]) {
		case "PX":
			if len(rest) < 2 {
				return nil, rediserr.Syntax("syntax error")
			}
			ms, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil {
				return nil, rediserr.Syntax("syntax error")
			}
			t := time.Now().Add(time.Duration(ms) * time.Millisecond)
			expiresAt = &t
			rest = rest[2:]
		case "EX":
			if len(rest) < 2 {
				return nil, rediserr.Syntax("syntax error")
			}
			secs, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil {
				return nil, rediserr.Syntax("syntax error")
			}
			t := time.Now().Add(time.Duration(secs) * time.Second)
			expiresAt = &t
			rest = rest[2:]
		default:
			return nil, rediserr.Syntax("syntax error")
		}
	}

	e.dbs.Default().Set(key, []byte(value), expiresAt)
	return resp.EncodeSimpleString("OK"), nil
}

func (e *Engine) doDel(args []string) int {
	n := 0
	for _, key := range args {
		if e.dbs.Default().Del(key) {
			n++
		}
	}
	return n
}

func (e *Engine) doConfig(args []string) Result {
	if len(args) < 1 {
		return errResult(rediserr.WrongArity("wrong number of arguments for 'config' command"))
	}
	if strings.ToUpper(args[0]) != "GET" {
		return errResult(rediserr.Syntax("unsupported CONFIG subcommand"))
	}

	pairs := make([]string, 0, len(args[1:])*2)
	for _, name := range args[1:] {
		switch strings.ToLower(name) {
		case "dir":
			pairs = append(pairs, "dir", e.cfg.Dir)
		case "dbfilename":
			pairs = append(pairs, "dbfilename", e.cfg.DBFilename)
		}
	}
	return Result{Reply: resp.EncodeStringArray(pairs)}
}

func (e *Engine) doReplConf(args []string, sess *Session) Result {
	if len(args) >= 2 && strings.EqualFold(args[0], "listening-port") {
		if port, err := strconv.Atoi(args[1]); err == nil {
			sess.ListeningPort = port
		}
	}
	return Result{Reply: resp.EncodeSimpleString("OK")}
}

func (e *Engine) doPSYNC(args []string, sess *Session, conn net.Conn) Result {
	if e.repl == nil || e.repl.IsReplica() {
		return errResult(rediserr.Internal("PSYNC received by a non-primary"))
	}

	payload := e.snapshotForNewFollower()
	if _, err := e.repl.AcceptPSYNC(conn, sess.ListeningPort, payload); err != nil {
		e.log.WithError(err).Warn("failed to complete PSYNC handshake")
		return Result{BecameFollower: false}
	}
	if e.metrics != nil {
		e.metrics.ConnectedReplicas.Set(float64(e.repl.FollowerCount()))
	}
	return Result{BecameFollower: true}
}

// snapshotForNewFollower returns the raw bytes to send a newly PSYNC'd
// follower: the RDB file at the configured path if it can be read now,
// otherwise the canonical minimal snapshot (spec.md §6).
func (e *Engine) snapshotForNewFollower() []byte {
	data, err := rdb.ReadFileBytes(e.cfg.RDBPath())
	if err == nil {
		return data
	}
	return canonicalMinimalSnapshot
}

// doInfo handles INFO [section]. Only the "replication" section exists;
// no argument defaults to it, and any other name is an error rather than
// a silently empty reply (Open Question 2 resolution).
func (e *Engine) doInfo(args []string) Result {
	section := "replication"
	if len(args) > 0 {
		section = strings.ToLower(args[0])
	}
	if section != "replication" {
		return errResult(rediserr.Syntax("unsupported INFO section '" + section + "'"))
	}
	return Result{Reply: resp.Encode(resp.NewBulkString([]byte(e.infoReplication())))}
}

// doReplicaOf handles REPLICAOF/SLAVEOF. Only "NO ONE" (promote back to
// primary) is supported; pointing a running server at a different primary
// is not required by this engine.
func (e *Engine) doReplicaOf(args []string) Result {
	if len(args) == 2 && strings.EqualFold(args[0], "NO") && strings.EqualFold(args[1], "ONE") {
		e.repl.PromoteToPrimary()
		return Result{Reply: resp.EncodeSimpleString("OK")}
	}
	return errResult(rediserr.Syntax("REPLICAOF only supports 'NO ONE' on a running server"))
}

// infoReplication renders the bulk string INFO replication reply exactly
// as spec.md §6 lays it out.
func (e *Engine) infoReplication() string {
	var b strings.Builder
	b.WriteString("# Replication\n")
	if e.repl.IsReplica() {
		b.WriteString("role:slave\n")
	} else {
		b.WriteString("role:master\n")
		b.WriteString("connected_slaves:" + strconv.Itoa(e.repl.FollowerCount()) + "\n")
	}
	b.WriteString("master_replid:" + e.repl.ReplID() + "\n")
	b.WriteString("master_repl_offset:" + strconv.FormatInt(e.repl.Offset(), 10) + "\n")
	b.WriteString("second_repl_offset:-1\n")
	b.WriteString("repl_backlog_active:0\n")
	b.WriteString("repl_backlog_size:1048576\n")
	b.WriteString("repl_backlog_first_byte_offset:0\n")
	b.WriteString("repl_backlog_histlen:0\n")
	return b.String()
}

// canonicalMinimalSnapshot is the exact byte sequence spec.md §6 allows a
// primary to send a new follower when it has no persisted RDB file.
var canonicalMinimalSnapshot = mustDecodeHex(
	"524544495330303131fa0972656469732d76657205372e322e30fa0a72656469732d62697473c040fa056374696d65c26d08bc65fa08757365642d6d656dc2b0c41000fa08616f662d62617365c000fff06e3bfec0ff5aa2",
)
