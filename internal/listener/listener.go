// Package listener runs the accept loop: one task per connection, each
// owning its reader half and feeding decoded frames to the command engine
// (spec.md §5, "Scheduling model").
//
// Grounded on the teacher's internal/server/redis_server.go (accept loop,
// per-connection goroutine, sync.Map of live connections, graceful
// shutdown with a bounded wait), rewritten around this server's simpler
// per-connection protocol: decode frames off a growing buffer instead of
// the teacher's bufio.Reader-based pipeline executor.
package listener

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"rediscore/internal/config"
	"rediscore/internal/engine"
	"rediscore/internal/metrics"
	"rediscore/internal/rediserr"
	"rediscore/internal/resp"
)

// Listener owns the TCP accept loop and the set of live connection tasks.
type Listener struct {
	cfg     *config.Config
	eng     *engine.Engine
	metrics *metrics.Metrics
	log     *logrus.Logger

	ln            net.Listener
	connections   sync.Map // int64 -> net.Conn
	connIDCounter atomic.Int64

	wg sync.WaitGroup

	mu           sync.Mutex
	shuttingDown bool
}

// New builds a Listener. Call Run to start accepting.
func New(cfg *config.Config, eng *engine.Engine, m *metrics.Metrics, log *logrus.Logger) *Listener {
	return &Listener{cfg: cfg, eng: eng, metrics: m, log: log}
}

// Run binds the configured host:port and accepts connections until ctx is
// cancelled or the listener is closed by Shutdown. It blocks.
func (l *Listener) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.cfg.Host, l.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	l.ln = ln
	l.log.WithField("addr", addr).Info("listening")

	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			down := l.shuttingDown
			l.mu.Unlock()
			if down {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			l.log.WithError(err).Warn("accept failed")
			continue
		}

		id := l.connIDCounter.Add(1)
		l.connections.Store(id, conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			defer l.connections.Delete(id)
			l.handleConnection(conn)
		}()
	}
}

// Shutdown closes the listener and every live connection, then waits up to
// timeout for their tasks to finish.
func (l *Listener) Shutdown(timeout time.Duration) {
	l.mu.Lock()
	if l.shuttingDown {
		l.mu.Unlock()
		return
	}
	l.shuttingDown = true
	l.mu.Unlock()

	if l.ln != nil {
		l.ln.Close()
	}
	l.connections.Range(func(_, v interface{}) bool {
		if conn, ok := v.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.log.Info("all connections closed gracefully")
	case <-time.After(timeout):
		l.log.Warn("shutdown timeout reached, forcing exit")
	}
}

// handleConnection owns one accepted connection's read loop. It decodes
// frames off a growing buffer, dispatches each through the engine, and
// writes the reply, applying the idle-read timeout after the first request
// (spec.md §5, "Timeouts").
func (l *Listener) handleConnection(conn net.Conn) {
	closeConn := true
	defer func() {
		if closeConn {
			conn.Close()
		}
	}()

	if l.metrics != nil {
		l.metrics.ConnectedClients.Inc()
		defer l.metrics.ConnectedClients.Dec()
	}

	sess := &engine.Session{}
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	firstRequestSeen := false

	for {
		frame, consumed, err := tryDecode(buf)
		if err != nil {
			if err != resp.ErrIncomplete {
				conn.Write(resp.EncodeError(rediserr.Protocol(err.Error()).RESPMessage()))
				return
			}
		} else {
			buf = buf[consumed:]
			args, ok := frame.Command()
			if !ok {
				conn.Write(resp.EncodeError("ERR Protocol error: expected command array"))
				continue
			}

			res := l.eng.Execute(args, sess, conn)
			firstRequestSeen = true
			if res.Reply != nil {
				if _, err := conn.Write(res.Reply); err != nil {
					return
				}
			}
			if res.BecameFollower {
				// The connection is now owned by the follower's writer
				// goroutine in the replication package; don't close it out
				// from under a registered follower.
				closeConn = false
				return
			}
			continue
		}

		if firstRequestSeen && l.cfg.ClientIdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(l.cfg.ClientIdleTimeout))
		}

		n, err := conn.Read(tmp)
		if err != nil {
			return
		}
		buf = append(buf, tmp[:n]...)
	}
}

func tryDecode(buf []byte) (resp.Frame, int, error) {
	if len(buf) == 0 {
		return resp.Frame{}, 0, resp.ErrIncomplete
	}
	return resp.Decode(buf)
}
