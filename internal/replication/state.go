// Package replication implements the primary/replica state machine of
// spec.md §4.5: the handshake a replica runs against its primary, the
// follower registry and byte-identical fan-out a primary runs for its
// connected replicas, and offset tracking for both sides.
//
// Grounded on the teacher's internal/replication/replication.go for the
// overall shape (a single manager owning both a follower set and a
// connection-to-master), generalized per spec.md's Design Note 1: no
// recursive Replica variant. FollowerHandle is a plain record, never
// another replication State.
package replication

import (
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"rediscore/internal/idgen"
	"rediscore/internal/resp"
)

// Role is which side of the handshake this process plays.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

// FollowerHandle is one connection a primary streams writes to. It is a
// plain record, not a nested replication state: a primary's followers are
// never themselves primaries or replicas from this process's point of
// view.
type FollowerHandle struct {
	ID            string
	ListeningPort int

	mu     sync.Mutex
	conn   net.Conn
	queue  chan []byte
	closed bool
}

func newFollowerHandle(id string, port int, conn net.Conn) *FollowerHandle {
	f := &FollowerHandle{
		ID:            id,
		ListeningPort: port,
		conn:          conn,
		queue:         make(chan []byte, 1024),
	}
	go f.drain()
	return f
}

// drain is the follower's dedicated writer goroutine: it serializes writes
// to conn so that concurrent enqueues from Propagate never interleave
// bytes, and lets a slow follower's backlog grow independently of others.
func (f *FollowerHandle) drain() {
	for frame := range f.queue {
		f.mu.Lock()
		closed := f.closed
		f.mu.Unlock()
		if closed {
			continue
		}
		if _, err := f.conn.Write(frame); err != nil {
			f.mu.Lock()
			f.closed = true
			f.mu.Unlock()
		}
	}
}

// enqueue offers frame to the follower's queue without blocking the caller.
// A follower whose queue is full is treated as failed and evicted by the
// caller (State.Propagate), per spec.md §4.4 ("a follower whose write fails
// is evicted").
func (f *FollowerHandle) enqueue(frame []byte) bool {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return false
	}
	select {
	case f.queue <- frame:
		return true
	default:
		return false
	}
}

func (f *FollowerHandle) evict() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
}

// State is a server process's replication role and data, modeled as a sum
// type in spirit (spec.md Design Note 1): only the fields belonging to the
// active Role are meaningful.
type State struct {
	log *logrus.Logger

	mu     sync.RWMutex
	role   Role
	replID string
	offset int64

	// Primary fields.
	followers map[string]*FollowerHandle

	// Replica fields: set by ReplicaOf / updated by the link loop.
	masterHost string
	masterPort int
}

// NewPrimary returns a State acting as a primary with a fresh replication
// ID and an empty follower set.
func NewPrimary(log *logrus.Logger) *State {
	return &State{
		log:       log,
		role:      RolePrimary,
		replID:    idgen.NewReplicationID(),
		followers: make(map[string]*FollowerHandle),
	}
}

// NewReplicaOf returns a State acting as a replica of host:port. Its
// replID and offset are populated once the handshake's FULLRESYNC reply is
// received (see Link.Run).
func NewReplicaOf(log *logrus.Logger, host string, port int) *State {
	return &State{
		log:        log,
		role:       RoleReplica,
		masterHost: host,
		masterPort: port,
		followers:  make(map[string]*FollowerHandle),
	}
}

func (s *State) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

func (s *State) IsReplica() bool { return s.Role() == RoleReplica }

func (s *State) ReplID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.replID
}

func (s *State) Offset() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

func (s *State) MasterAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("%s:%d", s.masterHost, s.masterPort)
}

// RegisterFollower records a new follower after a successful PSYNC
// handshake (spec.md §4.5: "then register the connection in the follower
// set keyed by listening-port advertised earlier").
func (s *State) RegisterFollower(conn net.Conn, listeningPort int) *FollowerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprint(listeningPort)
	if old, ok := s.followers[id]; ok {
		old.evict()
	}
	handle := newFollowerHandle(id, listeningPort, conn)
	s.followers[id] = handle
	return handle
}

// UnregisterFollower destroys a follower registration, e.g. once its
// connection task observes a write failure.
func (s *State) UnregisterFollower(id string) {
	s.mu.Lock()
	handle, ok := s.followers[id]
	delete(s.followers, id)
	s.mu.Unlock()
	if ok {
		handle.evict()
	}
}

// FollowerCount reports the number of currently registered followers, for
// INFO replication's connected_slaves field.
func (s *State) FollowerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.followers)
}

// Propagate fans the exact bytes of frame out to every registered
// follower and advances the primary's replication offset by its length
// (spec.md §4.4, Testable Property 5/6). Fan-out is best-effort: a
// follower whose queue is saturated is evicted rather than allowed to
// block the caller.
func (s *State) Propagate(frame []byte) {
	s.mu.Lock()
	s.offset += int64(len(frame))
	handles := make([]*FollowerHandle, 0, len(s.followers))
	for _, h := range s.followers {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		if !h.enqueue(frame) {
			s.log.WithField("follower", h.ID).Warn("evicting follower with saturated write queue")
			s.UnregisterFollower(h.ID)
		}
	}
}

// PromoteToPrimary switches a replica back to acting as a primary in
// response to REPLICAOF NO ONE, generating a fresh replication id (a
// promoted replica is a distinct replication history from its old
// primary's). The follower set starts empty.
func (s *State) PromoteToPrimary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = RolePrimary
	s.replID = idgen.NewReplicationID()
	s.offset = 0
	s.masterHost = ""
	s.masterPort = 0
}

// EncodeFullResync renders the "+FULLRESYNC <id> <offset>\r\n" reply a
// primary sends in response to PSYNC ? -1.
func (s *State) EncodeFullResync() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resp.Encode(resp.NewSimpleString(fmt.Sprintf("FULLRESYNC %s %d", s.replID, s.offset)))
}
