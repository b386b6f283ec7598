package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/dealer-support/internal/domain"
	"github.com/spec-kit/dealer-support/internal/observability"
	apperrors "github.com/spec-kit/dealer-support/pkg/util"
)

// Verifier resolves a credential token to the identity behind it.
type Verifier interface {
	Verify(token string) (domain.Identity, error)
}

// Registry tracks every live connection and its room memberships. A single
// coarse lock guards the membership state; all operations touch at most the
// members of one room.
type Registry struct {
	mu       sync.Mutex
	conns    map[string]*Connection
	verifier Verifier
	bufSize  int
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewRegistry builds a registry with explicit lifecycle: created at process
// start, torn down at shutdown via CloseAll.
func NewRegistry(verifier Verifier, bufSize int, logger *zap.Logger, metrics *observability.Metrics) *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		verifier: verifier,
		bufSize:  bufSize,
		logger:   logger,
		metrics:  metrics,
	}
}

// Register verifies the credential token and allocates a connection with an
// empty room set. A bad token fails with Unauthorized and nothing is stored.
func (r *Registry) Register(sink Sink, token string) (*Connection, error) {
	identity, err := r.verifier.Verify(token)
	if err != nil {
		return nil, apperrors.NewUnauthorized("invalid credential token")
	}

	conn := newConnection(uuid.NewString(), identity, sink, r.bufSize)

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	r.metrics.ConnectionOpened()
	r.logger.Info("connection registered",
		zap.String("connection_id", conn.ID),
		zap.String("identity", identity.ID),
		zap.Bool("is_staff", identity.IsStaff))
	return conn, nil
}

// JoinRoom adds roomID to the connection's room set. Idempotent. Fails with
// NotFound if the connection raced with a disconnect, and Forbidden if the
// identity is not entitled to the room.
func (r *Registry) JoinRoom(connectionID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return apperrors.NewNotFound("connection", map[string]any{"connection_id": connectionID})
	}
	if !canJoin(conn.Identity, roomID) {
		return apperrors.NewForbidden("not entitled to room " + roomID)
	}
	conn.rooms[roomID] = struct{}{}
	return nil
}

// LeaveRoom removes roomID from the connection's room set. Idempotent.
func (r *Registry) LeaveRoom(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connectionID]; ok {
		delete(conn.rooms, roomID)
	}
}

// Unregister removes the connection and all its memberships atomically. No
// broadcast reaches the connection afterward.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	conn, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	conn.close()
	r.metrics.ConnectionClosed()
	r.logger.Info("connection unregistered", zap.String("connection_id", connectionID))
}

// MembersOf snapshots the connections currently joined to roomID. The
// snapshot is taken under the same lock as removal, so it never contains a
// concurrently unregistered connection.
func (r *Registry) MembersOf(roomID string) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var members []*Connection
	for _, conn := range r.conns {
		if _, joined := conn.rooms[roomID]; joined {
			members = append(members, conn)
		}
	}
	return members
}

// InRoom reports whether the connection currently holds the membership.
func (r *Registry) InRoom(connectionID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connectionID]
	if !ok {
		return false
	}
	_, joined := conn.rooms[roomID]
	return joined
}

// CloseAll tears down every live connection; called at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	r.conns = make(map[string]*Connection)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.close()
		r.metrics.ConnectionClosed()
	}
}

// canJoin is the room authorization rule: a customer may only join their own
// chat room; staff may join the staff room and any customer chat room.
func canJoin(identity domain.Identity, roomID string) bool {
	if identity.IsStaff {
		return roomID == domain.StaffRoom || domain.IsChatRoom(roomID)
	}
	return roomID == domain.ChatRoom(identity.ID)
}
